// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package eventsync

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iotexproject/iotex-channel-service/chainclient"
	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/pkg/lifecycle"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
	"github.com/iotexproject/iotex-channel-service/pkg/routine"
)

var (
	// ErrCausalOrder is returned by consumers for events that cannot follow the applied
	// history. It means confirmed ordering was broken upstream and halts the engine.
	ErrCausalOrder = errors.New("event out of causal order")
	// ErrHalted is returned by Tick after a fatal error
	ErrHalted = errors.New("event sync halted")

	_syncHeightMtc = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "channel_service_sync_height",
		Help: "Last confirmed block applied by the event sync.",
	})
	_syncReorgMtc = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "channel_service_sync_reorg",
		Help: "1 while the event sync waits for a reorganized block to confirm.",
	})
	_syncLogsMtc = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_service_sync_logs",
		Help: "Logs seen by the event sync, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(_syncHeightMtc)
	prometheus.MustRegister(_syncReorgMtc)
	prometheus.MustRegister(_syncLogsMtc)
}

type (
	// Cursor is the last confirmed block a consumer has applied
	Cursor struct {
		Height uint64
		Hash   common.Hash
	}

	// Consumer applies confirmed events. ApplyEvents receives the events above the
	// consumer's own cursor, in order, and must persist them together with cursor.
	Consumer interface {
		Name() string
		Cursor() Cursor
		ApplyEvents(ctx context.Context, cursor Cursor, events []chainevent.Event) error
	}

	// Option is the option of Engine
	Option func(*Engine)

	// Engine polls the chain, delays by the confirmation depth and feeds ordered
	// events to its consumers. One goroutine runs the ticks.
	Engine struct {
		lifecycle.Readiness
		cfg       Config
		client    chainclient.Client
		decoder   *chainevent.Decoder
		consumers []Consumer
		clock     clock.Clock
		onFatal   func(error)
		knownFn   func() []common.Address
		task      *routine.RecurringTask
		tickMu    sync.Mutex
		mu        sync.RWMutex
		cursor    Cursor
		known     map[common.Address]struct{}
		reorg     *reorgState
		halted    error
		logger    *zap.Logger
		// recent remembers the synced blocks above historyBase that carried events, and
		// the last block of every synced range. Heights above historyBase missing from it
		// had no accepted events. Only the tick goroutine touches both.
		recent      map[uint64]*blockRecord
		historyBase uint64
	}

	reorgState struct {
		height       uint64
		hash         common.Hash
		observedHead uint64
	}

	blockRecord struct {
		hash common.Hash
		// applied holds the log ids of the events delivered from this block
		applied []common.Hash
	}
)

// WithClock sets the clock the poll loop ticks on
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithFatalHandler sets what happens on a fatal error, log.L().Fatal by default
func WithFatalHandler(f func(error)) Option {
	return func(e *Engine) {
		e.onFatal = f
	}
}

// WithKnownTokenNetworks seeds the token networks whose logs are accepted
func WithKnownTokenNetworks(f func() []common.Address) Option {
	return func(e *Engine) {
		e.knownFn = f
	}
}

// NewEngine creates an engine
func NewEngine(cfg Config, client chainclient.Client, decoder *chainevent.Decoder, consumers []Consumer, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		client:    client,
		decoder:   decoder,
		consumers: consumers,
		clock:     clock.New(),
		onFatal: func(err error) {
			log.L().Fatal("Event sync hit a fatal error.", zap.Error(err))
		},
		known:  make(map[common.Address]struct{}),
		recent: make(map[uint64]*blockRecord),
		logger: log.Logger("eventsync"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start loads the cursor from the consumers and starts polling
func (e *Engine) Start(ctx context.Context) error {
	if len(e.consumers) == 0 {
		return errors.New("event sync has no consumer")
	}
	e.mu.Lock()
	e.cursor = e.consumersCursor()
	e.historyBase = e.cursor.Height
	if e.cursor.Hash != (common.Hash{}) {
		e.block(e.cursor.Height).hash = e.cursor.Hash
	}
	if e.knownFn != nil {
		for _, addr := range e.knownFn() {
			e.known[addr] = struct{}{}
		}
	}
	e.mu.Unlock()
	_syncHeightMtc.Set(float64(e.cursor.Height))
	e.logger.Info("Event sync starts.", zap.Uint64("height", e.cursor.Height), zap.Stringer("hash", e.cursor.Hash))

	e.task = routine.NewRecurringTask(func() {
		if err := e.Tick(context.Background()); err != nil && !errors.Is(err, ErrHalted) {
			e.logger.Warn("Event sync tick failed.", zap.Error(err))
		}
	}, e.cfg.PollInterval, routine.WithClock(e.clock), routine.RunImmediately())
	return e.task.Start(ctx)
}

// Stop stops polling and waits for a running tick
func (e *Engine) Stop(ctx context.Context) error {
	if e.task == nil {
		return nil
	}
	return e.task.Stop(ctx)
}

// Cursor returns the last confirmed block every consumer has applied
func (e *Engine) Cursor() Cursor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor
}

// Reorged reports whether the engine waits for a reorganized block to confirm
func (e *Engine) Reorged() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reorg != nil
}

// consumersCursor is the lowest consumer cursor, raised to just below the start block
func (e *Engine) consumersCursor() Cursor {
	c := e.consumers[0].Cursor()
	for _, consumer := range e.consumers[1:] {
		if cc := consumer.Cursor(); cc.Height < c.Height {
			c = cc
		}
	}
	if e.cfg.StartBlock > 0 && c.Height < e.cfg.StartBlock-1 {
		c = Cursor{Height: e.cfg.StartBlock - 1}
	}
	return c
}

// Tick runs one poll. It never runs concurrently with itself.
func (e *Engine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if e.halted != nil {
		return errors.Wrap(ErrHalted, e.halted.Error())
	}
	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get head")
	}
	ok, err := e.checkReorg(ctx, head)
	if err != nil || !ok {
		return err
	}
	if head < e.cfg.ConfirmationDepth {
		return nil
	}
	target := head - e.cfg.ConfirmationDepth
	cursor := e.Cursor()
	for from := cursor.Height + 1; from <= target; {
		to := from + e.cfg.MaxBlockRange - 1
		if to > target || to < from {
			to = target
		}
		if err := e.syncRange(ctx, from, to); err != nil {
			return err
		}
		from = to + 1
	}
	if !e.IsReady() && e.Cursor().Height >= target {
		if err := e.TurnOn(); err == nil {
			e.logger.Info("Event sync caught up.", zap.Uint64("height", target))
		}
	}
	return nil
}

// checkReorg verifies the cursor block is still canonical. It returns false while a
// replacement block has not been buried by the confirmation depth.
func (e *Engine) checkReorg(ctx context.Context, head uint64) (bool, error) {
	cursor := e.Cursor()
	if cursor.Hash == (common.Hash{}) {
		return true, nil
	}
	header, err := e.client.HeaderByNumber(ctx, new(big.Int).SetUint64(cursor.Height))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			// the chain is shorter than our cursor, it is being reorganized
			e.markReorg(cursor.Height, common.Hash{}, head)
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to get header %d", cursor.Height)
	}
	hash := header.Hash()
	if hash == cursor.Hash {
		e.clearReorg()
		return true, nil
	}
	e.mu.RLock()
	rs := e.reorg
	e.mu.RUnlock()
	if rs == nil || rs.hash != hash {
		e.markReorg(cursor.Height, hash, head)
		return false, nil
	}
	if head < rs.observedHead+e.cfg.ConfirmationDepth {
		return false, nil
	}
	// the replacement blocks are final now, apply what they carry that the old ones did not
	fork, err := e.forkHeight(ctx, cursor.Height)
	if err != nil {
		return false, err
	}
	events, ids, err := e.fetch(ctx, fork, cursor.Height)
	if err != nil {
		return false, err
	}
	applied := make(map[common.Hash]int)
	for h := fork; h <= cursor.Height; h++ {
		if r, ok := e.recent[h]; ok {
			for _, id := range r.applied {
				applied[id]++
			}
		}
	}
	missed := make([]chainevent.Event, 0, len(events))
	for _, ev := range events {
		if id := ids[ev]; applied[id] > 0 {
			applied[id]--
			continue
		}
		missed = append(missed, ev)
	}
	adopted := Cursor{Height: cursor.Height, Hash: hash}
	for _, consumer := range e.consumers {
		own := consumer.Cursor()
		if own == adopted {
			continue
		}
		if own.Height != adopted.Height {
			e.logger.Warn("Consumer is past the reorganized block, replacement events not delivered.",
				zap.String("consumer", consumer.Name()),
				zap.Uint64("height", own.Height))
			continue
		}
		if err := consumer.ApplyEvents(ctx, adopted, missed); err != nil {
			return false, e.consumerError(consumer, err)
		}
	}
	for h := fork; h <= cursor.Height; h++ {
		delete(e.recent, h)
	}
	e.remember(events, ids, adopted.Height, adopted.Hash)
	e.mu.Lock()
	e.cursor = adopted
	e.reorg = nil
	e.mu.Unlock()
	_syncReorgMtc.Set(0)
	e.logger.Warn("Adopted reorganized blocks.",
		zap.Uint64("fork", fork),
		zap.Uint64("height", adopted.Height),
		zap.Stringer("hash", adopted.Hash),
		zap.Int("replayed", len(missed)))
	return true, nil
}

// forkHeight returns the lowest block up to height that is no longer canonical. It
// compares the remembered blocks top down and cannot go below the remembered history.
func (e *Engine) forkHeight(ctx context.Context, height uint64) (uint64, error) {
	heights := make([]uint64, 0, len(e.recent))
	for h, r := range e.recent {
		if h < height && r.hash != (common.Hash{}) {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] > heights[j] })
	for _, h := range heights {
		header, err := e.client.HeaderByNumber(ctx, new(big.Int).SetUint64(h))
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return 0, errors.Wrapf(err, "failed to get header %d", h)
		}
		if err == nil && header.Hash() == e.recent[h].hash {
			return h + 1, nil
		}
	}
	fork := e.historyBase + 1
	if fork > height {
		fork = height
	}
	e.logger.Error("Reorganization reaches below the remembered blocks, older events may be missing.",
		zap.Uint64("fork", fork),
		zap.Uint64("height", height))
	return fork, nil
}

func (e *Engine) block(height uint64) *blockRecord {
	r, ok := e.recent[height]
	if !ok {
		r = &blockRecord{}
		e.recent[height] = r
	}
	return r
}

// remember records the delivered events and the hash of the last synced block, and
// forgets blocks that fell out of the reorg window
func (e *Engine) remember(events []chainevent.Event, ids map[chainevent.Event]common.Hash, height uint64, hash common.Hash) {
	for _, ev := range events {
		c := ev.Coordinates()
		r := e.block(c.BlockNumber)
		r.hash = c.BlockHash
		r.applied = append(r.applied, ids[ev])
	}
	e.block(height).hash = hash
	if height > e.cfg.ReorgWindow && height-e.cfg.ReorgWindow > e.historyBase {
		e.historyBase = height - e.cfg.ReorgWindow
		for h := range e.recent {
			if h < e.historyBase {
				delete(e.recent, h)
			}
		}
	}
}

// logID identifies a log by its transaction and content, whichever block includes it
func logID(l *types.Log) common.Hash {
	parts := make([][]byte, 0, len(l.Topics)+3)
	parts = append(parts, l.TxHash.Bytes(), l.Address.Bytes())
	for _, topic := range l.Topics {
		parts = append(parts, topic.Bytes())
	}
	parts = append(parts, l.Data)
	return crypto.Keccak256Hash(parts...)
}

func (e *Engine) markReorg(height uint64, hash common.Hash, head uint64) {
	e.mu.Lock()
	e.reorg = &reorgState{height: height, hash: hash, observedHead: head}
	e.mu.Unlock()
	_syncReorgMtc.Set(1)
	e.logger.Error("Detected reorganization below the confirmed cursor, waiting for the replacement to confirm.",
		zap.Uint64("height", height),
		zap.Stringer("newHash", hash),
		zap.Uint64("head", head))
}

func (e *Engine) clearReorg() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reorg != nil {
		e.reorg = nil
		_syncReorgMtc.Set(0)
	}
}

// fetch returns the accepted events of [from, to] in order, with their log ids
func (e *Engine) fetch(ctx context.Context, from, to uint64) ([]chainevent.Event, map[chainevent.Event]common.Hash, error) {
	logs, err := e.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{e.decoder.Topics()},
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to filter logs in [%d, %d]", from, to)
	}
	events := make([]chainevent.Event, 0, len(logs))
	ids := make(map[chainevent.Event]common.Hash, len(logs))
	for i := range logs {
		if logs[i].Removed {
			_syncLogsMtc.WithLabelValues("removed").Inc()
			continue
		}
		ev, err := e.decoder.Decode(&logs[i])
		if err != nil {
			_syncLogsMtc.WithLabelValues("skipped").Inc()
			e.logger.Warn("Skipped undecodable log.",
				zap.Uint64("block", logs[i].BlockNumber),
				zap.Uint("index", logs[i].Index),
				zap.Error(err))
			continue
		}
		ids[ev] = logID(&logs[i])
		events = append(events, ev)
	}
	chainevent.SortEvents(events)
	return e.accept(events), ids, nil
}

// syncRange applies the confirmed events of [from, to] and moves the cursor to to
func (e *Engine) syncRange(ctx context.Context, from, to uint64) error {
	events, ids, err := e.fetch(ctx, from, to)
	if err != nil {
		return err
	}
	header, err := e.client.HeaderByNumber(ctx, new(big.Int).SetUint64(to))
	if err != nil {
		return errors.Wrapf(err, "failed to get header %d", to)
	}

	cursor := Cursor{Height: to, Hash: header.Hash()}
	for _, consumer := range e.consumers {
		own := consumer.Cursor().Height
		pending := make([]chainevent.Event, 0, len(events))
		for _, ev := range events {
			if ev.Coordinates().BlockNumber > own {
				pending = append(pending, ev)
			}
		}
		if err := consumer.ApplyEvents(ctx, cursor, pending); err != nil {
			return e.consumerError(consumer, err)
		}
	}
	e.remember(events, ids, cursor.Height, cursor.Hash)
	e.mu.Lock()
	if cursor.Height >= e.cursor.Height {
		e.cursor = cursor
	}
	e.mu.Unlock()
	_syncHeightMtc.Set(float64(cursor.Height))
	e.logger.Debug("Synced blocks.", zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("events", len(events)))
	return nil
}

// accept keeps the events emitted by our contracts. Token networks created earlier
// in the same ordered batch count as known.
func (e *Engine) accept(events []chainevent.Event) []chainevent.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	accepted := events[:0]
	for _, ev := range events {
		addr := ev.Contract()
		ok := false
		switch ev.(type) {
		case *chainevent.TokenNetworkCreated:
			ok = addr == e.cfg.RegistryAddress
		case *chainevent.DepositIncreased, *chainevent.WithdrawPlanned, *chainevent.BalanceReduced:
			ok = addr == e.cfg.UserDepositAddress && addr != (common.Address{})
		case *chainevent.BalanceProofReceived, *chainevent.RewardClaimed:
			ok = addr == e.cfg.MonitoringServiceAddress && addr != (common.Address{})
		case *chainevent.ChannelOpened, *chainevent.ChannelDeposit, *chainevent.ChannelWithdraw,
			*chainevent.TransferSettled, *chainevent.FeeScheduleUpdated, *chainevent.ChannelClosed,
			*chainevent.NonClosingBalanceProofUpdated, *chainevent.ChannelSettled:
			_, ok = e.known[addr]
		}
		if !ok {
			_syncLogsMtc.WithLabelValues("foreign").Inc()
			continue
		}
		if created, isCreated := ev.(*chainevent.TokenNetworkCreated); isCreated {
			e.known[created.TokenNetwork] = struct{}{}
		}
		_syncLogsMtc.WithLabelValues("applied").Inc()
		accepted = append(accepted, ev)
	}
	return accepted
}

func (e *Engine) consumerError(consumer Consumer, err error) error {
	err = errors.Wrapf(err, "consumer %s failed", consumer.Name())
	if errors.Is(err, ErrCausalOrder) {
		e.halted = err
		e.onFatal(err)
		return errors.Wrap(ErrHalted, err.Error())
	}
	return err
}
