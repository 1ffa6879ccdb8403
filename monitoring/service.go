// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package monitoring

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iotexproject/iotex-channel-service/chainclient"
	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/db/batch"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
)

const (
	_metaNS    = "monitorMeta"
	_requestNS = "monitorRequest"
	_archiveNS = "monitorArchive"
)

var (
	// ErrInvalidRequest indicates a monitor request failing validation
	ErrInvalidRequest = errors.New("invalid monitor request")
	// ErrNotFound indicates an unknown channel or request
	ErrNotFound = errors.New("not found")

	_cursorKey = []byte("cursor")

	_requestsMtc = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channel_service_monitor_requests",
			Help: "Monitor requests held in memory by state.",
		},
		[]string{"state"},
	)
	_txMtc = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_service_monitor_transactions",
			Help: "Monitoring transactions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(_requestsMtc)
	prometheus.MustRegister(_txMtc)
}

type (
	// GraphSource provides the latest channel graph
	GraphSource interface {
		Snapshot() *graph.Snapshot
	}

	// TxSender signs and broadcasts operator transactions
	TxSender interface {
		Address() common.Address
		ChainID() *big.Int
		SuggestGasPrice(context.Context) (*big.Int, error)
		BuildTx(ctx context.Context, to common.Address, data []byte, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, error)
		Send(context.Context, *types.Transaction) error
		Receipt(context.Context, common.Hash) (*types.Receipt, error)
		Reserve(*types.Transaction)
		Release(*types.Transaction)
	}

	// Service watches channels on behalf of absent participants and submits their
	// latest balance proof when a partner closes with an older one. Each channel is
	// submitted for at most once, across restarts.
	Service struct {
		cfg    Config
		kv     db.KVStore
		graph  GraphSource
		sender TxSender
		locks  *channelLocks
		// applyMu serializes event application
		applyMu   sync.Mutex
		mu        sync.RWMutex
		cursor    eventsync.Cursor
		requests  map[RequestKey]*MonitorRequest
		byChannel map[ChannelKey]map[RequestKey]struct{}
		logger    *zap.Logger
	}
)

// NewService creates a monitoring service
func NewService(cfg Config, kv db.KVStore, graphSource GraphSource, sender TxSender) *Service {
	return &Service{
		cfg:       cfg,
		kv:        kv,
		graph:     graphSource,
		sender:    sender,
		locks:     newChannelLocks(),
		requests:  make(map[RequestKey]*MonitorRequest),
		byChannel: make(map[ChannelKey]map[RequestKey]struct{}),
		logger:    log.Logger("monitoring"),
	}
}

// Name implements eventsync.Consumer
func (s *Service) Name() string { return "monitoring" }

// Start loads the cursor and the requests that still need work
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.kv.Get(_metaNS, _cursorKey)
	switch {
	case err == nil:
		var rec cursorRecord
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			return errors.Wrap(err, "failed to decode monitoring cursor")
		}
		s.cursor = eventsync.Cursor{Height: rec.Height, Hash: rec.Hash}
	case errors.Is(err, db.ErrNotExist):
	default:
		return errors.Wrap(err, "failed to load monitoring cursor")
	}
	for _, ns := range []string{_requestNS, _archiveNS} {
		if err := s.kv.ForEach(ns, func(_, v []byte) error {
			r, err := decodeRequest(v)
			if err != nil {
				return err
			}
			if !finished(r) {
				s.index(r)
				// persisted transactions keep their nonces while they may still be broadcast
				switch r.State {
				case StateSubmitted:
					s.reserveTx(&r.Submission)
				case StateDone:
					s.reserveTx(&r.Claim)
				}
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "failed to load %s", ns)
		}
	}
	s.updateMetrics()
	s.logger.Info("Loaded monitor requests.", zap.Uint64("height", s.cursor.Height), zap.Int("requests", len(s.requests)))
	return nil
}

// Stop implements lifecycle.Stopper
func (s *Service) Stop(_ context.Context) error { return nil }

// Cursor implements eventsync.Consumer
func (s *Service) Cursor() eventsync.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// finished reports whether a request needs neither monitoring nor a claim
func finished(r *MonitorRequest) bool {
	if !r.Archived {
		return false
	}
	return !r.Acknowledged || r.RewardClaimed || r.Claim.Failed
}

// index must be called with mu held
func (s *Service) index(r *MonitorRequest) {
	key := r.Key()
	s.requests[key] = r
	ck := r.Channel()
	if s.byChannel[ck] == nil {
		s.byChannel[ck] = make(map[RequestKey]struct{})
	}
	s.byChannel[ck][key] = struct{}{}
}

// unindex must be called with mu held
func (s *Service) unindex(r *MonitorRequest) {
	key := r.Key()
	delete(s.requests, key)
	ck := r.Channel()
	delete(s.byChannel[ck], key)
	if len(s.byChannel[ck]) == 0 {
		delete(s.byChannel, ck)
	}
}

func (s *Service) get(key RequestKey) *MonitorRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[key]
	if !ok {
		return nil
	}
	return r.Clone()
}

func (s *Service) channelRequests(ck ChannelKey) []*MonitorRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*MonitorRequest, 0, len(s.byChannel[ck]))
	for key := range s.byChannel[ck] {
		ret = append(ret, s.requests[key].Clone())
	}
	sortRequests(ret)
	return ret
}

func sortRequests(rs []*MonitorRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if c := bytes.Compare(rs[i].TokenNetwork().Bytes(), rs[j].TokenNetwork().Bytes()); c != 0 {
			return c < 0
		}
		if c := rs[i].ChannelID().Cmp(rs[j].ChannelID()); c != 0 {
			return c < 0
		}
		return bytes.Compare(rs[i].NonClosingParticipant.Bytes(), rs[j].NonClosingParticipant.Bytes()) < 0
	})
}

// stage adds the request to b in the namespace matching its archive state
func stage(b batch.KVStoreBatch, r *MonitorRequest) error {
	value, err := encodeRequest(r)
	if err != nil {
		return err
	}
	key := r.dbKey()
	if r.Archived {
		b.Put(_archiveNS, key, value, "failed to archive monitor request")
		b.Delete(_requestNS, key, "failed to delete monitor request")
		return nil
	}
	b.Put(_requestNS, key, value, "failed to put monitor request")
	return nil
}

// commit publishes persisted requests
func (s *Service) commit(rs ...*MonitorRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		if finished(r) {
			s.unindex(r)
			continue
		}
		s.index(r)
	}
	s.updateMetrics()
}

// persist writes and publishes one request
func (s *Service) persist(r *MonitorRequest) error {
	b := batch.NewBatch()
	if err := stage(b, r); err != nil {
		return err
	}
	if err := s.kv.WriteBatch(b); err != nil {
		return errors.Wrap(err, "failed to persist monitor request")
	}
	s.commit(r)
	return nil
}

// updateMetrics must be called with mu held
func (s *Service) updateMetrics() {
	counts := make(map[State]int)
	for _, r := range s.requests {
		counts[r.State]++
	}
	for st := StateIdle; st <= StateFailed; st++ {
		_requestsMtc.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

// Request returns the requests of a channel, archived ones included
func (s *Service) Request(tokenNetwork common.Address, channelID *big.Int) ([]*MonitorRequest, error) {
	if channelID == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "channel id is required")
	}
	ck := channelKeyOf(tokenNetwork, channelID)
	ret := s.channelRequests(ck)
	seen := make(map[RequestKey]bool, len(ret))
	for _, r := range ret {
		seen[r.Key()] = true
	}
	if err := s.kv.ForEachPrefix(_archiveNS, channelPrefix(tokenNetwork, channelID), func(_, v []byte) error {
		r, err := decodeRequest(v)
		if err != nil {
			return err
		}
		if !seen[r.Key()] {
			ret = append(ret, r)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "no monitor request for channel %s in %s", channelID, tokenNetwork.Hex())
	}
	sortRequests(ret)
	return ret, nil
}

// Requests returns the requests that still need work
func (s *Service) Requests() []*MonitorRequest {
	s.mu.RLock()
	ret := make([]*MonitorRequest, 0, len(s.requests))
	for _, r := range s.requests {
		ret = append(ret, r.Clone())
	}
	s.mu.RUnlock()
	sortRequests(ret)
	return ret
}

// RegisterRequest validates a request against the latest graph and arms it. A request
// with a newer balance proof replaces an armed one, an older or equal one is rejected.
func (s *Service) RegisterRequest(_ context.Context, req *MonitorRequest) error {
	if err := s.validate(req); err != nil {
		return err
	}
	bp := &req.BalanceProof
	// the graph snapshot is read under the channel lock so a close seen by ApplyEvents
	// either rejects this request or finds it armed
	unlock := s.locks.lock(channelKeyOf(bp.TokenNetwork, bp.ChannelID))
	defer unlock()
	snap := s.graph.Snapshot()
	c, ok := snap.Channel(bp.TokenNetwork, bp.ChannelID)
	if !ok {
		return errors.Wrapf(ErrNotFound, "channel %s in %s", bp.ChannelID, bp.TokenNetwork.Hex())
	}
	if c.Status != graph.StatusOpened {
		return errors.Wrapf(ErrInvalidRequest, "channel %s is %s", bp.ChannelID, c.Status)
	}
	partner, ok := c.Partner(req.NonClosingParticipant)
	if !ok {
		return errors.Wrapf(ErrInvalidRequest, "%s is not a participant", req.NonClosingParticipant.Hex())
	}
	if err := s.verifySignatures(req, partner); err != nil {
		return err
	}
	if req.RewardAmount.Cmp(new(big.Int).SetUint64(s.cfg.MinReward)) < 0 {
		return errors.Wrapf(ErrInvalidRequest, "reward %s is below %d", req.RewardAmount, s.cfg.MinReward)
	}
	if snap.EffectiveBalance(req.NonClosingParticipant).Cmp(req.RewardAmount) < 0 {
		return errors.Wrap(ErrInvalidRequest, "user deposit does not cover the reward")
	}

	r := &MonitorRequest{
		BalanceProof:          bp.clone(),
		NonClosingParticipant: req.NonClosingParticipant,
		NonClosingSignature:   copyBytes(req.NonClosingSignature),
		RewardAmount:          copyInt(req.RewardAmount),
		RewardProofSignature:  copyBytes(req.RewardProofSignature),
		ClosingParticipant:    partner,
		SettleTimeout:         c.SettleTimeout,
		State:                 StateArmed,
	}
	if existing := s.get(r.Key()); existing != nil {
		if existing.State != StateArmed {
			return errors.Wrapf(ErrInvalidRequest, "channel %s is already %s", bp.ChannelID, existing.State)
		}
		if bp.Nonce.Cmp(existing.BalanceProof.Nonce) <= 0 {
			return errors.Wrapf(ErrInvalidRequest, "nonce %s is not newer than %s", bp.Nonce, existing.BalanceProof.Nonce)
		}
	}
	if err := s.persist(r); err != nil {
		return err
	}
	s.logger.Info("Armed monitor request.",
		zap.String("tokenNetwork", bp.TokenNetwork.Hex()),
		zap.Stringer("channel", bp.ChannelID),
		zap.String("participant", req.NonClosingParticipant.Hex()),
		zap.Stringer("nonce", bp.Nonce))
	return nil
}

func (bp *BalanceProof) clone() BalanceProof {
	return BalanceProof{
		ChainID:           copyInt(bp.ChainID),
		TokenNetwork:      bp.TokenNetwork,
		ChannelID:         copyInt(bp.ChannelID),
		Nonce:             copyInt(bp.Nonce),
		TransferredAmount: copyInt(orZero(bp.TransferredAmount)),
		LockedAmount:      copyInt(orZero(bp.LockedAmount)),
		Locksroot:         bp.Locksroot,
		AdditionalHash:    bp.AdditionalHash,
		Signature:         copyBytes(bp.Signature),
	}
}

func (s *Service) validate(req *MonitorRequest) error {
	if req == nil {
		return errors.Wrap(ErrInvalidRequest, "request is empty")
	}
	bp := &req.BalanceProof
	switch {
	case bp.ChainID == nil || bp.ChannelID == nil || bp.Nonce == nil:
		return errors.Wrap(ErrInvalidRequest, "chain id, channel id and nonce are required")
	case bp.TokenNetwork == (common.Address{}) || req.NonClosingParticipant == (common.Address{}):
		return errors.Wrap(ErrInvalidRequest, "token network and participant are required")
	case bp.Nonce.Sign() <= 0:
		return errors.Wrap(ErrInvalidRequest, "nonce must be positive")
	case req.RewardAmount == nil || req.RewardAmount.Sign() < 0:
		return errors.Wrap(ErrInvalidRequest, "reward must not be negative")
	case bp.TransferredAmount != nil && bp.TransferredAmount.Sign() < 0,
		bp.LockedAmount != nil && bp.LockedAmount.Sign() < 0:
		return errors.Wrap(ErrInvalidRequest, "amounts must not be negative")
	case bp.ChainID.Cmp(s.sender.ChainID()) != 0:
		return errors.Wrapf(ErrInvalidRequest, "chain id %s does not match %s", bp.ChainID, s.sender.ChainID())
	}
	return nil
}

func (s *Service) verifySignatures(req *MonitorRequest, partner common.Address) error {
	bp := &req.BalanceProof
	signer, err := bp.ClosingSigner()
	if err != nil {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}
	if signer != partner {
		return errors.Wrapf(ErrInvalidRequest, "balance proof is signed by %s, not the partner", signer.Hex())
	}
	signer, err = Recover(bp.updatePacked(), req.NonClosingSignature)
	if err != nil {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}
	if signer != req.NonClosingParticipant {
		return errors.Wrapf(ErrInvalidRequest, "non-closing signature is signed by %s", signer.Hex())
	}
	signer, err = Recover(rewardPacked(s.cfg.ContractAddress, bp.ChainID, req.NonClosingSignature, req.RewardAmount), req.RewardProofSignature)
	if err != nil {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}
	if signer != req.NonClosingParticipant {
		return errors.Wrapf(ErrInvalidRequest, "reward proof is signed by %s", signer.Hex())
	}
	return nil
}

// ApplyEvents applies confirmed channel and monitoring contract events. The changed
// requests and the cursor are written at once, then pending work is processed.
func (s *Service) ApplyEvents(ctx context.Context, cursor eventsync.Cursor, events []chainevent.Event) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if cursor.Height < s.Cursor().Height {
		return nil
	}
	held := make(map[ChannelKey]func())
	release := func() {
		for ck, unlock := range held {
			unlock()
			delete(held, ck)
		}
	}
	defer release()
	changed := make(map[RequestKey]*MonitorRequest)
	var order []RequestKey
	// requestsOf returns the working copies of a channel's requests, locking the channel
	requestsOf := func(tokenNetwork common.Address, id *big.Int) []*MonitorRequest {
		if id == nil {
			return nil
		}
		ck := channelKeyOf(tokenNetwork, id)
		if _, ok := held[ck]; !ok {
			held[ck] = s.locks.lock(ck)
		}
		var ret []*MonitorRequest
		for _, r := range s.channelRequests(ck) {
			if w, ok := changed[r.Key()]; ok {
				r = w
			} else {
				changed[r.Key()] = r
				order = append(order, r.Key())
			}
			ret = append(ret, r)
		}
		return ret
	}

	for _, ev := range events {
		switch e := ev.(type) {
		case *chainevent.ChannelClosed:
			for _, r := range requestsOf(e.Contract(), e.ChannelID) {
				s.onClosed(r, e)
			}
		case *chainevent.NonClosingBalanceProofUpdated:
			for _, r := range requestsOf(e.Contract(), e.ChannelID) {
				if r.State == StateTriggered && orZero(e.Nonce).Cmp(r.BalanceProof.Nonce) >= 0 {
					r.State = StateSkipped
					s.logger.Info("Balance proof already updated.", zap.Stringer("channel", e.ChannelID), zap.Stringer("nonce", e.Nonce))
				}
			}
		case *chainevent.ChannelSettled:
			for _, r := range requestsOf(e.Contract(), e.ChannelID) {
				s.onSettled(r)
			}
		case *chainevent.BalanceProofReceived:
			if e.MonitoringService != s.sender.Address() {
				continue
			}
			for _, r := range requestsOf(e.TokenNetwork, e.ChannelID) {
				if r.NonClosingParticipant == e.NodeAddress && r.Submission.Submitted {
					r.Acknowledged = true
					r.Submission.Mined = true
				}
			}
		case *chainevent.RewardClaimed:
			if e.MonitoringService != s.sender.Address() {
				continue
			}
			for _, r := range requestsOf(e.TokenNetwork, e.ChannelID) {
				if r.Acknowledged {
					r.RewardClaimed = true
					r.Claim.Mined = true
				}
			}
		case *chainevent.TokenNetworkCreated, *chainevent.ChannelOpened, *chainevent.ChannelDeposit,
			*chainevent.ChannelWithdraw, *chainevent.TransferSettled, *chainevent.FeeScheduleUpdated,
			*chainevent.DepositIncreased, *chainevent.WithdrawPlanned, *chainevent.BalanceReduced:
			// the graph owns these
		default:
			return errors.Errorf("unexpected event type %T", ev)
		}
	}

	b := batch.NewBatch()
	rs := make([]*MonitorRequest, 0, len(order))
	for _, key := range order {
		r := changed[key]
		if err := stage(b, r); err != nil {
			return err
		}
		rs = append(rs, r)
	}
	value, err := rlp.EncodeToBytes(&cursorRecord{Height: cursor.Height, Hash: cursor.Hash})
	if err != nil {
		return err
	}
	b.Put(_metaNS, _cursorKey, value, "failed to put monitoring cursor")
	if err := s.kv.WriteBatch(b); err != nil {
		return errors.Wrap(err, "failed to commit monitor requests")
	}
	s.commit(rs...)
	for _, r := range rs {
		if r.Archived {
			s.releaseTx(&r.Submission)
		}
	}
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()
	release()

	if err := s.ProcessPending(ctx, cursor.Height); err != nil {
		// work left is retried on the next block
		s.logger.Warn("Failed to process pending monitor requests.", zap.Uint64("height", cursor.Height), zap.Error(err))
	}
	return nil
}

func (s *Service) onClosed(r *MonitorRequest, e *chainevent.ChannelClosed) {
	if r.State != StateArmed {
		return
	}
	if e.ClosingParticipant == r.NonClosingParticipant {
		r.State = StateSkipped
		return
	}
	block := e.Coordinates().BlockNumber
	r.State = StateTriggered
	r.ClosingParticipant = e.ClosingParticipant
	r.ClosedBlock = block
	r.DeadlineBlock = block + r.SettleTimeout
	r.ClosingNonce = copyInt(orZero(e.Nonce))
	r.ClosingTransferred = copyInt(orZero(e.TransferredAmount))
	s.logger.Info("Channel closed by partner.",
		zap.String("tokenNetwork", r.TokenNetwork().Hex()),
		zap.Stringer("channel", r.ChannelID()),
		zap.Uint64("deadline", r.DeadlineBlock))
}

func (s *Service) onSettled(r *MonitorRequest) {
	switch r.State {
	case StateArmed, StateSubmitted:
		r.State = StateDone
	case StateTriggered:
		r.State = StateExpired
	}
	r.Archived = true
}

// ProcessPending acts on every request that needs on-chain work at height
func (s *Service) ProcessPending(ctx context.Context, height uint64) error {
	var firstErr error
	for _, r := range s.Requests() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.process(ctx, r.Key(), height); err != nil {
			s.logger.Warn("Failed to process monitor request.",
				zap.String("tokenNetwork", r.TokenNetwork().Hex()),
				zap.Stringer("channel", r.ChannelID()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) process(ctx context.Context, key RequestKey, height uint64) error {
	unlock := s.locks.lock(ChannelKey{TokenNetwork: key.TokenNetwork, ChannelID: key.ChannelID})
	defer unlock()
	r := s.get(key)
	if r == nil {
		return nil
	}
	switch {
	case r.State == StateTriggered:
		return s.trigger(ctx, r, height)
	case r.State == StateSubmitted && !r.Submission.Mined:
		return s.follow(ctx, r, &r.Submission, "monitor", height, r.DeadlineBlock)
	case r.State == StateDone && r.Acknowledged && !r.RewardClaimed && !r.Claim.Submitted:
		return s.claim(ctx, r, height)
	case r.State == StateDone && r.Claim.Submitted && !r.Claim.Mined:
		return s.follow(ctx, r, &r.Claim, "claim", height, 0)
	}
	return nil
}

// trigger decides whether to submit the balance proof and submits it at most once
func (s *Service) trigger(ctx context.Context, r *MonitorRequest, height uint64) error {
	if height > r.DeadlineBlock {
		r.State = StateExpired
		s.logger.Warn("Monitor request expired before submission.",
			zap.Stringer("channel", r.ChannelID()),
			zap.Uint64("deadline", r.DeadlineBlock),
			zap.Uint64("height", height))
		return s.persist(r)
	}
	bp := &r.BalanceProof
	if orZero(bp.TransferredAmount).Cmp(orZero(r.ClosingTransferred)) <= 0 || bp.Nonce.Cmp(orZero(r.ClosingNonce)) <= 0 {
		r.State = StateSkipped
		s.logger.Info("Closing balance proof is not older, nothing to submit.", zap.Stringer("channel", r.ChannelID()))
		return s.persist(r)
	}
	if s.graph.Snapshot().EffectiveBalance(r.NonClosingParticipant).Cmp(r.RewardAmount) < 0 {
		s.logger.Info("User deposit does not cover the reward, waiting.", zap.Stringer("channel", r.ChannelID()))
		return nil
	}
	gasPrice, err := s.sender.SuggestGasPrice(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get gas price")
	}
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(s.cfg.MonitorGasLimit))
	if new(big.Int).Sub(r.RewardAmount, cost).Sign() <= 0 {
		s.logger.Info("Reward does not cover the transaction cost, waiting.",
			zap.Stringer("channel", r.ChannelID()),
			zap.Stringer("reward", r.RewardAmount),
			zap.Stringer("cost", cost))
		return nil
	}
	data, err := chainevent.MonitoringServiceABI.Pack("monitor",
		r.ClosingParticipant,
		r.NonClosingParticipant,
		[32]byte(bp.BalanceHash()),
		bp.Nonce,
		[32]byte(bp.AdditionalHash),
		bp.Signature,
		r.NonClosingSignature,
		r.RewardAmount,
		bp.TokenNetwork,
		r.RewardProofSignature,
	)
	if err != nil {
		return errors.Wrap(err, "failed to pack monitor call")
	}
	return s.submit(ctx, r, &r.Submission, StateSubmitted, "monitor", data, s.cfg.MonitorGasLimit, gasPrice, height)
}

// claim submits the reward claim of an acknowledged submission at most once
func (s *Service) claim(ctx context.Context, r *MonitorRequest, height uint64) error {
	gasPrice, err := s.sender.SuggestGasPrice(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get gas price")
	}
	data, err := chainevent.MonitoringServiceABI.Pack("claimReward",
		r.ChannelID(),
		r.TokenNetwork(),
		r.ClosingParticipant,
		r.NonClosingParticipant,
	)
	if err != nil {
		return errors.Wrap(err, "failed to pack claimReward call")
	}
	return s.submit(ctx, r, &r.Claim, r.State, "claim", data, s.cfg.ClaimGasLimit, gasPrice, height)
}

// submit persists the signed transaction before sending it. A send failure is left to
// follow, which only ever rebroadcasts the persisted transaction.
func (s *Service) submit(ctx context.Context, r *MonitorRequest, sub *Submission, next State, kind string, data []byte, gasLimit uint64, gasPrice *big.Int, height uint64) error {
	tx, err := s.sender.BuildTx(ctx, s.cfg.ContractAddress, data, gasLimit, gasPrice)
	if err != nil {
		return errors.Wrapf(err, "failed to build %s transaction", kind)
	}
	raw, err := chainclient.EncodeTx(tx)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s transaction", kind)
	}
	*sub = Submission{
		Submitted: true,
		TxHash:    tx.Hash(),
		RawTx:     raw,
		Block:     height,
	}
	r.State = next
	if err := s.persist(r); err != nil {
		return err
	}
	s.logger.Info("Submitting transaction.",
		zap.String("kind", kind),
		zap.Stringer("channel", r.ChannelID()),
		zap.Stringer("tx", tx.Hash()))
	if err := s.sender.Send(ctx, tx); err != nil {
		_txMtc.WithLabelValues(kind, "send_failed").Inc()
		return err
	}
	_txMtc.WithLabelValues(kind, "sent").Inc()
	return nil
}

// unminedTx decodes a persisted transaction the node has not mined yet
func (s *Service) unminedTx(sub *Submission) *types.Transaction {
	if s.sender == nil || !sub.Submitted || sub.Mined {
		return nil
	}
	tx, err := chainclient.DecodeTx(sub.RawTx)
	if err != nil {
		s.logger.Warn("Failed to decode persisted transaction.", zap.Stringer("tx", sub.TxHash), zap.Error(err))
		return nil
	}
	return tx
}

// reserveTx keeps the nonce of a transaction that is still rebroadcast
func (s *Service) reserveTx(sub *Submission) {
	if tx := s.unminedTx(sub); tx != nil {
		s.sender.Reserve(tx)
	}
}

// releaseTx frees the nonce of a transaction that is never broadcast again
func (s *Service) releaseTx(sub *Submission) {
	if tx := s.unminedTx(sub); tx != nil {
		s.sender.Release(tx)
	}
}

// follow checks a persisted transaction and rebroadcasts it while it is not mined.
// A zero deadline never expires.
func (s *Service) follow(ctx context.Context, r *MonitorRequest, sub *Submission, kind string, height, deadline uint64) error {
	receipt, err := s.sender.Receipt(ctx, sub.TxHash)
	if err != nil {
		return errors.Wrapf(err, "failed to get receipt of %s", sub.TxHash)
	}
	if receipt != nil {
		sub.Mined = true
		if receipt.Status != types.ReceiptStatusSuccessful {
			sub.Failed = true
			if kind == "monitor" {
				r.State = StateFailed
			}
			_txMtc.WithLabelValues(kind, "reverted").Inc()
			s.logger.Error("Transaction reverted.", zap.String("kind", kind), zap.Stringer("tx", sub.TxHash))
		} else {
			if kind == "claim" {
				r.RewardClaimed = true
			}
			_txMtc.WithLabelValues(kind, "mined").Inc()
		}
		return s.persist(r)
	}
	if deadline > 0 && height > deadline {
		r.State = StateExpired
		s.logger.Warn("Transaction not mined before the deadline.", zap.String("kind", kind), zap.Stringer("tx", sub.TxHash))
		if err := s.persist(r); err != nil {
			return err
		}
		s.releaseTx(sub)
		return nil
	}
	tx, err := chainclient.DecodeTx(sub.RawTx)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, tx); err != nil {
		return err
	}
	_txMtc.WithLabelValues(kind, "rebroadcast").Inc()
	return nil
}
