// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package graph

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/db/batch"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
)

// ErrCausalOrder is returned for an event that cannot follow the applied history
var ErrCausalOrder = eventsync.ErrCausalOrder

var _channelsMtc = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "channel_service_graph_channels",
		Help: "Channels in the graph by status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(_channelsMtc)
}

// Store owns the chain-derived channel graph. One writer applies confirmed events,
// any number of readers take snapshots.
type Store struct {
	kv       db.KVStore
	registry common.Address
	mu       sync.Mutex
	snap     atomic.Pointer[Snapshot]
	logger   *zap.Logger
}

// NewStore creates a graph store on kv. Token networks are only accepted from registry,
// unless it is the zero address.
func NewStore(kv db.KVStore, registry common.Address) *Store {
	s := &Store{
		kv:       kv,
		registry: registry,
		logger:   log.Logger("graph"),
	}
	s.snap.Store(newSnapshot())
	return s
}

// Name implements eventsync.Consumer
func (s *Store) Name() string { return "graph" }

// Start loads the persisted graph into the first snapshot
func (s *Store) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.load()
	if err != nil {
		return errors.Wrap(err, "failed to load channel graph")
	}
	s.publish(snap)
	s.logger.Info("Loaded channel graph.",
		zap.Uint64("height", snap.cursor.Height),
		zap.Int("tokenNetworks", len(snap.networks)),
		zap.Int("deposits", len(snap.deposits)))
	return nil
}

// Stop implements lifecycle.Stopper
func (s *Store) Stop(_ context.Context) error { return nil }

// Cursor implements eventsync.Consumer
func (s *Store) Cursor() eventsync.Cursor {
	return s.Snapshot().Cursor()
}

// Snapshot returns the latest published snapshot
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// TokenNetworkAddresses returns the addresses of the known token networks
func (s *Store) TokenNetworkAddresses() []common.Address {
	tns := s.Snapshot().TokenNetworks()
	ret := make([]common.Address, 0, len(tns))
	for _, tn := range tns {
		ret = append(ret, tn.Address)
	}
	return ret
}

// ApplyEvents applies ordered confirmed events and advances the cursor. Events at or
// below the last applied event are skipped, so a replayed batch changes nothing. All
// changes of a batch are committed at once and only then become visible to readers.
func (s *Store) ApplyEvents(_ context.Context, cursor eventsync.Cursor, events []chainevent.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.snap.Load()
	if cursor.Height < current.cursor.Height {
		s.logger.Debug("Ignore stale cursor.",
			zap.Uint64("cursor", cursor.Height),
			zap.Uint64("height", current.cursor.Height))
		return nil
	}
	// events from replacement blocks arrive under the same height with a new hash
	replay := cursor.Height == current.cursor.Height && cursor.Hash != current.cursor.Hash
	h := newHandler(current, s.registry)
	for _, ev := range events {
		coords := ev.Coordinates()
		if !replay && h.snap.last != nil && !h.snap.last.Less(coords) {
			continue
		}
		if err := h.apply(ev); err != nil {
			return errors.Wrapf(err, "failed to apply %T at block %d index %d", ev, coords.BlockNumber, coords.LogIndex)
		}
		if h.snap.last == nil || h.snap.last.Less(coords) {
			h.snap.last = &coords
		}
	}
	h.snap.cursor = cursor

	b := batch.NewBatch()
	if err := h.flush(b); err != nil {
		return err
	}
	value, err := encodeCursor(cursor)
	if err != nil {
		return err
	}
	b.Put(_metaNS, _cursorKey, value, "failed to put cursor")
	if h.snap.last != nil {
		value, err := encodeCoordinates(*h.snap.last)
		if err != nil {
			return err
		}
		b.Put(_metaNS, _lastAppliedKey, value, "failed to put last applied event")
	}
	if err := s.kv.WriteBatch(b); err != nil {
		return errors.Wrap(err, "failed to commit channel graph")
	}
	s.publish(h.snap)
	return nil
}

func (s *Store) publish(snap *Snapshot) {
	s.snap.Store(snap)
	stats := snap.Stats()
	for _, status := range []ChannelStatus{StatusOpened, StatusClosed, StatusSettled} {
		_channelsMtc.WithLabelValues(status.String()).Set(float64(stats.Channels[status]))
	}
}

func (s *Store) load() (*Snapshot, error) {
	snap := newSnapshot()
	value, err := s.kv.Get(_metaNS, _cursorKey)
	switch {
	case err == nil:
		if snap.cursor, err = decodeCursor(value); err != nil {
			return nil, err
		}
	case errors.Is(err, db.ErrNotExist):
	default:
		return nil, err
	}
	value, err = s.kv.Get(_metaNS, _lastAppliedKey)
	switch {
	case err == nil:
		last, err := decodeCoordinates(value)
		if err != nil {
			return nil, err
		}
		snap.last = &last
	case errors.Is(err, db.ErrNotExist):
	default:
		return nil, err
	}
	if err := s.kv.ForEach(_tokenNetworkNS, func(_, v []byte) error {
		tn, err := decodeTokenNetwork(v)
		if err != nil {
			return err
		}
		snap.networks[tn.Address] = &tokenNetworkState{info: tn, channels: make(map[channelKey]*Channel)}
		return nil
	}); err != nil {
		return nil, err
	}
	if err := s.kv.ForEach(_channelNS, func(_, v []byte) error {
		c, err := decodeChannel(v)
		if err != nil {
			return err
		}
		tn, ok := snap.networks[c.TokenNetwork]
		if !ok {
			return errors.Errorf("channel %s of unknown token network %s", c.ID, c.TokenNetwork.Hex())
		}
		tn.channels[keyOf(c.ID)] = c
		return nil
	}); err != nil {
		return nil, err
	}
	if err := s.kv.ForEach(_depositNS, func(_, v []byte) error {
		d, err := decodeDeposit(v)
		if err != nil {
			return err
		}
		snap.deposits[d.Owner] = d
		return nil
	}); err != nil {
		return nil, err
	}
	return snap, nil
}
