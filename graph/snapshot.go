// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package graph

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/pkg/util/byteutil"
)

type (
	channelKey [32]byte

	tokenNetworkState struct {
		info     TokenNetwork
		channels map[channelKey]*Channel
	}

	// Snapshot is an immutable view of the graph at a confirmed block. Values returned by
	// Channels are shared with the snapshot and must not be modified.
	Snapshot struct {
		cursor   eventsync.Cursor
		last     *chainevent.Coordinates
		networks map[common.Address]*tokenNetworkState
		deposits map[common.Address]*DepositRecord
	}

	// Stats counts what a snapshot holds
	Stats struct {
		TokenNetworks int
		Channels      map[ChannelStatus]int
		Deposits      int
	}
)

func keyOf(id *big.Int) channelKey {
	var k channelKey
	copy(k[:], byteutil.BigIntToBytes32(id))
	return k
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		networks: make(map[common.Address]*tokenNetworkState),
		deposits: make(map[common.Address]*DepositRecord),
	}
}

// copy returns a snapshot sharing every value with s; writers replace values, never modify them
func (s *Snapshot) copy() *Snapshot {
	c := &Snapshot{
		cursor:   s.cursor,
		networks: make(map[common.Address]*tokenNetworkState, len(s.networks)),
		deposits: make(map[common.Address]*DepositRecord, len(s.deposits)),
	}
	if s.last != nil {
		last := *s.last
		c.last = &last
	}
	for k, v := range s.networks {
		c.networks[k] = v
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	return c
}

// Cursor returns the confirmed block the snapshot reflects
func (s *Snapshot) Cursor() eventsync.Cursor { return s.cursor }

// Height returns the confirmed height the snapshot reflects
func (s *Snapshot) Height() uint64 { return s.cursor.Height }

// LastApplied returns the coordinates of the last applied event
func (s *Snapshot) LastApplied() (chainevent.Coordinates, bool) {
	if s.last == nil {
		return chainevent.Coordinates{}, false
	}
	return *s.last, true
}

// TokenNetworks returns the registered token networks ordered by address
func (s *Snapshot) TokenNetworks() []TokenNetwork {
	ret := make([]TokenNetwork, 0, len(s.networks))
	for _, tn := range s.networks {
		ret = append(ret, tn.info)
	}
	sort.Slice(ret, func(i, j int) bool {
		return bytes.Compare(ret[i].Address[:], ret[j].Address[:]) < 0
	})
	return ret
}

// TokenNetwork returns a token network
func (s *Snapshot) TokenNetwork(addr common.Address) (TokenNetwork, bool) {
	tn, ok := s.networks[addr]
	if !ok {
		return TokenNetwork{}, false
	}
	return tn.info, true
}

// Channel returns a copy of a channel
func (s *Snapshot) Channel(tokenNetwork common.Address, id *big.Int) (*Channel, bool) {
	tn, ok := s.networks[tokenNetwork]
	if !ok || id == nil {
		return nil, false
	}
	c, ok := tn.channels[keyOf(id)]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Channels returns the channels of a token network ordered by id. The channels are
// shared with the snapshot.
func (s *Snapshot) Channels(tokenNetwork common.Address) []*Channel {
	tn, ok := s.networks[tokenNetwork]
	if !ok {
		return nil
	}
	ret := make([]*Channel, 0, len(tn.channels))
	for _, c := range tn.channels {
		ret = append(ret, c)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID.Cmp(ret[j].ID) < 0
	})
	return ret
}

// ChannelsOf returns copies of the channels participant is part of
func (s *Snapshot) ChannelsOf(tokenNetwork, participant common.Address) []*Channel {
	var ret []*Channel
	for _, c := range s.Channels(tokenNetwork) {
		if _, ok := c.Partner(participant); ok {
			ret = append(ret, c.Clone())
		}
	}
	return ret
}

// Deposit returns a copy of an owner's user deposit
func (s *Snapshot) Deposit(owner common.Address) (*DepositRecord, bool) {
	d, ok := s.deposits[owner]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// EffectiveBalance returns the owner's deposit not planned to be withdrawn, zero if unknown
func (s *Snapshot) EffectiveBalance(owner common.Address) *big.Int {
	d, ok := s.deposits[owner]
	if !ok {
		return new(big.Int)
	}
	return d.EffectiveBalance()
}

// Stats counts token networks, channels by status and deposits
func (s *Snapshot) Stats() Stats {
	st := Stats{
		TokenNetworks: len(s.networks),
		Channels:      make(map[ChannelStatus]int),
		Deposits:      len(s.deposits),
	}
	for _, tn := range s.networks {
		for _, c := range tn.channels {
			st.Channels[c.Status]++
		}
	}
	return st
}
