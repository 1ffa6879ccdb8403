// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package graph

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/db/batch"
)

type (
	channelRef struct {
		tokenNetwork common.Address
		id           channelKey
	}

	// handler mutates a private copy of a snapshot and remembers what it touched
	handler struct {
		registry      common.Address
		snap          *Snapshot
		ownedNetworks map[common.Address]bool
		dirtyNetworks map[common.Address]bool
		dirtyChannels map[channelRef]*Channel
		dirtyDeposits map[common.Address]bool
	}
)

func newHandler(base *Snapshot, registry common.Address) *handler {
	return &handler{
		registry:      registry,
		snap:          base.copy(),
		ownedNetworks: make(map[common.Address]bool),
		dirtyNetworks: make(map[common.Address]bool),
		dirtyChannels: make(map[channelRef]*Channel),
		dirtyDeposits: make(map[common.Address]bool),
	}
}

func causalError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCausalOrder, format, args...)
}

func (h *handler) apply(ev chainevent.Event) error {
	switch e := ev.(type) {
	case *chainevent.TokenNetworkCreated:
		return h.createTokenNetwork(e)
	case *chainevent.ChannelOpened:
		return h.openChannel(e)
	case *chainevent.ChannelDeposit:
		return h.updateParticipant(e.Contract(), e.ChannelID, e.Participant, func(p *ParticipantState) {
			p.Deposit = copyInt(e.TotalDeposit)
		})
	case *chainevent.ChannelWithdraw:
		return h.updateParticipant(e.Contract(), e.ChannelID, e.Participant, func(p *ParticipantState) {
			p.Withdrawn = copyInt(e.TotalWithdraw)
		})
	case *chainevent.TransferSettled:
		return h.updateParticipant(e.Contract(), e.ChannelID, e.Sender, func(p *ParticipantState) {
			p.Transferred = copyInt(e.TransferredAmount)
		})
	case *chainevent.FeeScheduleUpdated:
		return h.updateParticipant(e.Contract(), e.ChannelID, e.Participant, func(p *ParticipantState) {
			p.Fee = FeeSchedule{Flat: copyInt(e.Flat), Proportional: copyInt(e.Proportional)}
		})
	case *chainevent.ChannelClosed:
		return h.closeChannel(e)
	case *chainevent.NonClosingBalanceProofUpdated:
		c, err := h.channel(e.Contract(), e.ChannelID)
		if err != nil {
			return err
		}
		if c.Status != StatusClosed {
			return causalError("balance proof update on %s channel %s", c.Status, e.ChannelID)
		}
		return nil
	case *chainevent.ChannelSettled:
		return h.settleChannel(e)
	case *chainevent.DepositIncreased:
		d := h.deposit(e.Owner)
		d.TotalDeposit = copyInt(e.TotalDeposit)
		return nil
	case *chainevent.WithdrawPlanned:
		d := h.deposit(e.Owner)
		d.PlannedWithdraw = copyInt(e.Amount)
		d.WithdrawBlock = e.WithdrawBlock
		return nil
	case *chainevent.BalanceReduced:
		d := h.deposit(e.Owner)
		d.TotalDeposit = copyInt(e.NewBalance)
		if d.PlannedWithdraw.Cmp(d.TotalDeposit) > 0 {
			d.PlannedWithdraw = copyInt(d.TotalDeposit)
		}
		return nil
	case *chainevent.BalanceProofReceived, *chainevent.RewardClaimed:
		// monitoring contract events do not change the graph
		return nil
	default:
		return errors.Errorf("unexpected event type %T", ev)
	}
}

func (h *handler) createTokenNetwork(e *chainevent.TokenNetworkCreated) error {
	if h.registry != (common.Address{}) && e.Contract() != h.registry {
		return causalError("token network %s created by %s", e.TokenNetwork.Hex(), e.Contract().Hex())
	}
	if _, ok := h.snap.networks[e.TokenNetwork]; ok {
		return causalError("token network %s already exists", e.TokenNetwork.Hex())
	}
	h.snap.networks[e.TokenNetwork] = &tokenNetworkState{
		info: TokenNetwork{
			Address:      e.TokenNetwork,
			Token:        e.Token,
			CreatedBlock: e.Coordinates().BlockNumber,
		},
		channels: make(map[channelKey]*Channel),
	}
	h.ownedNetworks[e.TokenNetwork] = true
	h.dirtyNetworks[e.TokenNetwork] = true
	return nil
}

// network returns a token network state that is private to the handler
func (h *handler) network(addr common.Address) (*tokenNetworkState, error) {
	tn, ok := h.snap.networks[addr]
	if !ok {
		return nil, causalError("unknown token network %s", addr.Hex())
	}
	if h.ownedNetworks[addr] {
		return tn, nil
	}
	owned := &tokenNetworkState{
		info:     tn.info,
		channels: make(map[channelKey]*Channel, len(tn.channels)),
	}
	for k, c := range tn.channels {
		owned.channels[k] = c
	}
	h.snap.networks[addr] = owned
	h.ownedNetworks[addr] = true
	return owned, nil
}

// channel returns a channel that is private to the handler
func (h *handler) channel(tokenNetwork common.Address, id *big.Int) (*Channel, error) {
	if id == nil {
		return nil, causalError("missing channel id")
	}
	tn, err := h.network(tokenNetwork)
	if err != nil {
		return nil, err
	}
	ref := channelRef{tokenNetwork: tokenNetwork, id: keyOf(id)}
	if c, ok := h.dirtyChannels[ref]; ok {
		return c, nil
	}
	c, ok := tn.channels[ref.id]
	if !ok {
		return nil, causalError("unknown channel %s in token network %s", id, tokenNetwork.Hex())
	}
	c = c.Clone()
	tn.channels[ref.id] = c
	h.dirtyChannels[ref] = c
	return c, nil
}

func (h *handler) openChannel(e *chainevent.ChannelOpened) error {
	tn, err := h.network(e.Contract())
	if err != nil {
		return err
	}
	if e.ChannelID == nil {
		return causalError("missing channel id")
	}
	key := keyOf(e.ChannelID)
	if _, ok := tn.channels[key]; ok {
		return causalError("channel %s opened twice", e.ChannelID)
	}
	if e.Participant1 == e.Participant2 {
		return causalError("channel %s opened with itself", e.ChannelID)
	}
	c := &Channel{
		TokenNetwork:  e.Contract(),
		ID:            copyInt(e.ChannelID),
		Participant1:  e.Participant1,
		Participant2:  e.Participant2,
		State1:        newParticipantState(),
		State2:        newParticipantState(),
		Status:        StatusOpened,
		SettleTimeout: e.SettleTimeout,
		OpenedBlock:   e.Coordinates().BlockNumber,
	}
	tn.channels[key] = c
	h.dirtyChannels[channelRef{tokenNetwork: e.Contract(), id: key}] = c
	return nil
}

func (h *handler) updateParticipant(tokenNetwork common.Address, id *big.Int, participant common.Address, update func(*ParticipantState)) error {
	c, err := h.channel(tokenNetwork, id)
	if err != nil {
		return err
	}
	if c.Status != StatusOpened {
		return causalError("update of %s channel %s", c.Status, id)
	}
	p, ok := c.State(participant)
	if !ok {
		return causalError("%s is not a participant of channel %s", participant.Hex(), id)
	}
	update(p)
	return nil
}

func (h *handler) closeChannel(e *chainevent.ChannelClosed) error {
	c, err := h.channel(e.Contract(), e.ChannelID)
	if err != nil {
		return err
	}
	if c.Status != StatusOpened {
		return causalError("close of %s channel %s", c.Status, e.ChannelID)
	}
	if _, ok := c.Partner(e.ClosingParticipant); !ok {
		return causalError("%s is not a participant of channel %s", e.ClosingParticipant.Hex(), e.ChannelID)
	}
	block := e.Coordinates().BlockNumber
	c.Status = StatusClosed
	c.ClosingParticipant = e.ClosingParticipant
	c.ClosedBlock = block
	c.SettleBlock = block + c.SettleTimeout
	return nil
}

func (h *handler) settleChannel(e *chainevent.ChannelSettled) error {
	c, err := h.channel(e.Contract(), e.ChannelID)
	if err != nil {
		return err
	}
	if c.Status != StatusClosed {
		return causalError("settle of %s channel %s", c.Status, e.ChannelID)
	}
	c.Status = StatusSettled
	return nil
}

// deposit returns the owner's record private to the handler, creating it when missing
func (h *handler) deposit(owner common.Address) *DepositRecord {
	d, ok := h.snap.deposits[owner]
	switch {
	case !ok:
		d = &DepositRecord{Owner: owner, TotalDeposit: new(big.Int), PlannedWithdraw: new(big.Int)}
	case !h.dirtyDeposits[owner]:
		d = d.clone()
	default:
		return d
	}
	h.snap.deposits[owner] = d
	h.dirtyDeposits[owner] = true
	return d
}

// flush stages every touched record
func (h *handler) flush(b batch.KVStoreBatch) error {
	for addr := range h.dirtyNetworks {
		value, err := encodeTokenNetwork(h.snap.networks[addr].info)
		if err != nil {
			return err
		}
		b.Put(_tokenNetworkNS, addr.Bytes(), value, "failed to put token network %s", addr.Hex())
	}
	for ref, c := range h.dirtyChannels {
		value, err := encodeChannel(c)
		if err != nil {
			return err
		}
		b.Put(_channelNS, channelDBKey(ref.tokenNetwork, c.ID), value, "failed to put channel %s", c.ID)
	}
	for owner := range h.dirtyDeposits {
		value, err := encodeDeposit(h.snap.deposits[owner])
		if err != nil {
			return err
		}
		b.Put(_depositNS, owner.Bytes(), value, "failed to put deposit of %s", owner.Hex())
	}
	return nil
}
