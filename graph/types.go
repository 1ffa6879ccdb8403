// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package graph

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ChannelStatus is the on-chain status of a channel
type ChannelStatus uint8

// channel statuses
const (
	StatusOpened ChannelStatus = iota + 1
	StatusClosed
	StatusSettled
)

// _ppm is the denominator of proportional fees
var _ppm = uint256.NewInt(1_000_000)

type (
	// FeeSchedule is the mediation fee a participant charges for forwarding on its
	// outgoing leg: Flat + amount * Proportional / 1e6
	FeeSchedule struct {
		Flat         *big.Int
		Proportional *big.Int
	}

	// ParticipantState is one side of a channel. All amounts are cumulative totals.
	ParticipantState struct {
		Deposit     *big.Int
		Withdrawn   *big.Int
		Transferred *big.Int
		Fee         FeeSchedule
	}

	// Channel is the chain-derived state of a channel
	Channel struct {
		TokenNetwork       common.Address
		ID                 *big.Int
		Participant1       common.Address
		Participant2       common.Address
		State1             ParticipantState
		State2             ParticipantState
		Status             ChannelStatus
		SettleTimeout      uint64
		OpenedBlock        uint64
		ClosedBlock        uint64
		SettleBlock        uint64
		ClosingParticipant common.Address
	}

	// TokenNetwork is a registered token network
	TokenNetwork struct {
		Address      common.Address
		Token        common.Address
		CreatedBlock uint64
	}

	// DepositRecord is an owner's balance in the user deposit contract
	DepositRecord struct {
		Owner           common.Address
		TotalDeposit    *big.Int
		PlannedWithdraw *big.Int
		WithdrawBlock   uint64
	}
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusOpened:
		return "opened"
	case StatusClosed:
		return "closed"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func copyInt(v *big.Int) *big.Int {
	return new(big.Int).Set(orZero(v))
}

// Fee returns the mediation fee for forwarding amount. It never decreases when amount grows.
func (f FeeSchedule) Fee(amount *big.Int) *big.Int {
	if orZero(amount).Sign() < 0 {
		return new(big.Int).Set(orZero(f.Flat))
	}
	amt, overflow := uint256.FromBig(orZero(amount))
	if overflow {
		return new(big.Int).Set(maxUint256)
	}
	flat, of1 := uint256.FromBig(orZero(f.Flat))
	prop, of2 := uint256.FromBig(orZero(f.Proportional))
	if of1 || of2 {
		return new(big.Int).Set(maxUint256)
	}
	fee := new(uint256.Int)
	if _, of := fee.MulOverflow(amt, prop); of {
		return new(big.Int).Set(maxUint256)
	}
	fee.Div(fee, _ppm)
	if _, of := fee.AddOverflow(fee, flat); of {
		return new(big.Int).Set(maxUint256)
	}
	return fee.ToBig()
}

// IsZero reports whether the schedule charges nothing
func (f FeeSchedule) IsZero() bool {
	return orZero(f.Flat).Sign() == 0 && orZero(f.Proportional).Sign() == 0
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func (p ParticipantState) clone() ParticipantState {
	return ParticipantState{
		Deposit:     copyInt(p.Deposit),
		Withdrawn:   copyInt(p.Withdrawn),
		Transferred: copyInt(p.Transferred),
		Fee: FeeSchedule{
			Flat:         copyInt(p.Fee.Flat),
			Proportional: copyInt(p.Fee.Proportional),
		},
	}
}

// Clone returns a deep copy
func (c *Channel) Clone() *Channel {
	cc := *c
	cc.ID = copyInt(c.ID)
	cc.State1 = c.State1.clone()
	cc.State2 = c.State2.clone()
	return &cc
}

// Partner returns the other participant
func (c *Channel) Partner(p common.Address) (common.Address, bool) {
	switch p {
	case c.Participant1:
		return c.Participant2, true
	case c.Participant2:
		return c.Participant1, true
	default:
		return common.Address{}, false
	}
}

// State returns the state of participant p
func (c *Channel) State(p common.Address) (*ParticipantState, bool) {
	switch p {
	case c.Participant1:
		return &c.State1, true
	case c.Participant2:
		return &c.State2, true
	default:
		return nil, false
	}
}

// Capacity returns how much from can send to its partner:
// deposit - withdrawn - transferred + received, floored at zero
func (c *Channel) Capacity(from common.Address) *big.Int {
	own, ok := c.State(from)
	if !ok {
		return new(big.Int)
	}
	partner, _ := c.Partner(from)
	other, _ := c.State(partner)
	capacity := new(big.Int).Sub(orZero(own.Deposit), orZero(own.Withdrawn))
	capacity.Sub(capacity, orZero(own.Transferred))
	capacity.Add(capacity, orZero(other.Transferred))
	if capacity.Sign() < 0 {
		return new(big.Int)
	}
	return capacity
}

// FeeSchedule returns the fee from charges on its outgoing leg
func (c *Channel) FeeSchedule(from common.Address) FeeSchedule {
	own, ok := c.State(from)
	if !ok {
		return FeeSchedule{}
	}
	return own.Fee
}

func (d *DepositRecord) clone() *DepositRecord {
	dd := *d
	dd.TotalDeposit = copyInt(d.TotalDeposit)
	dd.PlannedWithdraw = copyInt(d.PlannedWithdraw)
	return &dd
}

// EffectiveBalance is the deposit that is not planned to be withdrawn
func (d *DepositRecord) EffectiveBalance() *big.Int {
	balance := new(big.Int).Sub(orZero(d.TotalDeposit), orZero(d.PlannedWithdraw))
	if balance.Sign() < 0 {
		return new(big.Int)
	}
	return balance
}

func newParticipantState() ParticipantState {
	return ParticipantState{
		Deposit:     new(big.Int),
		Withdrawn:   new(big.Int),
		Transferred: new(big.Int),
		Fee:         FeeSchedule{Flat: new(big.Int), Proportional: new(big.Int)},
	}
}
