// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

// Package chainevent turns contract logs into typed, ordered channel events.
package chainevent

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type (
	// Coordinates locate an event in the chain
	Coordinates struct {
		BlockNumber uint64
		LogIndex    uint
		BlockHash   common.Hash
		TxHash      common.Hash
	}

	// Event is the closed set of confirmed domain events. Consumers switch over the
	// concrete types below.
	Event interface {
		Coordinates() Coordinates
		// Contract is the address that emitted the log
		Contract() common.Address
		sealed()
	}

	// Base carries what every event has
	Base struct {
		Coords  Coordinates
		Address common.Address
	}

	// TokenNetworkCreated registers a token network for a token
	TokenNetworkCreated struct {
		Base
		Token        common.Address
		TokenNetwork common.Address
	}

	// ChannelOpened creates a channel between two participants
	ChannelOpened struct {
		Base
		ChannelID     *big.Int
		Participant1  common.Address
		Participant2  common.Address
		SettleTimeout uint64
	}

	// ChannelDeposit sets a participant's total deposit
	ChannelDeposit struct {
		Base
		ChannelID    *big.Int
		Participant  common.Address
		TotalDeposit *big.Int
	}

	// ChannelWithdraw sets a participant's total withdrawn amount
	ChannelWithdraw struct {
		Base
		ChannelID     *big.Int
		Participant   common.Address
		TotalWithdraw *big.Int
	}

	// TransferSettled sets the cumulative amount a participant transferred to its partner
	TransferSettled struct {
		Base
		ChannelID         *big.Int
		Sender            common.Address
		TransferredAmount *big.Int
	}

	// FeeScheduleUpdated sets the mediation fee a participant charges on its outgoing leg
	FeeScheduleUpdated struct {
		Base
		ChannelID    *big.Int
		Participant  common.Address
		Flat         *big.Int
		Proportional *big.Int
	}

	// ChannelClosed closes a channel with the closer's view of the partner's balance proof
	ChannelClosed struct {
		Base
		ChannelID          *big.Int
		ClosingParticipant common.Address
		Nonce              *big.Int
		BalanceHash        common.Hash
		TransferredAmount  *big.Int
	}

	// NonClosingBalanceProofUpdated records a newer balance proof submitted after closing
	NonClosingBalanceProofUpdated struct {
		Base
		ChannelID          *big.Int
		ClosingParticipant common.Address
		Nonce              *big.Int
		BalanceHash        common.Hash
		TransferredAmount  *big.Int
	}

	// ChannelSettled settles a closed channel
	ChannelSettled struct {
		Base
		ChannelID          *big.Int
		Participant1Amount *big.Int
		Participant2Amount *big.Int
	}

	// DepositIncreased sets an owner's total user deposit
	DepositIncreased struct {
		Base
		Owner        common.Address
		TotalDeposit *big.Int
	}

	// WithdrawPlanned announces a future withdrawal from the user deposit
	WithdrawPlanned struct {
		Base
		Owner         common.Address
		Amount        *big.Int
		WithdrawBlock uint64
	}

	// BalanceReduced sets an owner's user deposit after a withdrawal or a reward payout
	BalanceReduced struct {
		Base
		Owner      common.Address
		NewBalance *big.Int
	}

	// BalanceProofReceived acknowledges a monitoring service's submission on chain
	BalanceProofReceived struct {
		Base
		TokenNetwork      common.Address
		ChannelID         *big.Int
		RewardAmount      *big.Int
		Nonce             *big.Int
		MonitoringService common.Address
		NodeAddress       common.Address
	}

	// RewardClaimed pays a monitoring service its reward
	RewardClaimed struct {
		Base
		MonitoringService common.Address
		TokenNetwork      common.Address
		ChannelID         *big.Int
		Amount            *big.Int
	}
)

// Coordinates returns where the event was emitted
func (b Base) Coordinates() Coordinates { return b.Coords }

// Contract returns the emitting contract
func (b Base) Contract() common.Address { return b.Address }

func (Base) sealed() {}

// Compare orders coordinates by block then log index
func (c Coordinates) Compare(o Coordinates) int {
	switch {
	case c.BlockNumber < o.BlockNumber:
		return -1
	case c.BlockNumber > o.BlockNumber:
		return 1
	case c.LogIndex < o.LogIndex:
		return -1
	case c.LogIndex > o.LogIndex:
		return 1
	default:
		return 0
	}
}

// Less is Compare(o) < 0
func (c Coordinates) Less(o Coordinates) bool {
	return c.Compare(o) < 0
}
