// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package graph

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/eventsync"
)

const (
	_metaNS         = "graphMeta"
	_tokenNetworkNS = "graphTokenNetwork"
	_channelNS      = "graphChannel"
	_depositNS      = "graphDeposit"
)

var (
	_cursorKey      = []byte("cursor")
	_lastAppliedKey = []byte("lastApplied")
)

type (
	cursorRecord struct {
		Height uint64
		Hash   common.Hash
	}

	coordinatesRecord struct {
		BlockNumber uint64
		LogIndex    uint64
		BlockHash   common.Hash
		TxHash      common.Hash
	}

	tokenNetworkRecord struct {
		Address      common.Address
		Token        common.Address
		CreatedBlock uint64
	}

	participantRecord struct {
		Deposit         *big.Int
		Withdrawn       *big.Int
		Transferred     *big.Int
		FeeFlat         *big.Int
		FeeProportional *big.Int
	}

	channelRecord struct {
		TokenNetwork       common.Address
		ID                 *big.Int
		Participant1       common.Address
		Participant2       common.Address
		State1             participantRecord
		State2             participantRecord
		Status             uint8
		SettleTimeout      uint64
		OpenedBlock        uint64
		ClosedBlock        uint64
		SettleBlock        uint64
		ClosingParticipant common.Address
	}

	depositRecord struct {
		Owner           common.Address
		TotalDeposit    *big.Int
		PlannedWithdraw *big.Int
		WithdrawBlock   uint64
	}
)

func channelDBKey(tokenNetwork common.Address, id *big.Int) []byte {
	k := keyOf(id)
	return append(tokenNetwork.Bytes(), k[:]...)
}

func encodeCursor(c eventsync.Cursor) ([]byte, error) {
	return rlp.EncodeToBytes(&cursorRecord{Height: c.Height, Hash: c.Hash})
}

func decodeCursor(b []byte) (eventsync.Cursor, error) {
	var r cursorRecord
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return eventsync.Cursor{}, errors.Wrap(err, "failed to decode cursor")
	}
	return eventsync.Cursor{Height: r.Height, Hash: r.Hash}, nil
}

func encodeCoordinates(c chainevent.Coordinates) ([]byte, error) {
	return rlp.EncodeToBytes(&coordinatesRecord{
		BlockNumber: c.BlockNumber,
		LogIndex:    uint64(c.LogIndex),
		BlockHash:   c.BlockHash,
		TxHash:      c.TxHash,
	})
}

func decodeCoordinates(b []byte) (chainevent.Coordinates, error) {
	var r coordinatesRecord
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return chainevent.Coordinates{}, errors.Wrap(err, "failed to decode coordinates")
	}
	return chainevent.Coordinates{
		BlockNumber: r.BlockNumber,
		LogIndex:    uint(r.LogIndex),
		BlockHash:   r.BlockHash,
		TxHash:      r.TxHash,
	}, nil
}

func encodeTokenNetwork(tn TokenNetwork) ([]byte, error) {
	return rlp.EncodeToBytes(&tokenNetworkRecord{
		Address:      tn.Address,
		Token:        tn.Token,
		CreatedBlock: tn.CreatedBlock,
	})
}

func decodeTokenNetwork(b []byte) (TokenNetwork, error) {
	var r tokenNetworkRecord
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return TokenNetwork{}, errors.Wrap(err, "failed to decode token network")
	}
	return TokenNetwork(r), nil
}

func toParticipantRecord(p ParticipantState) participantRecord {
	return participantRecord{
		Deposit:         orZero(p.Deposit),
		Withdrawn:       orZero(p.Withdrawn),
		Transferred:     orZero(p.Transferred),
		FeeFlat:         orZero(p.Fee.Flat),
		FeeProportional: orZero(p.Fee.Proportional),
	}
}

func (r participantRecord) state() ParticipantState {
	return ParticipantState{
		Deposit:     copyInt(r.Deposit),
		Withdrawn:   copyInt(r.Withdrawn),
		Transferred: copyInt(r.Transferred),
		Fee: FeeSchedule{
			Flat:         copyInt(r.FeeFlat),
			Proportional: copyInt(r.FeeProportional),
		},
	}
}

func encodeChannel(c *Channel) ([]byte, error) {
	return rlp.EncodeToBytes(&channelRecord{
		TokenNetwork:       c.TokenNetwork,
		ID:                 orZero(c.ID),
		Participant1:       c.Participant1,
		Participant2:       c.Participant2,
		State1:             toParticipantRecord(c.State1),
		State2:             toParticipantRecord(c.State2),
		Status:             uint8(c.Status),
		SettleTimeout:      c.SettleTimeout,
		OpenedBlock:        c.OpenedBlock,
		ClosedBlock:        c.ClosedBlock,
		SettleBlock:        c.SettleBlock,
		ClosingParticipant: c.ClosingParticipant,
	})
}

func decodeChannel(b []byte) (*Channel, error) {
	var r channelRecord
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return nil, errors.Wrap(err, "failed to decode channel")
	}
	return &Channel{
		TokenNetwork:       r.TokenNetwork,
		ID:                 copyInt(r.ID),
		Participant1:       r.Participant1,
		Participant2:       r.Participant2,
		State1:             r.State1.state(),
		State2:             r.State2.state(),
		Status:             ChannelStatus(r.Status),
		SettleTimeout:      r.SettleTimeout,
		OpenedBlock:        r.OpenedBlock,
		ClosedBlock:        r.ClosedBlock,
		SettleBlock:        r.SettleBlock,
		ClosingParticipant: r.ClosingParticipant,
	}, nil
}

func encodeDeposit(d *DepositRecord) ([]byte, error) {
	return rlp.EncodeToBytes(&depositRecord{
		Owner:           d.Owner,
		TotalDeposit:    orZero(d.TotalDeposit),
		PlannedWithdraw: orZero(d.PlannedWithdraw),
		WithdrawBlock:   d.WithdrawBlock,
	})
}

func decodeDeposit(b []byte) (*DepositRecord, error) {
	var r depositRecord
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return nil, errors.Wrap(err, "failed to decode deposit")
	}
	return &DepositRecord{
		Owner:           r.Owner,
		TotalDeposit:    copyInt(r.TotalDeposit),
		PlannedWithdraw: copyInt(r.PlannedWithdraw),
		WithdrawBlock:   r.WithdrawBlock,
	}, nil
}
