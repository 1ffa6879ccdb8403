// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package chainevent

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// ToLog encodes an event into the log its contract would emit. It is the inverse of
// Decoder.Decode and is used by tools and tests that replay events.
func ToLog(ev Event) (*types.Log, error) {
	a, name, args := eventArgs(ev)
	if name == "" {
		return nil, errors.Wrapf(ErrUnknownEvent, "%T", ev)
	}
	abiEvent, ok := a.Events[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEvent, "event %s", name)
	}
	if len(args) != len(abiEvent.Inputs) {
		return nil, errors.Errorf("event %s expects %d args, got %d", name, len(abiEvent.Inputs), len(args))
	}
	var (
		indexed    [][]interface{}
		nonIndexed []interface{}
	)
	for i, in := range abiEvent.Inputs {
		if in.Indexed {
			indexed = append(indexed, []interface{}{args[i]})
		} else {
			nonIndexed = append(nonIndexed, args[i])
		}
	}
	data, err := abiEvent.Inputs.NonIndexed().Pack(nonIndexed...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s", name)
	}
	topics := []common.Hash{abiEvent.ID}
	if len(indexed) > 0 {
		rules, err := abi.MakeTopics(indexed...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to make topics of %s", name)
		}
		for _, r := range rules {
			topics = append(topics, r[0])
		}
	}
	coords := ev.Coordinates()
	return &types.Log{
		Address:     ev.Contract(),
		Topics:      topics,
		Data:        data,
		BlockNumber: coords.BlockNumber,
		TxHash:      coords.TxHash,
		BlockHash:   coords.BlockHash,
		Index:       coords.LogIndex,
	}, nil
}

func u64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func eventArgs(ev Event) (abi.ABI, string, []interface{}) {
	switch e := ev.(type) {
	case *TokenNetworkCreated:
		return RegistryABI, "TokenNetworkCreated", []interface{}{e.Token, e.TokenNetwork}
	case *ChannelOpened:
		return TokenNetworkABI, "ChannelOpened", []interface{}{e.ChannelID, e.Participant1, e.Participant2, u64(e.SettleTimeout)}
	case *ChannelDeposit:
		return TokenNetworkABI, "ChannelNewDeposit", []interface{}{e.ChannelID, e.Participant, e.TotalDeposit}
	case *ChannelWithdraw:
		return TokenNetworkABI, "ChannelWithdraw", []interface{}{e.ChannelID, e.Participant, e.TotalWithdraw}
	case *TransferSettled:
		return TokenNetworkABI, "TransferSettled", []interface{}{e.ChannelID, e.Sender, e.TransferredAmount}
	case *FeeScheduleUpdated:
		return TokenNetworkABI, "FeeScheduleUpdated", []interface{}{e.ChannelID, e.Participant, e.Flat, e.Proportional}
	case *ChannelClosed:
		return TokenNetworkABI, "ChannelClosed", []interface{}{e.ChannelID, e.ClosingParticipant, e.Nonce, [32]byte(e.BalanceHash), e.TransferredAmount}
	case *NonClosingBalanceProofUpdated:
		return TokenNetworkABI, "NonClosingBalanceProofUpdated", []interface{}{e.ChannelID, e.ClosingParticipant, e.Nonce, [32]byte(e.BalanceHash), e.TransferredAmount}
	case *ChannelSettled:
		return TokenNetworkABI, "ChannelSettled", []interface{}{e.ChannelID, e.Participant1Amount, e.Participant2Amount}
	case *DepositIncreased:
		return UserDepositABI, "NewDeposit", []interface{}{e.Owner, e.TotalDeposit}
	case *WithdrawPlanned:
		return UserDepositABI, "WithdrawPlanned", []interface{}{e.Owner, e.Amount, u64(e.WithdrawBlock)}
	case *BalanceReduced:
		return UserDepositABI, "BalanceReduced", []interface{}{e.Owner, e.NewBalance}
	case *BalanceProofReceived:
		return MonitoringServiceABI, "NewBalanceProofReceived", []interface{}{e.TokenNetwork, e.ChannelID, e.RewardAmount, e.Nonce, e.MonitoringService, e.NodeAddress}
	case *RewardClaimed:
		return MonitoringServiceABI, "RewardClaimed", []interface{}{e.MonitoringService, e.TokenNetwork, e.ChannelID, e.Amount}
	default:
		return abi.ABI{}, "", nil
	}
}
