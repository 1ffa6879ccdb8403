// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package chainevent

import (
	"bytes"
	_ "embed"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/iotexproject/iotex-channel-service/pkg/util/abiutil"
)

var (
	//go:embed token_network_registry_abi.json
	registryABIJSON string
	//go:embed token_network_abi.json
	tokenNetworkABIJSON string
	//go:embed user_deposit_abi.json
	userDepositABIJSON string
	//go:embed monitoring_service_abi.json
	monitoringServiceABIJSON string

	// RegistryABI is the abi of the token network registry
	RegistryABI abi.ABI
	// TokenNetworkABI is the abi of a token network
	TokenNetworkABI abi.ABI
	// UserDepositABI is the abi of the user deposit contract
	UserDepositABI abi.ABI
	// MonitoringServiceABI is the abi of the monitoring service contract
	MonitoringServiceABI abi.ABI

	// ErrUnknownEvent is returned for logs whose signature is not one of ours
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedEvent is returned for logs whose payload does not match the abi
	ErrMalformedEvent = errors.New("malformed event")
)

func init() {
	for _, c := range []struct {
		json string
		abi  *abi.ABI
	}{
		{registryABIJSON, &RegistryABI},
		{tokenNetworkABIJSON, &TokenNetworkABI},
		{userDepositABIJSON, &UserDepositABI},
		{monitoringServiceABIJSON, &MonitoringServiceABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(c.json))
		if err != nil {
			panic(err)
		}
		*c.abi = parsed
	}
}

// Decoder decodes logs of the registry, token network, user deposit and monitoring
// service contracts
type Decoder struct {
	events map[common.Hash]abi.Event
}

// NewDecoder creates a decoder for all known events
func NewDecoder() *Decoder {
	d := &Decoder{events: make(map[common.Hash]abi.Event)}
	for _, a := range []abi.ABI{RegistryABI, TokenNetworkABI, UserDepositABI, MonitoringServiceABI} {
		for _, ev := range a.Events {
			d.events[ev.ID] = ev
		}
	}
	return d
}

// Topics returns the signatures of all known events, in a stable order
func (d *Decoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.events))
	for id := range d.events {
		topics = append(topics, id)
	}
	sort.Slice(topics, func(i, j int) bool {
		return bytes.Compare(topics[i][:], topics[j][:]) < 0
	})
	return topics
}

// Decode converts a log into a typed event
func (d *Decoder) Decode(log *types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, errors.Wrap(ErrUnknownEvent, "log without topics")
	}
	abiEvent, ok := d.events[log.Topics[0]]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEvent, "topic %s", log.Topics[0])
	}
	param, err := abiutil.UnpackEventParam(&abiEvent, log)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedEvent, "%s: %v", abiEvent.Name, err)
	}
	base := Base{
		Coords: Coordinates{
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
			BlockHash:   log.BlockHash,
			TxHash:      log.TxHash,
		},
		Address: log.Address,
	}
	p := &fieldReader{param: param}
	var ev Event
	switch abiEvent.Name {
	case "TokenNetworkCreated":
		ev = &TokenNetworkCreated{Base: base, Token: p.address(0), TokenNetwork: p.address(1)}
	case "ChannelOpened":
		ev = &ChannelOpened{Base: base, ChannelID: p.uint256(0), Participant1: p.address(1), Participant2: p.address(2), SettleTimeout: p.uint64(3)}
	case "ChannelNewDeposit":
		ev = &ChannelDeposit{Base: base, ChannelID: p.uint256(0), Participant: p.address(1), TotalDeposit: p.uint256(2)}
	case "ChannelWithdraw":
		ev = &ChannelWithdraw{Base: base, ChannelID: p.uint256(0), Participant: p.address(1), TotalWithdraw: p.uint256(2)}
	case "TransferSettled":
		ev = &TransferSettled{Base: base, ChannelID: p.uint256(0), Sender: p.address(1), TransferredAmount: p.uint256(2)}
	case "FeeScheduleUpdated":
		ev = &FeeScheduleUpdated{Base: base, ChannelID: p.uint256(0), Participant: p.address(1), Flat: p.uint256(2), Proportional: p.uint256(3)}
	case "ChannelClosed":
		ev = &ChannelClosed{Base: base, ChannelID: p.uint256(0), ClosingParticipant: p.address(1), Nonce: p.uint256(2), BalanceHash: p.bytes32(3), TransferredAmount: p.uint256(4)}
	case "NonClosingBalanceProofUpdated":
		ev = &NonClosingBalanceProofUpdated{Base: base, ChannelID: p.uint256(0), ClosingParticipant: p.address(1), Nonce: p.uint256(2), BalanceHash: p.bytes32(3), TransferredAmount: p.uint256(4)}
	case "ChannelSettled":
		ev = &ChannelSettled{Base: base, ChannelID: p.uint256(0), Participant1Amount: p.uint256(1), Participant2Amount: p.uint256(2)}
	case "NewDeposit":
		ev = &DepositIncreased{Base: base, Owner: p.address(0), TotalDeposit: p.uint256(1)}
	case "WithdrawPlanned":
		ev = &WithdrawPlanned{Base: base, Owner: p.address(0), Amount: p.uint256(1), WithdrawBlock: p.uint64(2)}
	case "BalanceReduced":
		ev = &BalanceReduced{Base: base, Owner: p.address(0), NewBalance: p.uint256(1)}
	case "NewBalanceProofReceived":
		ev = &BalanceProofReceived{Base: base, TokenNetwork: p.address(0), ChannelID: p.uint256(1), RewardAmount: p.uint256(2), Nonce: p.uint256(3), MonitoringService: p.address(4), NodeAddress: p.address(5)}
	case "RewardClaimed":
		ev = &RewardClaimed{Base: base, MonitoringService: p.address(0), TokenNetwork: p.address(1), ChannelID: p.uint256(2), Amount: p.uint256(3)}
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "event %s", abiEvent.Name)
	}
	if p.err != nil {
		return nil, errors.Wrapf(ErrMalformedEvent, "%s: %v", abiEvent.Name, p.err)
	}
	return ev, nil
}

// SortEvents orders events by (block, log index)
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Coordinates().Less(events[j].Coordinates())
	})
}

// fieldReader keeps the first error so a decode reads like a struct literal
type fieldReader struct {
	param *abiutil.EventParam
	err   error
}

func (r *fieldReader) uint256(id int) *big.Int {
	if r.err != nil {
		return nil
	}
	v, err := r.param.FieldByIDUint256(id)
	r.err = err
	return v
}

func (r *fieldReader) uint64(id int) uint64 {
	v := r.uint256(id)
	if r.err != nil {
		return 0
	}
	if !v.IsUint64() {
		r.err = errors.Errorf("field %d overflows uint64", id)
		return 0
	}
	return v.Uint64()
}

func (r *fieldReader) address(id int) common.Address {
	if r.err != nil {
		return common.Address{}
	}
	v, err := r.param.FieldByIDAddress(id)
	r.err = err
	return v
}

func (r *fieldReader) bytes32(id int) common.Hash {
	if r.err != nil {
		return common.Hash{}
	}
	v, err := r.param.FieldByIDBytes32(id)
	r.err = err
	return v
}
