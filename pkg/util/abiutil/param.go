// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package abiutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

type (
	// EventParam is a struct to hold smart contract event parameters, which can easily convert a param to go type
	EventParam struct {
		params    map[string]any
		nameByIDs []string
	}
)

var (
	// ErrInvlidEventParam is an error for invalid event param
	ErrInvlidEventParam = errors.New("invalid event param")
)

// EventField is a helper function to get a field from event param
func EventField[T any](e EventParam, name string) (T, error) {
	field, ok := e.params[name].(T)
	if !ok {
		return field, errors.Wrapf(ErrInvlidEventParam, "field %s got %#v, expect %T", name, e.params[name], field)
	}
	return field, nil
}

// EventFieldByID is a helper function to get a field from event param by its position in the abi
func EventFieldByID[T any](e EventParam, id int) (T, error) {
	if id < 0 || id >= len(e.nameByIDs) {
		var zero T
		return zero, errors.Wrapf(ErrInvlidEventParam, "invalid field id %d", id)
	}
	return EventField[T](e, e.nameByIDs[id])
}

// FieldUint256 is a helper function to get a uint256 field from event param
func (e EventParam) FieldUint256(name string) (*big.Int, error) {
	return EventField[*big.Int](e, name)
}

// FieldAddress is a helper function to get an address field from event param
func (e EventParam) FieldAddress(name string) (common.Address, error) {
	return EventField[common.Address](e, name)
}

// FieldByIDUint256 is a helper function to get a uint256 field from event param
func (e EventParam) FieldByIDUint256(id int) (*big.Int, error) {
	return EventFieldByID[*big.Int](e, id)
}

// FieldByIDAddress is a helper function to get an address field from event param
func (e EventParam) FieldByIDAddress(id int) (common.Address, error) {
	return EventFieldByID[common.Address](e, id)
}

// FieldByIDBytes32 is a helper function to get a bytes32 field from event param
func (e EventParam) FieldByIDBytes32(id int) (common.Hash, error) {
	data, err := EventFieldByID[[32]byte](e, id)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(data), nil
}

// UnpackEventParam is a helper function to unpack event parameters
func UnpackEventParam(abiEvent *abi.Event, log *types.Log) (*EventParam, error) {
	event := EventParam{
		params:    make(map[string]any),
		nameByIDs: make([]string, 0, len(abiEvent.Inputs)),
	}
	for _, arg := range abiEvent.Inputs {
		event.nameByIDs = append(event.nameByIDs, arg.Name)
	}
	// unpack non-indexed fields
	if len(log.Data) > 0 {
		if err := abiEvent.Inputs.UnpackIntoMap(event.params, log.Data); err != nil {
			return nil, errors.Wrap(err, "unpack event data failed")
		}
	}
	// unpack indexed fields
	args := make(abi.Arguments, 0)
	for _, arg := range abiEvent.Inputs {
		if arg.Indexed {
			args = append(args, arg)
		}
	}
	if len(log.Topics) != len(args)+1 {
		return nil, errors.Wrapf(ErrInvlidEventParam, "event %s expects %d topics, got %d", abiEvent.Name, len(args)+1, len(log.Topics))
	}
	if err := abi.ParseTopicsIntoMap(event.params, args, log.Topics[1:]); err != nil {
		return nil, errors.Wrap(err, "unpack event indexed fields failed")
	}
	return &event, nil
}
