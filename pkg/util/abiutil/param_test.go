// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package abiutil

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const _testABI = `[{"anonymous":false,"name":"Moved","type":"event","inputs":[
{"indexed":true,"name":"id","type":"uint256"},
{"indexed":true,"name":"to","type":"address"},
{"indexed":false,"name":"amount","type":"uint256"},
{"indexed":false,"name":"tag","type":"bytes32"}]}]`

func TestUnpackEventParam(t *testing.T) {
	require := require.New(t)

	parsed, err := abi.JSON(strings.NewReader(_testABI))
	require.NoError(err)
	ev := parsed.Events["Moved"]
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tag := common.HexToHash("0x01")
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(9), [32]byte(tag))
	require.NoError(err)
	log := &types.Log{
		Topics: []common.Hash{ev.ID, common.BigToHash(big.NewInt(3)), common.BytesToHash(to.Bytes())},
		Data:   data,
	}

	param, err := UnpackEventParam(&ev, log)
	require.NoError(err)
	id, err := param.FieldByIDUint256(0)
	require.NoError(err)
	require.Equal(int64(3), id.Int64())
	addr, err := param.FieldByIDAddress(1)
	require.NoError(err)
	require.Equal(to, addr)
	amount, err := param.FieldUint256("amount")
	require.NoError(err)
	require.Equal(int64(9), amount.Int64())
	h, err := param.FieldByIDBytes32(3)
	require.NoError(err)
	require.Equal(tag, h)
	addr, err = param.FieldAddress("to")
	require.NoError(err)
	require.Equal(to, addr)

	_, err = param.FieldByIDAddress(0)
	require.Equal(ErrInvlidEventParam, errors.Cause(err))
	_, err = param.FieldByIDUint256(7)
	require.Equal(ErrInvlidEventParam, errors.Cause(err))

	// missing topics
	log.Topics = log.Topics[:2]
	_, err = UnpackEventParam(&ev, log)
	require.Equal(ErrInvlidEventParam, errors.Cause(err))
}
