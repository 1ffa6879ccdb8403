// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package byteutil

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestUint32(t *testing.T) {
	input := uint32(31415926)
	t.Run("converts a uint32 to 4 bytes in big-endian", func(t *testing.T) {
		expectedValue := []uint8([]byte{0x1, 0xdf, 0x5e, 0x76})
		result := Uint32ToBytesBigEndian(input)
		require.Equal(t, expectedValue, result)
	})
}

func TestUint64(t *testing.T) {
	input := uint64(1844674407370955161)
	t.Run("converts a uint64 to 8 bytes in big-endian", func(t *testing.T) {
		expectedValue := []uint8([]byte{0x19, 0x99, 0x99, 0x99, 0x99, 0x99, 0x99, 0x99})
		result := Uint64ToBytesBigEndian(input)
		require.Equal(t, expectedValue, result)
		require.Equal(t, input, BytesToUint64BigEndian(result))
	})

	t.Run("big-endian keys keep numeric order", func(t *testing.T) {
		require.Less(t, string(Uint64ToBytesBigEndian(255)), string(Uint64ToBytesBigEndian(256)))
	})
}

func TestBigIntToBytes32(t *testing.T) {
	require.Len(t, BigIntToBytes32(nil), 32)
	b := BigIntToBytes32(big.NewInt(0x0102))
	require.Len(t, b, 32)
	require.Equal(t, byte(0x01), b[30])
	require.Equal(t, byte(0x02), b[31])
}

func TestMust(t *testing.T) {
	t.Run("return identical output when given nil error", func(t *testing.T) {
		b := []byte{0x99, 0x99}
		require.Equal(t, b, Must(b, nil))
	})

	t.Run("panic when given error", func(t *testing.T) {
		require.Panics(t, func() { Must(nil, errors.New("failed")) })
	})
}
