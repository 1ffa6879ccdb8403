// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package batch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var (
	bucket1 = "test_ns1"
	testK1  = [3][]byte{[]byte("key_1"), []byte("key_2"), []byte("key_3")}
	testV1  = [3][]byte{[]byte("value_1"), []byte("value_2"), []byte("value_3")}
)

func TestBaseKVStoreBatch(t *testing.T) {
	require := require.New(t)

	b := NewBatch()
	require.Equal(0, b.Size())
	b.Put(bucket1, testK1[0], testV1[0], "failed to put %x", testK1[0])
	b.Delete(bucket1, testK1[1], "")
	require.Equal(2, b.Size())

	w, err := b.Entry(0)
	require.NoError(err)
	require.Equal(Put, w.WriteType())
	require.Equal(bucket1, w.Namespace())
	require.Equal(testK1[0], w.Key())
	require.Equal(testV1[0], w.Value())
	require.Equal("failed to put %x", w.ErrorFormat())
	require.Len(w.ErrorArgs(), 1)

	w, err = b.Entry(1)
	require.NoError(err)
	require.Equal(Delete, w.WriteType())
	require.Nil(w.Value())

	_, err = b.Entry(2)
	require.Equal(ErrOutOfBound, errors.Cause(err))

	other := NewBatch()
	other.Put(bucket1, testK1[2], testV1[2], "")
	b.Append(other)
	require.Equal(3, b.Size())
	w, err = b.Entry(2)
	require.NoError(err)
	require.Equal(testK1[2], w.Key())

	b.Lock()
	b.ClearAndUnlock()
	require.Equal(0, b.Size())
	other.Clear()
	require.Equal(0, other.Size())
}

func TestWriteInfoCopies(t *testing.T) {
	require := require.New(t)

	key := []byte("k")
	wi := NewWriteInfo(Put, bucket1, key, []byte("v"), "")
	k := wi.Key()
	k[0] = 'x'
	require.Equal([]byte("k"), wi.Key())
}
