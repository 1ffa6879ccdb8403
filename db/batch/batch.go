// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package batch

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfBound indicates an out of bound error
	ErrOutOfBound = errors.New("out of bound")
)

type (
	// KVStoreBatch defines a batch buffer interface that stages operations to a KVStore. All writes
	// of one batch are committed in a single storage transaction.
	KVStoreBatch interface {
		// Lock locks the batch
		Lock()
		// Unlock unlocks the batch
		Unlock()
		// ClearAndUnlock clears the write queue and unlocks the batch
		ClearAndUnlock()
		// Put inserts a <key, value> record
		Put(namespace string, key, value []byte, errorFormat string, errorArgs ...interface{})
		// Delete deletes a record by <namespace, key>
		Delete(namespace string, key []byte, errorFormat string, errorArgs ...interface{})
		// Size returns the size of batch
		Size() int
		// Entry returns the entry at the index
		Entry(int) (*WriteInfo, error)
		// Clear clears entries staged in batch
		Clear()
		// Append appends another batch's entries
		Append(KVStoreBatch)
	}

	// baseKVStoreBatch is the base implementation of KVStoreBatch
	baseKVStoreBatch struct {
		mutex      sync.RWMutex
		writeQueue []*WriteInfo
	}
)

// NewBatch returns a batch
func NewBatch() KVStoreBatch {
	return &baseKVStoreBatch{}
}

// Lock locks the batch
func (b *baseKVStoreBatch) Lock() {
	b.mutex.Lock()
}

// Unlock unlocks the batch
func (b *baseKVStoreBatch) Unlock() {
	b.mutex.Unlock()
}

// ClearAndUnlock clears the write queue and unlocks the batch
func (b *baseKVStoreBatch) ClearAndUnlock() {
	defer b.mutex.Unlock()
	b.writeQueue = nil
}

// Put inserts a <key, value> record
func (b *baseKVStoreBatch) Put(namespace string, key, value []byte, errorFormat string, errorArgs ...interface{}) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.writeQueue = append(b.writeQueue, NewWriteInfo(Put, namespace, key, value, errorFormat, errorArgs...))
}

// Delete deletes a record
func (b *baseKVStoreBatch) Delete(namespace string, key []byte, errorFormat string, errorArgs ...interface{}) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.writeQueue = append(b.writeQueue, NewWriteInfo(Delete, namespace, key, nil, errorFormat, errorArgs...))
}

// Size returns the size of batch
func (b *baseKVStoreBatch) Size() int {
	return len(b.writeQueue)
}

// Entry returns the entry at the index
func (b *baseKVStoreBatch) Entry(index int) (*WriteInfo, error) {
	if index < 0 || index >= len(b.writeQueue) {
		return nil, errors.Wrap(ErrOutOfBound, "index out of range")
	}
	return b.writeQueue[index], nil
}

// Clear clear write queue
func (b *baseKVStoreBatch) Clear() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.writeQueue = nil
}

// Append appends another batch's entries, keeping their order
func (b *baseKVStoreBatch) Append(other KVStoreBatch) {
	other.Lock()
	entries := make([]*WriteInfo, 0, other.Size())
	for i := 0; i < other.Size(); i++ {
		wi, _ := other.Entry(i)
		entries = append(entries, wi)
	}
	other.Unlock()
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.writeQueue = append(b.writeQueue, entries...)
}
