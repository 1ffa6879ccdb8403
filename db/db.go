// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package db

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/iotexproject/iotex-channel-service/db/batch"
	"github.com/iotexproject/iotex-channel-service/pkg/lifecycle"
)

var (
	// ErrBucketNotExist indicates certain bucket does not exist in db
	ErrBucketNotExist = errors.New("bucket not exist in DB")
	// ErrNotExist indicates certain item does not exist in database
	ErrNotExist = errors.New("not exist in DB")
	// ErrIO indicates the generic error of DB I/O operation
	ErrIO = errors.New("DB I/O operation error")
	// ErrDBNotStarted indicates the db is accessed before Start or after Stop
	ErrDBNotStarted = errors.New("db has not started")
	// ErrBreakIteration stops a ForEach early without reporting an error
	ErrBreakIteration = errors.New("break iteration")
)

type (
	// KVStore is the interface of KV store.
	KVStore interface {
		lifecycle.StartStopper

		// Put insert or update a record identified by (namespace, key)
		Put(string, []byte, []byte) error
		// Get gets a record by (namespace, key)
		Get(string, []byte) ([]byte, error)
		// Delete deletes a record by (namespace, key)
		Delete(string, []byte) error
		// WriteBatch commits a batch atomically
		WriteBatch(batch.KVStoreBatch) error
		// ForEach calls fn for every record of the namespace in key order. Returning
		// ErrBreakIteration from fn ends the iteration without an error.
		ForEach(string, func(k, v []byte) error) error
		// ForEachPrefix is ForEach limited to the keys starting with prefix
		ForEachPrefix(string, []byte, func(k, v []byte) error) error
	}

	// memKVStore is the in-memory implementation of KVStore for testing purpose
	memKVStore struct {
		mu   sync.RWMutex
		data map[string]map[string][]byte
	}
)

// NewMemKVStore instantiates an in-memory KV store
func NewMemKVStore() KVStore {
	return &memKVStore{
		data: make(map[string]map[string][]byte),
	}
}

func (m *memKVStore) Start(_ context.Context) error { return nil }

func (m *memKVStore) Stop(_ context.Context) error { return nil }

// Put inserts a <key, value> record
func (m *memKVStore) Put(namespace string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(namespace, key, value)
	return nil
}

func (m *memKVStore) put(namespace string, key, value []byte) {
	bucket, ok := m.data[namespace]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[namespace] = bucket
	}
	v := make([]byte, len(value))
	copy(v, value)
	bucket[string(key)] = v
}

// Get retrieves a record
func (m *memKVStore) Get(namespace string, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.data[namespace]
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "namespace = %s doesn't exist", namespace)
	}
	value, ok := bucket[string(key)]
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "key = %x doesn't exist", key)
	}
	v := make([]byte, len(value))
	copy(v, value)
	return v, nil
}

// Delete deletes a record
func (m *memKVStore) Delete(namespace string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bucket, ok := m.data[namespace]; ok {
		delete(bucket, string(key))
	}
	return nil
}

// WriteBatch commits a batch
func (m *memKVStore) WriteBatch(b batch.KVStoreBatch) error {
	b.Lock()
	defer b.Unlock()
	writes := make([]*batch.WriteInfo, 0, b.Size())
	for i := 0; i < b.Size(); i++ {
		write, err := b.Entry(i)
		if err != nil {
			return err
		}
		writes = append(writes, write)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, write := range writes {
		switch write.WriteType() {
		case batch.Put:
			m.put(write.Namespace(), write.Key(), write.Value())
		case batch.Delete:
			if bucket, ok := m.data[write.Namespace()]; ok {
				delete(bucket, string(write.Key()))
			}
		}
	}
	return nil
}

// ForEach iterates the namespace in key order
func (m *memKVStore) ForEach(namespace string, fn func(k, v []byte) error) error {
	return m.ForEachPrefix(namespace, nil, fn)
}

// ForEachPrefix iterates the keys with the prefix in key order
func (m *memKVStore) ForEachPrefix(namespace string, prefix []byte, fn func(k, v []byte) error) error {
	m.mu.RLock()
	bucket := m.data[namespace]
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	values := make(map[string][]byte, len(bucket))
	for _, k := range keys {
		values[k] = bucket[k]
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), values[k]); err != nil {
			if errors.Is(err, ErrBreakIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}
