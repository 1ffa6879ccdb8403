// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package db

import (
	"context"
	"syscall"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iotexproject/iotex-channel-service/db/batch"
	"github.com/iotexproject/iotex-channel-service/pkg/lifecycle"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
)

const (
	prefixLength = 8
)

var (
	pebbledbMtc = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_service_pebbledb_writes",
		Help: "pebbledb write operations.",
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(pebbledbMtc)
}

// PebbleDB is KVStore implementation based on pebble DB
type PebbleDB struct {
	lifecycle.Readiness
	db     *pebble.DB
	path   string
	config Config
}

// NewPebbleDB creates a new PebbleDB instance
func NewPebbleDB(cfg Config) *PebbleDB {
	return &PebbleDB{
		db:     nil,
		path:   cfg.DbPath,
		config: cfg,
	}
}

// Start opens the DB (creates new file if not existing yet)
func (b *PebbleDB) Start(_ context.Context) error {
	db, err := pebble.Open(b.path, &pebble.Options{
		ReadOnly: b.config.ReadOnly,
	})
	if err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	b.db = db
	return b.TurnOn()
}

// Stop closes the DB
func (b *PebbleDB) Stop(_ context.Context) error {
	if err := b.TurnOff(); err != nil {
		return err
	}
	if err := b.db.Close(); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	return nil
}

// Get retrieves a record
func (b *PebbleDB) Get(ns string, key []byte) ([]byte, error) {
	if !b.IsReady() {
		return nil, ErrDBNotStarted
	}
	v, closer, err := b.db.Get(nsKey(ns, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotExist, "ns %s key = %x doesn't exist", ns, key)
		}
		return nil, errors.Wrap(ErrIO, err.Error())
	}
	val := make([]byte, len(v))
	copy(val, v)
	return val, closer.Close()
}

// Put inserts a <key, value> record
func (b *PebbleDB) Put(ns string, key, value []byte) (err error) {
	if !b.IsReady() {
		return ErrDBNotStarted
	}
	pebbledbMtc.WithLabelValues("put").Inc()
	err = b.db.Set(nsKey(ns, key), value, pebble.Sync)
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			log.L().Fatal("Failed to put db.", zap.Error(err))
		}
		err = errors.Wrap(ErrIO, err.Error())
	}
	return
}

// Delete deletes a record
func (b *PebbleDB) Delete(ns string, key []byte) (err error) {
	if !b.IsReady() {
		return ErrDBNotStarted
	}
	pebbledbMtc.WithLabelValues("delete").Inc()
	err = b.db.Delete(nsKey(ns, key), pebble.Sync)
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			log.L().Fatal("Failed to delete db.", zap.Error(err))
		}
		err = errors.Wrap(ErrIO, err.Error())
	}
	return
}

// WriteBatch commits a batch
func (b *PebbleDB) WriteBatch(kvsb batch.KVStoreBatch) error {
	if !b.IsReady() {
		return ErrDBNotStarted
	}

	pb, err := b.dedup(kvsb)
	if err != nil {
		return err
	}
	pebbledbMtc.WithLabelValues("batch").Inc()
	err = pb.Commit(pebble.Sync)
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			log.L().Fatal("Failed to write batch db.", zap.Error(err))
		}
		err = errors.Wrap(ErrIO, err.Error())
	}
	return err
}

func (b *PebbleDB) dedup(kvsb batch.KVStoreBatch) (*pebble.Batch, error) {
	kvsb.Lock()
	defer kvsb.Unlock()

	type doubleKey struct {
		ns  string
		key string
	}
	// remove duplicate keys, only keep the last write for each key
	var (
		entryKeySet = make(map[doubleKey]struct{})
		ch          = b.db.NewBatch()
	)
	for i := kvsb.Size() - 1; i >= 0; i-- {
		write, e := kvsb.Entry(i)
		if e != nil {
			return nil, e
		}
		key := write.Key()
		k := doubleKey{ns: write.Namespace(), key: string(key)}
		if _, ok := entryKeySet[k]; ok {
			continue
		}
		entryKeySet[k] = struct{}{}
		switch write.WriteType() {
		case batch.Put:
			if err := ch.Set(nsKey(write.Namespace(), key), write.Value(), nil); err != nil {
				return nil, err
			}
		case batch.Delete:
			if err := ch.Delete(nsKey(write.Namespace(), key), nil); err != nil {
				return nil, err
			}
		}
	}
	return ch, nil
}

// ForEach iterates the namespace in key order
func (b *PebbleDB) ForEach(ns string, fn func(k, v []byte) error) error {
	return b.ForEachPrefix(ns, nil, fn)
}

// ForEachPrefix iterates the keys with the prefix in key order
func (b *PebbleDB) ForEachPrefix(ns string, keyPrefix []byte, fn func(k, v []byte) error) error {
	if !b.IsReady() {
		return ErrDBNotStarted
	}
	prefix := nsKey(ns, keyPrefix)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create iterator")
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()[prefixLength:]
		key := make([]byte, len(k))
		copy(key, k)
		v := iter.Value()
		value := make([]byte, len(v))
		copy(value, v)
		if err := fn(key, value); err != nil {
			if errors.Is(err, ErrBreakIteration) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

func nsKey(ns string, key []byte) []byte {
	nk := nsToPrefix(ns)
	return append(nk, key...)
}

func nsToPrefix(ns string) []byte {
	h := crypto.Keccak256([]byte(ns))
	return h[:prefixLength]
}

// upperBound returns the smallest key greater than every key with the prefix
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
