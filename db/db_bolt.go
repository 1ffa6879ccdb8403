// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package db

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/iotexproject/iotex-channel-service/db/batch"
	"github.com/iotexproject/iotex-channel-service/pkg/lifecycle"
)

const fileMode = 0600

// BoltDB is KVStore implementation based bolt DB
type BoltDB struct {
	lifecycle.Readiness
	db     *bolt.DB
	path   string
	config Config
}

// NewBoltDB instantiates an BoltDB with implements KVStore
func NewBoltDB(cfg Config) *BoltDB {
	return &BoltDB{
		db:     nil,
		path:   cfg.DbPath,
		config: cfg,
	}
}

// Start opens the BoltDB (creates new file if not existing yet)
func (b *BoltDB) Start(_ context.Context) error {
	opts := *bolt.DefaultOptions
	if b.config.ReadOnly {
		opts.ReadOnly = true
	}
	db, err := bolt.Open(b.path, fileMode, &opts)
	if err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	b.db = db
	return b.TurnOn()
}

// Stop closes the BoltDB
func (b *BoltDB) Stop(_ context.Context) error {
	if err := b.TurnOff(); err != nil {
		return err
	}
	if err := b.db.Close(); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	return nil
}

// Put inserts a <key, value> record
func (b *BoltDB) Put(namespace string, key, value []byte) (err error) {
	if !b.IsReady() {
		return ErrDBNotStarted
	}
	for c := uint8(0); c < b.numRetries(); c++ {
		if err = b.db.Update(func(tx *bolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
			if err != nil {
				return err
			}
			return bucket.Put(key, value)
		}); err == nil {
			break
		}
	}
	if err != nil {
		err = errors.Wrap(ErrIO, err.Error())
	}
	return err
}

// Get retrieves a record
func (b *BoltDB) Get(namespace string, key []byte) ([]byte, error) {
	if !b.IsReady() {
		return nil, ErrDBNotStarted
	}
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return errors.Wrapf(ErrNotExist, "bucket = %s doesn't exist", namespace)
		}
		v := bucket.Get(key)
		if v == nil {
			return errors.Wrapf(ErrNotExist, "key = %x doesn't exist", key)
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err == nil {
		return value, nil
	}
	if errors.Cause(err) == ErrNotExist {
		return nil, err
	}
	return nil, errors.Wrap(ErrIO, err.Error())
}

// Delete deletes a record
func (b *BoltDB) Delete(namespace string, key []byte) (err error) {
	if !b.IsReady() {
		return ErrDBNotStarted
	}
	for c := uint8(0); c < b.numRetries(); c++ {
		err = b.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket([]byte(namespace))
			if bucket == nil {
				return nil
			}
			return bucket.Delete(key)
		})
		if err == nil {
			break
		}
	}
	if err != nil {
		err = errors.Wrap(ErrIO, err.Error())
	}
	return err
}

// WriteBatch commits a batch in one bolt transaction
func (b *BoltDB) WriteBatch(kvsb batch.KVStoreBatch) (err error) {
	if !b.IsReady() {
		return ErrDBNotStarted
	}
	kvsb.Lock()
	defer kvsb.Unlock()

	for c := uint8(0); c < b.numRetries(); c++ {
		if err = b.db.Update(func(tx *bolt.Tx) error {
			for i := 0; i < kvsb.Size(); i++ {
				write, err := kvsb.Entry(i)
				if err != nil {
					return err
				}
				ns := []byte(write.Namespace())
				switch write.WriteType() {
				case batch.Put:
					bucket, err := tx.CreateBucketIfNotExists(ns)
					if err != nil {
						return errors.Wrapf(err, write.ErrorFormat(), write.ErrorArgs()...)
					}
					if err := bucket.Put(write.Key(), write.Value()); err != nil {
						return errors.Wrapf(err, write.ErrorFormat(), write.ErrorArgs()...)
					}
				case batch.Delete:
					bucket := tx.Bucket(ns)
					if bucket == nil {
						continue
					}
					if err := bucket.Delete(write.Key()); err != nil {
						return errors.Wrapf(err, write.ErrorFormat(), write.ErrorArgs()...)
					}
				}
			}
			return nil
		}); err == nil {
			break
		}
	}

	if err != nil {
		err = errors.Wrap(ErrIO, err.Error())
	}
	return err
}

// ForEach iterates the bucket in key order
func (b *BoltDB) ForEach(namespace string, fn func(k, v []byte) error) error {
	return b.ForEachPrefix(namespace, nil, fn)
}

// ForEachPrefix iterates the keys with the prefix in key order
func (b *BoltDB) ForEachPrefix(namespace string, prefix []byte, fn func(k, v []byte) error) error {
	if !b.IsReady() {
		return ErrDBNotStarted
	}
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			value := make([]byte, len(v))
			copy(value, v)
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrBreakIteration) {
		return nil
	}
	return err
}

func (b *BoltDB) numRetries() uint8 {
	if b.config.NumRetries == 0 {
		return 1
	}
	return b.config.NumRetries
}
