// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package db

import "github.com/pkg/errors"

// DB types
const (
	DBBolt   = "boltdb"
	DBPebble = "pebbledb"

	// MemoryPath selects the in-memory store regardless of DBType
	MemoryPath = ":memory:"
)

// Config is the config for database
type Config struct {
	DbPath string `yaml:"dbPath"`
	// DBType is the type of the KV store, boltdb or pebbledb
	DBType string `yaml:"dbType"`
	// NumRetries is the number of retries
	NumRetries uint8 `yaml:"numRetries"`
	// ReadOnly is set db to be opened in read only mode
	ReadOnly bool `yaml:"readOnly"`
}

// DefaultConfig returns the default config
var DefaultConfig = Config{
	DbPath:     "./channel-service.db",
	DBType:     DBBolt,
	NumRetries: 3,
}

// Validate validates the db config
func (cfg Config) Validate() error {
	if cfg.DbPath == "" {
		return ErrEmptyDBPath
	}
	if cfg.DbPath == MemoryPath {
		return nil
	}
	switch cfg.DBType {
	case DBBolt, DBPebble:
		return nil
	default:
		return errors.Errorf("unsupported db type %s", cfg.DBType)
	}
}
