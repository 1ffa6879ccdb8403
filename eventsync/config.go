// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package eventsync

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Config is the config of the event sync engine
type Config struct {
	// ConfirmationDepth is how many blocks an event must be buried under before it is applied
	ConfirmationDepth uint64 `yaml:"confirmationDepth"`
	// PollInterval is the time between two ticks
	PollInterval time.Duration `yaml:"pollInterval"`
	// StartBlock is the first block a fresh store syncs
	StartBlock uint64 `yaml:"startBlock"`
	// MaxBlockRange bounds the blocks of one log query
	MaxBlockRange uint64 `yaml:"maxBlockRange"`
	// ReorgWindow is how many blocks below the cursor are remembered to replay a reorganization
	ReorgWindow uint64 `yaml:"reorgWindow"`
	// RegistryAddress is the token network registry contract
	RegistryAddress common.Address `yaml:"registryAddress"`
	// UserDepositAddress is the user deposit contract
	UserDepositAddress common.Address `yaml:"userDepositAddress"`
	// MonitoringServiceAddress is the monitoring service contract, zero when not monitoring
	MonitoringServiceAddress common.Address `yaml:"monitoringServiceAddress"`
}

// DefaultConfig is the default config
var DefaultConfig = Config{
	ConfirmationDepth: 5,
	PollInterval:      5 * time.Second,
	StartBlock:        0,
	MaxBlockRange:     10000,
	ReorgWindow:       256,
}

// Validate validates the config
func (cfg Config) Validate() error {
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if cfg.MaxBlockRange == 0 {
		return errors.New("max block range must be positive")
	}
	if cfg.ReorgWindow == 0 {
		return errors.New("reorg window must be positive")
	}
	if cfg.RegistryAddress == (common.Address{}) {
		return errors.New("token network registry address is required")
	}
	return nil
}
