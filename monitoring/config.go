// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package monitoring

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Config is the config of the monitoring service
type Config struct {
	// ContractAddress is the monitoring service contract
	ContractAddress common.Address `yaml:"contractAddress"`
	// MinReward is the smallest reward a request must offer
	MinReward uint64 `yaml:"minReward"`
	// MonitorGasLimit is the gas limit of a monitor transaction
	MonitorGasLimit uint64 `yaml:"monitorGasLimit"`
	// ClaimGasLimit is the gas limit of a claimReward transaction
	ClaimGasLimit uint64 `yaml:"claimGasLimit"`
}

// DefaultConfig is the default config
var DefaultConfig = Config{
	MinReward:       1,
	MonitorGasLimit: 350000,
	ClaimGasLimit:   150000,
}

// Validate validates the config
func (cfg Config) Validate() error {
	if cfg.ContractAddress == (common.Address{}) {
		return errors.New("monitoring service contract address is required")
	}
	if cfg.MonitorGasLimit == 0 || cfg.ClaimGasLimit == 0 {
		return errors.New("gas limits must be positive")
	}
	return nil
}
