// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package pathfinding

import (
	"github.com/pkg/errors"
)

// Config is the config of the path finder
type Config struct {
	// DefaultMaxPaths is used by callers that omit the number of routes
	DefaultMaxPaths int `yaml:"defaultMaxPaths"`
	// MaxPathsLimit is the most routes one query may ask for
	MaxPathsLimit int `yaml:"maxPathsLimit"`
}

// DefaultConfig is the default config
var DefaultConfig = Config{
	DefaultMaxPaths: 3,
	MaxPathsLimit:   25,
}

// Validate validates the config
func (cfg Config) Validate() error {
	if cfg.MaxPathsLimit < 1 {
		return errors.New("max paths limit must be positive")
	}
	if cfg.DefaultMaxPaths < 1 || cfg.DefaultMaxPaths > cfg.MaxPathsLimit {
		return errors.Errorf("default max paths must be in [1, %d]", cfg.MaxPathsLimit)
	}
	return nil
}
