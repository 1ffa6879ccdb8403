// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package api

import (
	"time"

	"github.com/pkg/errors"
)

// Config is the api service config
type Config struct {
	// Port of the REST server, 0 disables it
	Port int `yaml:"port"`
	// MaxConcurrentRequests is the number of requests served at the same time
	MaxConcurrentRequests int64 `yaml:"maxConcurrentRequests"`
	// AcquireTimeout is how long a request waits for a slot before it is rejected
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	// RequestTimeout bounds the handling of one request
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	// RequestsPerSecond limits each client, 0 disables the limit
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	RequestBurst      int     `yaml:"requestBurst"`
	// TrackedClients is how many clients keep their own limiter
	TrackedClients int `yaml:"trackedClients"`
}

// DefaultConfig is the default config
var DefaultConfig = Config{
	Port:                  6000,
	MaxConcurrentRequests: 100,
	AcquireTimeout:        10 * time.Second,
	RequestTimeout:        30 * time.Second,
	ReadHeaderTimeout:     10 * time.Second,
	RequestsPerSecond:     20,
	RequestBurst:          40,
	TrackedClients:        10000,
}

// Validate checks the config
func (cfg Config) Validate() error {
	if cfg.Port < 0 {
		return errors.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Port > 0 && cfg.MaxConcurrentRequests <= 0 {
		return errors.New("max concurrent requests must be positive")
	}
	if cfg.RequestsPerSecond < 0 {
		return errors.Errorf("invalid requests per second %f", cfg.RequestsPerSecond)
	}
	if cfg.RequestsPerSecond > 0 && (cfg.RequestBurst <= 0 || cfg.TrackedClients <= 0) {
		return errors.New("request burst and tracked clients must be positive when rate limiting")
	}
	return nil
}
