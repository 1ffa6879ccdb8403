// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package httputil

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"
)

const (
	_connectionCount = 400
)

type (
	// ServerConfig is the config of http server
	ServerConfig struct {
		ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
		ReadTimeout       time.Duration `yaml:"readTimeout"`
		WriteTimeout      time.Duration `yaml:"writeTimeout"`
		IdleTimeout       time.Duration `yaml:"idleTimeout"`
	}

	// ServerOption is option of http server
	ServerOption func(*ServerConfig)
)

var (
	// DefaultServerConfig is the default config of http server
	DefaultServerConfig = ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
)

// ReadHeaderTimeout sets header timeout
func ReadHeaderTimeout(h time.Duration) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.ReadHeaderTimeout = h
	}
}

// WriteTimeout sets the timeout to write response
func WriteTimeout(d time.Duration) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.WriteTimeout = d
	}
}

// NewServer creates a HTTP server with time out settings.
func NewServer(addr string, handler http.Handler, opts ...ServerOption) http.Server {
	cfg := DefaultServerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return http.Server{
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		Addr:              addr,
		Handler:           handler,
	}
}

// LimitListener returns a Listener that accepts at most n simultaneous
// connections from the provided Listener.
func LimitListener(l string) (net.Listener, error) {
	ln, err := net.Listen("tcp", l)
	if err != nil {
		return nil, err
	}
	return netutil.LimitListener(ln, _connectionCount), nil
}
