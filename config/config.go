// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package config

import (
	"crypto/ecdsa"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	uconfig "go.uber.org/config"
	"gopkg.in/yaml.v2"

	"github.com/iotexproject/iotex-channel-service/api"
	"github.com/iotexproject/iotex-channel-service/chainclient"
	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/monitoring"
	"github.com/iotexproject/iotex-channel-service/pathfinding"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
)

// IMPORTANT: to define a config, add a field or a new config type to the existing config types. In addition, provide
// the default value in Default var.

var (
	// Default is the default config
	Default = Config{
		Chain: Chain{
			Endpoint:    "http://127.0.0.1:15014",
			DialTimeout: 10 * time.Second,
			Retry:       chainclient.DefaultRetryPolicy,
		},
		DB:          db.DefaultConfig,
		EventSync:   eventsync.DefaultConfig,
		Pathfinding: pathfinding.DefaultConfig,
		Monitoring:  monitoring.DefaultConfig,
		API:         api.DefaultConfig,
		System: System{
			EnablePathfinding: true,
			EnableMonitoring:  false,
			StartupTimeout:    10 * time.Minute,
			ProbePort:         8080,
			ShutdownTimeout:   10 * time.Second,
		},
		SubLogs: make(map[string]log.GlobalConfig),
	}

	// ErrInvalidCfg indicates the invalid config value
	ErrInvalidCfg = errors.New("invalid config value")

	// Validates is the collection config validation functions
	Validates = []Validate{
		ValidateChain,
		ValidateDB,
		ValidateEventSync,
		ValidatePathfinding,
		ValidateMonitoring,
		ValidateAPI,
		ValidateSystem,
	}
)

type (
	// Chain is the config of the chain connection
	Chain struct {
		Endpoint    string        `yaml:"endpoint"`
		DialTimeout time.Duration `yaml:"dialTimeout"`
		// OperatorKey is the hex private key monitoring transactions are signed with
		OperatorKey string                  `yaml:"operatorKey"`
		Retry       chainclient.RetryPolicy `yaml:"retry"`
	}

	// System is the config of the service process
	System struct {
		EnablePathfinding bool `yaml:"enablePathfinding"`
		EnableMonitoring  bool `yaml:"enableMonitoring"`
		// StartupTimeout is how long start-up waits for event sync to catch up
		StartupTimeout  time.Duration `yaml:"startupTimeout"`
		ProbePort       int           `yaml:"probePort"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	}

	// Config is the root config struct, each package's config should be put as its sub struct
	Config struct {
		Chain       Chain                       `yaml:"chain"`
		DB          db.Config                   `yaml:"db"`
		EventSync   eventsync.Config            `yaml:"eventSync"`
		Pathfinding pathfinding.Config          `yaml:"pathfinding"`
		Monitoring  monitoring.Config           `yaml:"monitoring"`
		API         api.Config                  `yaml:"api"`
		System      System                      `yaml:"system"`
		Log         log.GlobalConfig            `yaml:"log"`
		SubLogs     map[string]log.GlobalConfig `yaml:"subLogs"`
	}

	// Validate is the interface of validating the config
	Validate func(Config) error
)

// New creates a config instance. It first loads the default configs. If the config path is not empty, it will read from
// the file and override the default configs. By default, it will apply all validation functions. To bypass validation,
// use DoNotValidate instead.
func New(configPaths []string, validates ...Validate) (Config, error) {
	opts := make([]uconfig.YAMLOption, 0)
	opts = append(opts, uconfig.Static(Default))
	opts = append(opts, uconfig.Expand(os.LookupEnv))
	for _, path := range configPaths {
		if path != "" {
			opts = append(opts, uconfig.File(path))
		}
	}
	yaml, err := uconfig.NewYAML(opts...)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to init config")
	}

	var cfg Config
	if err := yaml.Get(uconfig.Root).Populate(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal YAML config to struct")
	}

	// the monitoring contract is set once, either place
	zero := common.Address{}
	switch {
	case cfg.Monitoring.ContractAddress == zero:
		cfg.Monitoring.ContractAddress = cfg.EventSync.MonitoringServiceAddress
	case cfg.EventSync.MonitoringServiceAddress == zero:
		cfg.EventSync.MonitoringServiceAddress = cfg.Monitoring.ContractAddress
	}

	// By default, the config needs to pass all the validation
	if len(validates) == 0 {
		validates = Validates
	}
	for _, validate := range validates {
		if err := validate(cfg); err != nil {
			return Config{}, errors.Wrap(err, "failed to validate config")
		}
	}
	return cfg, nil
}

// Dump renders the effective config as YAML with the operator key redacted. Logger configs are left out since
// zap encoder configs hold functions.
func (cfg Config) Dump() ([]byte, error) {
	if cfg.Chain.OperatorKey != "" {
		cfg.Chain.OperatorKey = "<redacted>"
	}
	cfg.Log, cfg.SubLogs = log.GlobalConfig{}, nil
	return yaml.Marshal(cfg)
}

// PrivateKey parses the operator key
func (c Chain) PrivateKey() (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.OperatorKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCfg, "invalid operator key")
	}
	return key, nil
}

// ValidateChain validates the chain connection
func ValidateChain(cfg Config) error {
	if cfg.Chain.Endpoint == "" {
		return errors.Wrap(ErrInvalidCfg, "chain endpoint is required")
	}
	if err := cfg.Chain.Retry.Validate(); err != nil {
		return errors.Wrap(ErrInvalidCfg, err.Error())
	}
	if cfg.System.EnableMonitoring {
		if _, err := cfg.Chain.PrivateKey(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDB validates the db configs
func ValidateDB(cfg Config) error {
	if err := cfg.DB.Validate(); err != nil {
		return errors.Wrap(ErrInvalidCfg, err.Error())
	}
	return nil
}

// ValidateEventSync validates the event sync configs
func ValidateEventSync(cfg Config) error {
	if err := cfg.EventSync.Validate(); err != nil {
		return errors.Wrap(ErrInvalidCfg, err.Error())
	}
	return nil
}

// ValidatePathfinding validates the path finder configs
func ValidatePathfinding(cfg Config) error {
	if !cfg.System.EnablePathfinding {
		return nil
	}
	if err := cfg.Pathfinding.Validate(); err != nil {
		return errors.Wrap(ErrInvalidCfg, err.Error())
	}
	return nil
}

// ValidateMonitoring validates the monitoring configs
func ValidateMonitoring(cfg Config) error {
	if !cfg.System.EnableMonitoring {
		return nil
	}
	if err := cfg.Monitoring.Validate(); err != nil {
		return errors.Wrap(ErrInvalidCfg, err.Error())
	}
	if cfg.Monitoring.ContractAddress != cfg.EventSync.MonitoringServiceAddress {
		return errors.Wrap(ErrInvalidCfg, "monitoring contract differs from the one event sync follows")
	}
	return nil
}

// ValidateAPI validates the api configs
func ValidateAPI(cfg Config) error {
	if err := cfg.API.Validate(); err != nil {
		return errors.Wrap(ErrInvalidCfg, err.Error())
	}
	return nil
}

// ValidateSystem validates the system configs
func ValidateSystem(cfg Config) error {
	if !cfg.System.EnablePathfinding && !cfg.System.EnableMonitoring {
		return errors.Wrap(ErrInvalidCfg, "neither path finding nor monitoring is enabled")
	}
	if cfg.System.StartupTimeout <= 0 {
		return errors.Wrap(ErrInvalidCfg, "startup timeout must be positive")
	}
	return nil
}

// DoNotValidate validates the given config
func DoNotValidate(cfg Config) error { return nil }
