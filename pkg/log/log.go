// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package log

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// GlobalConfig defines the global logger configurations.
type GlobalConfig struct {
	Zap            *zap.Config `json:"zap" yaml:"zap"`
	RotateFile     *RotateFile `json:"rotateFile" yaml:"rotateFile"`
	RedirectStdLog bool        `json:"stdLogRedirect" yaml:"stdLogRedirect"`
}

// RotateFile configures a size rotated log file written next to the zap outputs
type RotateFile struct {
	Filename   string `json:"filename" yaml:"filename"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

var (
	_globalCfg  GlobalConfig
	_logMu      sync.RWMutex
	_logger     *zap.Logger
	_subLoggers map[string]*zap.Logger
)

func init() {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level.SetLevel(zap.InfoLevel)
	l, err := zapCfg.Build()
	if err != nil {
		zap.L().Panic("Failed to init zap global logger, no zap log will be shown till zap is properly initialized.", zap.Error(err))
	}
	_logMu.Lock()
	_globalCfg.Zap = &zapCfg
	_logger = l
	_subLoggers = make(map[string]*zap.Logger)
	_logMu.Unlock()
}

// L wraps zap.L().
func L() *zap.Logger {
	_logMu.RLock()
	defer _logMu.RUnlock()
	return _logger
}

// S wraps zap.S().
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Logger returns logger of the given name, falling back to the global logger
func Logger(name string) *zap.Logger {
	_logMu.RLock()
	logger, ok := _subLoggers[name]
	_logMu.RUnlock()
	if !ok {
		return L().Named(name)
	}
	return logger
}

// InitLoggers initializes the global logger and other sub loggers.
func InitLoggers(globalCfg GlobalConfig, subCfgs map[string]GlobalConfig, opts ...zap.Option) error {
	if _, exists := subCfgs["global"]; exists {
		return errors.New("'global' is a reserved name for global logger")
	}
	built := make(map[string]*zap.Logger, len(subCfgs))
	global, err := buildLogger(globalCfg, opts...)
	if err != nil {
		return errors.Wrap(err, "failed to build global logger")
	}
	for name, cfg := range subCfgs {
		logger, err := buildLogger(cfg, opts...)
		if err != nil {
			return errors.Wrapf(err, "failed to build sub logger %s", name)
		}
		built[name] = logger.Named(name)
	}

	_logMu.Lock()
	_globalCfg = globalCfg
	_logger = global
	_subLoggers = built
	_logMu.Unlock()
	if globalCfg.RedirectStdLog {
		zap.RedirectStdLog(global)
	}
	zap.ReplaceGlobals(global)
	return nil
}

func buildLogger(cfg GlobalConfig, opts ...zap.Option) (*zap.Logger, error) {
	if cfg.Zap == nil {
		zapCfg := zap.NewProductionConfig()
		cfg.Zap = &zapCfg
	}
	logger, err := cfg.Zap.Build(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.RotateFile == nil || cfg.RotateFile.Filename == "" {
		return logger, nil
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.RotateFile.Filename,
		MaxSize:    cfg.RotateFile.MaxSizeMB,
		MaxBackups: cfg.RotateFile.MaxBackups,
		MaxAge:     cfg.RotateFile.MaxAgeDays,
		Compress:   cfg.RotateFile.Compress,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.Zap.EncoderConfig), writer, cfg.Zap.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}
