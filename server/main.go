// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

// Usage:
//   make build
//   ./bin/server -config-path=./config.yaml
//

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/iotexproject/iotex-channel-service/chainservice"
	"github.com/iotexproject/iotex-channel-service/config"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
)

// version is set at build time
var version = "unknown"

type strs []string

func (ss *strs) String() string {
	return strings.Join(*ss, ",")
}

func (ss *strs) Set(str string) error {
	*ss = append(*ss, str)
	return nil
}

var (
	_configPaths strs
	_printConfig bool
)

func init() {
	flag.Var(&_configPaths, "config-path", "Config path, may be given more than once, later files override earlier ones")
	flag.BoolVar(&_printConfig, "print-config", false, "Print the effective config and exit")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr,
			"usage: server -config-path=[string]\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
}

func main() {
	cfg, err := config.New(_configPaths)
	if err != nil {
		glog := zap.NewExample()
		glog.Fatal("Failed to load config file.", zap.Error(err))
	}
	if _printConfig {
		out, err := cfg.Dump()
		if err != nil {
			zap.NewExample().Fatal("Failed to render config.", zap.Error(err))
		}
		fmt.Print(string(out))
		return
	}
	if err := log.InitLoggers(cfg.Log, cfg.SubLogs); err != nil {
		glog := zap.NewExample()
		glog.Fatal("Cannot config global logger, use default one.", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cs, err := chainservice.New(ctx, cfg, chainservice.WithVersion(version))
	if err != nil {
		log.L().Fatal("Failed to create channel service.", zap.Error(err))
	}
	if err := cs.Start(ctx); err != nil {
		stopService(cs, cfg)
		log.L().Fatal("Failed to start channel service.", zap.Error(err))
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		log.L().Info("Received shutdown signal.")
	case err := <-cs.Fatal():
		log.L().Error("Channel service halted, shutting down.", zap.Error(err))
		exitCode = 1
	}
	stop()
	stopService(cs, cfg)
	os.Exit(exitCode)
}

func stopService(cs *chainservice.ChainService, cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.System.ShutdownTimeout)
	defer cancel()
	if err := cs.Stop(ctx); err != nil {
		log.L().Error("Failed to stop channel service.", zap.Error(err))
	}
	_ = log.L().Sync()
}
