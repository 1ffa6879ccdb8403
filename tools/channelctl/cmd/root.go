// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package cmd

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/monitoring"
)

var _dbType string

// NewRootCmd creates the channelctl command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "channelctl",
		Short:         "Inspect the state of a stopped channel service",
		Long:          "channelctl reads the db of a stopped channel service. It never writes to it.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&_dbType, "db-type", db.DBBolt, "type of the db, boltdb or pebbledb")
	root.AddCommand(newStatusCmd(), newChannelsCmd(), newRequestsCmd(), newRouteCmd())
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

type stores struct {
	kv      db.KVStore
	graph   *graph.Store
	monitor *monitoring.Service
}

// openStores loads the graph and the monitor requests from the db at path
func openStores(ctx context.Context, path string) (*stores, error) {
	cfg := db.DefaultConfig
	cfg.DBType = _dbType
	cfg.ReadOnly = true
	kv, err := db.CreateKVStore(cfg, path)
	if err != nil {
		return nil, err
	}
	if err := kv.Start(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	s := &stores{
		kv:    kv,
		graph: graph.NewStore(kv, common.Address{}),
	}
	s.monitor = monitoring.NewService(monitoring.DefaultConfig, kv, s.graph, nil)
	for _, start := range []func(context.Context) error{s.graph.Start, s.monitor.Start} {
		if err := start(ctx); err != nil {
			_ = kv.Stop(ctx)
			return nil, err
		}
	}
	return s, nil
}

func (s *stores) close(ctx context.Context) error {
	return s.kv.Stop(ctx)
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.Errorf("invalid address %s", v)
	}
	return common.HexToAddress(v), nil
}
