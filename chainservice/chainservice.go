// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package chainservice

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iotexproject/iotex-channel-service/api"
	"github.com/iotexproject/iotex-channel-service/chainclient"
	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/config"
	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/monitoring"
	"github.com/iotexproject/iotex-channel-service/pathfinding"
	"github.com/iotexproject/iotex-channel-service/pkg/lifecycle"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
	"github.com/iotexproject/iotex-channel-service/pkg/probe"
)

// ChainService runs event sync and the services built on the synced graph.
type ChainService struct {
	cfg     config.Config
	lc      lifecycle.Lifecycle
	kv      db.KVStore
	client  chainclient.Client
	closer  func()
	graph   *graph.Store
	finder  *pathfinding.Finder
	monitor *monitoring.Service
	engine  *eventsync.Engine
	api     *api.Server
	probe   *probe.Server
	fatal   chan error
	logger  *zap.Logger
}

type optionParams struct {
	client  chainclient.Client
	kv      db.KVStore
	clock   clock.Clock
	version string
	noProbe bool
}

// Option sets ChainService construction parameter.
type Option func(ops *optionParams) error

// WithClient uses client instead of dialing the configured endpoint.
func WithClient(client chainclient.Client) Option {
	return func(ops *optionParams) error {
		ops.client = client
		return nil
	}
}

// WithKVStore uses kv instead of the configured db.
func WithKVStore(kv db.KVStore) Option {
	return func(ops *optionParams) error {
		ops.kv = kv
		return nil
	}
}

// WithClock sets the clock event sync polls on.
func WithClock(c clock.Clock) Option {
	return func(ops *optionParams) error {
		ops.clock = c
		return nil
	}
}

// WithVersion sets the version reported by the api.
func WithVersion(v string) Option {
	return func(ops *optionParams) error {
		ops.version = v
		return nil
	}
}

// WithoutProbe disables the probe server.
func WithoutProbe() Option {
	return func(ops *optionParams) error {
		ops.noProbe = true
		return nil
	}
}

// New creates a ChainService from config. Monitoring needs the operator key to be set.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*ChainService, error) {
	var ops optionParams
	for _, opt := range opts {
		if err := opt(&ops); err != nil {
			return nil, err
		}
	}
	cs := &ChainService{
		cfg:    cfg,
		closer: func() {},
		fatal:  make(chan error, 1),
		logger: log.Logger("chainservice"),
	}

	cs.client = ops.client
	if cs.client == nil {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.DialTimeout)
		defer cancel()
		ethc, err := chainclient.Dial(dialCtx, cfg.Chain.Endpoint)
		if err != nil {
			return nil, err
		}
		cs.closer = ethc.Close
		cs.client = chainclient.NewRetryingClient(ethc, cfg.Chain.Retry)
	}
	cs.kv = ops.kv
	if cs.kv == nil {
		kv, err := db.CreateKVStore(cfg.DB, cfg.DB.DbPath)
		if err != nil {
			cs.closer()
			return nil, errors.Wrap(err, "failed to create db")
		}
		cs.kv = kv
	}

	cs.graph = graph.NewStore(cs.kv, cfg.EventSync.RegistryAddress)
	consumers := []eventsync.Consumer{cs.graph}
	info := api.Info{Version: ops.version}
	apiOpts := []api.Option{}
	if cfg.System.EnableMonitoring {
		key, err := cfg.Chain.PrivateKey()
		if err != nil {
			cs.closer()
			return nil, err
		}
		sender, err := chainclient.NewTxSender(ctx, cs.client, key)
		if err != nil {
			cs.closer()
			return nil, errors.Wrap(err, "failed to create transaction sender")
		}
		cs.monitor = monitoring.NewService(cfg.Monitoring, cs.kv, cs.graph, sender)
		consumers = append(consumers, cs.monitor)
		info.ChainID = sender.ChainID()
		info.Operator = sender.Address()
		info.MonitoringContract = cfg.Monitoring.ContractAddress
		apiOpts = append(apiOpts, api.WithMonitor(cs.monitor))
	}

	engineOpts := []eventsync.Option{
		eventsync.WithKnownTokenNetworks(cs.graph.TokenNetworkAddresses),
		eventsync.WithFatalHandler(cs.onFatal),
	}
	if ops.clock != nil {
		engineOpts = append(engineOpts, eventsync.WithClock(ops.clock))
	}
	cs.engine = eventsync.NewEngine(cfg.EventSync, cs.client, chainevent.NewDecoder(), consumers, engineOpts...)

	var finder api.RouteFinder
	if cfg.System.EnablePathfinding {
		cs.finder = pathfinding.NewFinder(cfg.Pathfinding, cs.graph)
		finder = cs.finder
	}
	cs.api = api.NewServer(cfg.API, cs.engine, cs.graph, finder, append(apiOpts, api.WithInfo(info))...)
	if !ops.noProbe {
		cs.probe = probe.New(cfg.System.ProbePort, probe.WithReadinessCheck(cs.engine.IsReady))
	}

	cs.lc.Add(cs.kv)
	cs.lc.Add(cs.graph)
	if cs.monitor != nil {
		cs.lc.Add(cs.monitor)
	}
	cs.lc.Add(cs.engine)
	return cs, nil
}

func (cs *ChainService) onFatal(err error) {
	cs.logger.Error("Event sync halted.", zap.Error(err))
	select {
	case cs.fatal <- err:
	default:
	}
}

// Start starts the stores and event sync, waits for event sync to catch up and then
// serves the api. Not catching up within the startup timeout is a start-up error.
func (cs *ChainService) Start(ctx context.Context) error {
	if cs.probe != nil {
		if err := cs.probe.Start(ctx); err != nil {
			return errors.Wrap(err, "error when starting probe server")
		}
	}
	if err := cs.lc.OnStart(ctx); err != nil {
		return errors.Wrap(err, "error when starting services")
	}
	cs.logger.Info("Waiting for event sync to catch up.", zap.Duration("timeout", cs.cfg.System.StartupTimeout))
	waitCtx, cancel := context.WithTimeout(ctx, cs.cfg.System.StartupTimeout)
	defer cancel()
	select {
	case err := <-cs.fatal:
		cs.fatal <- err
		return errors.Wrap(err, "event sync halted during start-up")
	case err := <-cs.waitReady(waitCtx):
		if err != nil {
			return errors.Wrap(err, "event sync did not catch up in time")
		}
	}
	if err := cs.api.Start(ctx); err != nil {
		return errors.Wrap(err, "error when starting api server")
	}
	if cs.probe != nil {
		cs.probe.Ready()
	}
	cs.logger.Info("Channel service is ready.", zap.Uint64("height", cs.engine.Cursor().Height))
	return nil
}

func (cs *ChainService) waitReady(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- cs.engine.WaitReady(ctx)
	}()
	return ch
}

// Stop shuts the api and probe servers down together, then stops event sync and the stores
func (cs *ChainService) Stop(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Wrap(cs.api.Stop(gctx), "error when stopping api server")
	})
	if cs.probe != nil {
		cs.probe.NotReady()
		g.Go(func() error {
			return errors.Wrap(cs.probe.Stop(gctx), "error when stopping probe server")
		})
	}
	err := g.Wait()
	if lcErr := cs.lc.OnStop(ctx); lcErr != nil && err == nil {
		err = errors.Wrap(lcErr, "error when stopping services")
	}
	cs.closer()
	return err
}

// Fatal delivers the error that halted event sync
func (cs *ChainService) Fatal() <-chan error { return cs.fatal }

// Engine returns the event sync engine
func (cs *ChainService) Engine() *eventsync.Engine { return cs.engine }

// Graph returns the channel graph store
func (cs *ChainService) Graph() *graph.Store { return cs.graph }

// Finder returns the path finder, nil when path finding is disabled
func (cs *ChainService) Finder() *pathfinding.Finder { return cs.finder }

// Monitor returns the monitoring service, nil when monitoring is disabled
func (cs *ChainService) Monitor() *monitoring.Service { return cs.monitor }

// API returns the api server
func (cs *ChainService) API() *api.Server { return cs.api }
