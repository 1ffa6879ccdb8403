// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package pathfinding

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
)

var (
	// ErrInvalidRequest indicates a malformed route query
	ErrInvalidRequest = errors.New("invalid route request")
	// ErrNotFound indicates an unknown token network
	ErrNotFound = errors.New("token network not found")

	_queryMtc = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channel_service_route_query_seconds",
			Help:    "Latency of route queries by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(_queryMtc)
}

type (
	// Request is a route query
	Request struct {
		TokenNetwork common.Address
		Source       common.Address
		Target       common.Address
		Amount       *big.Int
		MaxPaths     int
	}

	// Hop is one channel leg of a route
	Hop struct {
		ChannelID *big.Int
		From      common.Address
		To        common.Address
		Capacity  *big.Int
		// Fee is what From charges for forwarding on this leg
		Fee *big.Int
	}

	// Route is a feasible route for the requested amount
	Route struct {
		Path         []common.Address
		Hops         []Hop
		EstimatedFee *big.Int
		// Height is the confirmed block of the graph the route was computed on
		Height uint64
	}

	// SnapshotSource provides the latest graph snapshot
	SnapshotSource interface {
		Snapshot() *graph.Snapshot
	}

	// Finder answers route queries on graph snapshots. It never modifies the graph.
	Finder struct {
		cfg    Config
		source SnapshotSource
		logger *zap.Logger
	}
)

// NewFinder creates a finder reading snapshots from source
func NewFinder(cfg Config, source SnapshotSource) *Finder {
	return &Finder{
		cfg:    cfg,
		source: source,
		logger: log.Logger("pathfinding"),
	}
}

// Config returns the finder's config
func (f *Finder) Config() Config { return f.cfg }

// FindRoutes returns up to req.MaxPaths distinct routes on the latest snapshot
func (f *Finder) FindRoutes(ctx context.Context, req Request) ([]Route, error) {
	return f.FindRoutesOn(ctx, f.source.Snapshot(), req)
}

// FindRoutesOn returns up to req.MaxPaths distinct routes ordered by total fee, hop
// count and channel ids. An empty result means no route can carry the amount.
func (f *Finder) FindRoutesOn(ctx context.Context, snap *graph.Snapshot, req Request) (routes []Route, err error) {
	start := time.Now()
	defer func() {
		outcome := "found"
		switch {
		case err != nil:
			outcome = "error"
		case len(routes) == 0:
			outcome = "empty"
		}
		_queryMtc.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()
	if err := f.validate(req); err != nil {
		return nil, err
	}
	if _, ok := snap.TokenNetwork(req.TokenNetwork); !ok {
		return nil, errors.Wrapf(ErrNotFound, "token network %s", req.TokenNetwork.Hex())
	}
	n := newNetwork(snap.Channels(req.TokenNetwork), req.Source, req.Amount)
	if !n.has(req.Source) || !n.has(req.Target) {
		return []Route{}, nil
	}
	paths, err := n.kShortest(ctx, req.Source, req.Target, req.MaxPaths)
	if err != nil {
		return nil, err
	}
	routes = make([]Route, 0, len(paths))
	for _, p := range paths {
		routes = append(routes, toRoute(p, req.Source, snap.Height()))
	}
	f.logger.Debug("Found routes.",
		zap.String("tokenNetwork", req.TokenNetwork.Hex()),
		zap.String("source", req.Source.Hex()),
		zap.String("target", req.Target.Hex()),
		zap.Int("routes", len(routes)))
	return routes, nil
}

func (f *Finder) validate(req Request) error {
	zero := common.Address{}
	switch {
	case req.TokenNetwork == zero:
		return errors.Wrap(ErrInvalidRequest, "token network is required")
	case req.Source == zero || req.Target == zero:
		return errors.Wrap(ErrInvalidRequest, "source and target are required")
	case req.Source == req.Target:
		return errors.Wrap(ErrInvalidRequest, "source and target must differ")
	case req.Amount == nil || req.Amount.Sign() <= 0:
		return errors.Wrap(ErrInvalidRequest, "amount must be positive")
	case req.MaxPaths < 1 || req.MaxPaths > f.cfg.MaxPathsLimit:
		return errors.Wrapf(ErrInvalidRequest, "max paths must be in [1, %d]", f.cfg.MaxPathsLimit)
	}
	return nil
}

// kShortest finds up to k loopless paths with Yen's algorithm
func (n *network) kShortest(ctx context.Context, src, dst common.Address, k int) ([]*path, error) {
	first := n.shortest(src, dst, nil, nil)
	if first == nil {
		return nil, nil
	}
	found := []*path{first}
	seen := map[string]bool{first.key(): true}
	var candidates []*path
	for len(found) < k {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev := found[len(found)-1]
		nodes := prev.nodes(src)
		for i := range prev.edges {
			root := &path{edges: prev.edges[:i], fee: new(big.Int)}
			for _, e := range root.edges {
				root.fee.Add(root.fee, e.fee)
			}
			bannedEdges := make(map[edgeKey]bool)
			for _, p := range found {
				if len(p.edges) > i && sameEdges(p.edges[:i], root.edges) {
					bannedEdges[p.edges[i].key] = true
				}
			}
			bannedNodes := make(map[common.Address]bool, i)
			for _, node := range nodes[:i] {
				bannedNodes[node] = true
			}
			spur := n.shortest(nodes[i], dst, bannedEdges, bannedNodes)
			if spur == nil {
				continue
			}
			candidate := root.join(spur)
			if key := candidate.key(); !seen[key] {
				seen[key] = true
				candidates = append(candidates, candidate)
			}
		}
		if len(candidates) == 0 {
			break
		}
		best := 0
		for i := range candidates {
			if candidates[i].less(candidates[best]) {
				best = i
			}
		}
		found = append(found, candidates[best])
		candidates = append(candidates[:best], candidates[best+1:]...)
	}
	return found, nil
}

func sameEdges(a, b []*edge) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].key != b[i].key {
			return false
		}
	}
	return true
}

func toRoute(p *path, source common.Address, height uint64) Route {
	r := Route{
		Path:         p.nodes(source),
		Hops:         make([]Hop, 0, len(p.edges)),
		EstimatedFee: new(big.Int).Set(p.fee),
		Height:       height,
	}
	for _, e := range p.edges {
		r.Hops = append(r.Hops, Hop{
			ChannelID: new(big.Int).Set(e.id),
			From:      e.from,
			To:        e.to,
			Capacity:  new(big.Int).Set(e.capacity),
			Fee:       new(big.Int).Set(e.fee),
		})
	}
	return r
}
