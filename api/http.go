// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/monitoring"
	"github.com/iotexproject/iotex-channel-service/pathfinding"
	"github.com/iotexproject/iotex-channel-service/pkg/log"
	"github.com/iotexproject/iotex-channel-service/pkg/util/httputil"
)

const _maxBodyBytes = 1 << 20

var (
	// ErrInvalidRequest indicates a malformed request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotReady indicates the service has not caught up with the chain yet
	ErrNotReady = errors.New("service is not ready")
	// ErrTooManyRequests indicates no request slot was free in time
	ErrTooManyRequests = errors.New("too many requests")
)

type (
	// ReadinessChecker reports whether event sync caught up
	ReadinessChecker interface {
		IsReady() bool
	}

	// GraphSource provides the latest graph snapshot
	GraphSource interface {
		Snapshot() *graph.Snapshot
	}

	// RouteFinder answers route queries
	RouteFinder interface {
		FindRoutesOn(context.Context, *graph.Snapshot, pathfinding.Request) ([]pathfinding.Route, error)
		Config() pathfinding.Config
	}

	// MonitorService registers monitor requests and reports their progress
	MonitorService interface {
		RegisterRequest(context.Context, *monitoring.MonitorRequest) error
		Request(common.Address, *big.Int) ([]*monitoring.MonitorRequest, error)
	}

	// Info is the static part of GET /info
	Info struct {
		Version            string
		ChainID            *big.Int
		Operator           common.Address
		MonitoringContract common.Address
	}

	// Option is the option of Server
	Option func(*Server)

	// Server serves the REST api
	Server struct {
		cfg     Config
		info    Info
		ready   ReadinessChecker
		graph   GraphSource
		finder  RouteFinder
		monitor MonitorService
		sem     *semaphore.Weighted
		clients *clientLimiter
		handler http.Handler
		svr     *http.Server
		logger  *zap.Logger
	}
)

// WithInfo sets the static service information
func WithInfo(info Info) Option {
	return func(s *Server) {
		s.info = info
	}
}

// WithMonitor serves the monitoring endpoints with m
func WithMonitor(m MonitorService) Option {
	return func(s *Server) {
		s.monitor = m
	}
}

// NewServer creates the REST server. Path queries are served when finder is not nil,
// monitoring endpoints exist only with WithMonitor.
func NewServer(cfg Config, ready ReadinessChecker, graphSource GraphSource, finder RouteFinder, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		ready:  ready,
		graph:  graphSource,
		finder: finder,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentRequests),
		logger: log.Logger("api"),
	}
	if cfg.RequestsPerSecond > 0 {
		s.clients = newClientLimiter(cfg.TrackedClients, rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst)
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, s.limit)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", s.handleInfo)
		if s.finder != nil {
			r.Post("/{token_network}/paths", s.handlePaths)
		}
		if s.monitor != nil {
			r.Post("/monitor", s.handleRegister)
			r.Get("/monitor/{token_network}/{channel_id}", s.handleMonitorStatus)
		}
	})
	s.handler = r
	if cfg.Port > 0 {
		svr := httputil.NewServer(":"+strconv.Itoa(cfg.Port), r, httputil.ReadHeaderTimeout(cfg.ReadHeaderTimeout))
		s.svr = &svr
	}
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start starts the http server
func (s *Server) Start(_ context.Context) error {
	if s.svr == nil {
		return nil
	}
	go func() {
		if err := s.svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Failed to serve api.", zap.Error(err))
		}
	}()
	s.logger.Info("Api server starts.", zap.String("addr", s.svr.Addr))
	return nil
}

// Stop stops the http server
func (s *Server) Stop(ctx context.Context) error {
	if s.svr == nil {
		return nil
	}
	return s.svr.Shutdown(ctx)
}

// limit bounds the request rate per client, concurrent requests and the time each may take
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.clients != nil && !s.clients.Allow(clientKey(r)) {
			s.writeError(w, r, ErrTooManyRequests)
			return
		}
		if s.cfg.AcquireTimeout > 0 {
			acquireCtx, cancel := context.WithTimeout(r.Context(), s.cfg.AcquireTimeout)
			err := s.sem.Acquire(acquireCtx, 1)
			cancel()
			if err != nil {
				s.writeError(w, r, ErrTooManyRequests)
				return
			}
		} else if !s.sem.TryAcquire(1) {
			s.writeError(w, r, ErrTooManyRequests)
			return
		}
		defer s.sem.Release(1)

		if s.cfg.RequestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the host part of the remote address, already rewritten by RealIP
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snap := s.graph.Snapshot()
	cursor := snap.Cursor()
	resp := infoResponse{
		Version:        s.info.Version,
		Ready:          s.ready.IsReady(),
		ConfirmedBlock: cursor.Height,
		ConfirmedHash:  cursor.Hash,
		TokenNetworks:  []tokenNetworkInfo{},
		UserDeposits:   snap.Stats().Deposits,
	}
	if s.info.ChainID != nil {
		resp.ChainID = s.info.ChainID.String()
	}
	if s.info.Operator != (common.Address{}) {
		op := s.info.Operator
		resp.Operator = &op
	}
	if s.info.MonitoringContract != (common.Address{}) {
		ms := s.info.MonitoringContract
		resp.MonitoringContract = &ms
	}
	for _, tn := range snap.TokenNetworks() {
		resp.TokenNetworks = append(resp.TokenNetworks, toTokenNetworkInfo(snap, tn))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	if !s.ready.IsReady() {
		s.writeError(w, r, ErrNotReady)
		return
	}
	tokenNetwork, err := addressParam(r, "token_network")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body pathsRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req := pathfinding.Request{
		TokenNetwork: tokenNetwork,
		Source:       body.From,
		Target:       body.To,
		Amount:       toInt(body.Value),
		MaxPaths:     s.finder.Config().DefaultMaxPaths,
	}
	if body.MaxPaths != nil {
		req.MaxPaths = *body.MaxPaths
	}
	// the reported block is the height of the snapshot the routes were found on
	snap := s.graph.Snapshot()
	routes, err := s.finder.FindRoutesOn(r.Context(), snap, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPathsResponse(routes, snap.Height()))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.ready.IsReady() {
		s.writeError(w, r, ErrNotReady)
		return
	}
	var body monitorRequestJSON
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req := body.toRequest()
	if err := s.monitor.RegisterRequest(r.Context(), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rs, err := s.monitor.Request(req.TokenNetwork(), req.ChannelID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMonitorResponse(req.TokenNetwork(), req.ChannelID(), rs))
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	tokenNetwork, err := addressParam(r, "token_network")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, ok := new(big.Int).SetString(chi.URLParam(r, "channel_id"), 0)
	if !ok || id.Sign() < 0 {
		s.writeError(w, r, errors.Wrapf(ErrInvalidRequest, "invalid channel id %q", chi.URLParam(r, "channel_id")))
		return
	}
	rs, err := s.monitor.Request(tokenNetwork, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonitorResponse(tokenNetwork, id, rs))
}

func toMonitorResponse(tokenNetwork common.Address, id *big.Int, rs []*monitoring.MonitorRequest) monitorResponse {
	resp := monitorResponse{
		TokenNetwork: tokenNetwork,
		ChannelID:    id.String(),
		Requests:     make([]monitorStatusResponse, 0, len(rs)),
	}
	for _, req := range rs {
		resp.Requests = append(resp.Requests, toMonitorStatus(req))
	}
	return resp
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	v := chi.URLParam(r, name)
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.Wrapf(ErrInvalidRequest, "invalid address %q", v)
	}
	return common.HexToAddress(v), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, _maxBodyBytes)).Decode(v); err != nil {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}
	return nil
}

// statusOf maps error categories to http status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pathfinding.ErrInvalidRequest),
		errors.Is(err, monitoring.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, pathfinding.ErrNotFound),
		errors.Is(err, monitoring.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Failed to serve request.",
			zap.String("path", r.URL.Path),
			zap.String("requestID", chimw.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.L().Debug("Failed to write response.", zap.Error(err))
	}
}
