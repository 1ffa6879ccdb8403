// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/monitoring"
	"github.com/iotexproject/iotex-channel-service/pathfinding"
	"github.com/iotexproject/iotex-channel-service/test/mock/mock_api"
	"github.com/iotexproject/iotex-channel-service/testutil"
)

var (
	_registry = common.HexToAddress("0x0000000000000000000000000000000000000001")
	_token    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	_tn       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	_a        = common.HexToAddress("0x000000000000000000000000000000000000000a")
	_b        = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

func newGraph(t *testing.T) *graph.Store {
	store := graph.NewStore(db.NewMemKVStore(), _registry)
	require.NoError(t, store.Start(context.Background()))
	events := []chainevent.Event{
		&chainevent.TokenNetworkCreated{
			Base:         chainevent.Base{Coords: chainevent.Coordinates{BlockNumber: 1}, Address: _registry},
			Token:        _token,
			TokenNetwork: _tn,
		},
		&chainevent.ChannelOpened{
			Base:          chainevent.Base{Coords: chainevent.Coordinates{BlockNumber: 2}, Address: _tn},
			ChannelID:     big.NewInt(1),
			Participant1:  _a,
			Participant2:  _b,
			SettleTimeout: 100,
		},
	}
	require.NoError(t, store.ApplyEvents(context.Background(), eventsync.Cursor{Height: 5, Hash: common.HexToHash("0x05")}, events))
	return store
}

type fixture struct {
	graph   *graph.Store
	ready   *mock_api.MockReadinessChecker
	finder  *mock_api.MockRouteFinder
	monitor *mock_api.MockMonitorService
	server  *Server
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		graph:   newGraph(t),
		ready:   mock_api.NewMockReadinessChecker(ctrl),
		finder:  mock_api.NewMockRouteFinder(ctrl),
		monitor: mock_api.NewMockMonitorService(ctrl),
	}
	f.finder.EXPECT().Config().Return(pathfinding.DefaultConfig).AnyTimes()
	opts = append([]Option{WithMonitor(f.monitor)}, opts...)
	f.server = NewServer(cfg, f.ready, f.graph, f.finder, opts...)
	return f
}

func serve(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func pathsURL(tn common.Address) string {
	return "/api/v1/" + tn.Hex() + "/paths"
}

func TestPaths(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, DefaultConfig)
	f.ready.EXPECT().IsReady().Return(true).AnyTimes()

	t.Run("DefaultMaxPaths", func(t *testing.T) {
		f.finder.EXPECT().FindRoutesOn(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, snap *graph.Snapshot, req pathfinding.Request) ([]pathfinding.Route, error) {
				require.Equal(uint64(5), snap.Height())
				require.Equal(_tn, req.TokenNetwork)
				require.Equal(_a, req.Source)
				require.Equal(_b, req.Target)
				require.Equal(big.NewInt(100), req.Amount)
				require.Equal(pathfinding.DefaultConfig.DefaultMaxPaths, req.MaxPaths)
				return []pathfinding.Route{{
					Path: []common.Address{_a, _b},
					Hops: []pathfinding.Hop{{
						ChannelID: big.NewInt(1),
						From:      _a,
						To:        _b,
						Capacity:  big.NewInt(150),
						Fee:       big.NewInt(0),
					}},
					EstimatedFee: big.NewInt(0),
					Height:       5,
				}}, nil
			})
		resp := serve(f.server, http.MethodPost, pathsURL(_tn), `{"from":"`+_a.Hex()+`","to":"`+_b.Hex()+`","value":"0x64"}`)
		require.Equal(http.StatusOK, resp.Code)
		var body pathsResponse
		require.NoError(json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(uint64(5), body.Block)
		require.Len(body.Result, 1)
		require.Equal([]common.Address{_a, _b}, body.Result[0].Path)
		require.Equal("0", body.Result[0].EstimatedFee)
		require.Equal("1", body.Result[0].Hops[0].ChannelID)
		require.Equal("150", body.Result[0].Hops[0].Capacity)
	})

	t.Run("NoRoute", func(t *testing.T) {
		f.finder.EXPECT().FindRoutesOn(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ *graph.Snapshot, req pathfinding.Request) ([]pathfinding.Route, error) {
				require.Equal(7, req.MaxPaths)
				return []pathfinding.Route{}, nil
			})
		resp := serve(f.server, http.MethodPost, pathsURL(_tn), `{"from":"`+_a.Hex()+`","to":"`+_b.Hex()+`","value":"100","max_paths":7}`)
		require.Equal(http.StatusOK, resp.Code)
		require.JSONEq(`{"result":[],"block":5}`, resp.Body.String())
	})

	t.Run("Errors", func(t *testing.T) {
		for _, c := range []struct {
			err    error
			status int
		}{
			{errors.Wrap(pathfinding.ErrInvalidRequest, "amount must be positive"), http.StatusBadRequest},
			{errors.Wrap(pathfinding.ErrNotFound, "token network"), http.StatusNotFound},
			{errors.New("boom"), http.StatusInternalServerError},
		} {
			f.finder.EXPECT().FindRoutesOn(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, c.err)
			resp := serve(f.server, http.MethodPost, pathsURL(_tn), `{"from":"`+_a.Hex()+`","to":"`+_b.Hex()+`","value":"1"}`)
			require.Equal(c.status, resp.Code)
			var body errorResponse
			require.NoError(json.NewDecoder(resp.Body).Decode(&body))
			require.Equal(c.err.Error(), body.Error)
		}

		resp := serve(f.server, http.MethodPost, "/api/v1/0x1234/paths", `{}`)
		require.Equal(http.StatusBadRequest, resp.Code)
		resp = serve(f.server, http.MethodPost, pathsURL(_tn), `{"value":-}`)
		require.Equal(http.StatusBadRequest, resp.Code)
		resp = serve(f.server, http.MethodGet, pathsURL(_tn), "")
		require.Equal(http.StatusMethodNotAllowed, resp.Code)
	})

	t.Run("GraphAdvancesDuringQuery", func(t *testing.T) {
		f.finder.EXPECT().FindRoutesOn(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, snap *graph.Snapshot, _ pathfinding.Request) ([]pathfinding.Route, error) {
				require.NoError(f.graph.ApplyEvents(ctx, eventsync.Cursor{Height: 9, Hash: common.HexToHash("0x09")}, nil))
				return []pathfinding.Route{}, nil
			})
		resp := serve(f.server, http.MethodPost, pathsURL(_tn), `{"from":"`+_a.Hex()+`","to":"`+_b.Hex()+`","value":"1"}`)
		require.Equal(http.StatusOK, resp.Code)
		require.JSONEq(`{"result":[],"block":5}`, resp.Body.String())
		require.Equal(uint64(9), f.graph.Snapshot().Height())
	})
}

func TestNotReady(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, DefaultConfig)
	f.ready.EXPECT().IsReady().Return(false).AnyTimes()

	resp := serve(f.server, http.MethodPost, pathsURL(_tn), `{"from":"`+_a.Hex()+`","to":"`+_b.Hex()+`","value":"1"}`)
	require.Equal(http.StatusServiceUnavailable, resp.Code)
	resp = serve(f.server, http.MethodPost, "/api/v1/monitor", `{}`)
	require.Equal(http.StatusServiceUnavailable, resp.Code)

	// info is served while syncing
	resp = serve(f.server, http.MethodGet, "/api/v1/info", "")
	require.Equal(http.StatusOK, resp.Code)
	var body infoResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	require.False(body.Ready)
}

func TestInfo(t *testing.T) {
	require := require.New(t)
	op := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	f := newFixture(t, DefaultConfig, WithInfo(Info{
		Version:  "v1.0.0",
		ChainID:  big.NewInt(4690),
		Operator: op,
	}))
	f.ready.EXPECT().IsReady().Return(true)

	resp := serve(f.server, http.MethodGet, "/api/v1/info", "")
	require.Equal(http.StatusOK, resp.Code)
	var body infoResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	require.True(body.Ready)
	require.Equal("v1.0.0", body.Version)
	require.Equal("4690", body.ChainID)
	require.Equal(&op, body.Operator)
	require.Nil(body.MonitoringContract)
	require.Equal(uint64(5), body.ConfirmedBlock)
	require.Equal(common.HexToHash("0x05"), body.ConfirmedHash)
	require.Len(body.TokenNetworks, 1)
	require.Equal(_tn, body.TokenNetworks[0].Address)
	require.Equal(_token, body.TokenNetworks[0].Token)
	require.Equal(map[string]int{"opened": 1}, body.TokenNetworks[0].Channels)
}

func TestMonitor(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, DefaultConfig)
	f.ready.EXPECT().IsReady().Return(true).AnyTimes()

	stored := &monitoring.MonitorRequest{
		BalanceProof: monitoring.BalanceProof{
			TokenNetwork: _tn,
			ChannelID:    big.NewInt(1),
			Nonce:        big.NewInt(3),
		},
		NonClosingParticipant: _a,
		ClosingParticipant:    _b,
		RewardAmount:          big.NewInt(10),
		State:                 monitoring.StateSubmitted,
		ClosedBlock:           20,
		DeadlineBlock:         120,
		Submission: monitoring.Submission{
			Submitted: true,
			TxHash:    common.HexToHash("0xabcd"),
		},
	}

	t.Run("Register", func(t *testing.T) {
		body := `{
			"balance_proof": {
				"chain_id": "4690",
				"token_network_address": "` + _tn.Hex() + `",
				"channel_identifier": "1",
				"nonce": "3",
				"transferred_amount": "0x10",
				"locked_amount": "0",
				"locksroot": "0x0000000000000000000000000000000000000000000000000000000000000001",
				"additional_hash": "0x0000000000000000000000000000000000000000000000000000000000000002",
				"signature": "0x0102"
			},
			"non_closing_participant": "` + _a.Hex() + `",
			"non_closing_signature": "0x0304",
			"reward_amount": "10",
			"reward_proof_signature": "0x0506"
		}`
		f.monitor.EXPECT().RegisterRequest(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *monitoring.MonitorRequest) error {
				bp := req.BalanceProof
				require.Equal(big.NewInt(4690), bp.ChainID)
				require.Equal(_tn, bp.TokenNetwork)
				require.Equal(big.NewInt(1), bp.ChannelID)
				require.Equal(big.NewInt(3), bp.Nonce)
				require.Equal(big.NewInt(16), bp.TransferredAmount)
				require.Equal(common.HexToHash("0x01"), bp.Locksroot)
				require.Equal([]byte{1, 2}, bp.Signature)
				require.Equal(_a, req.NonClosingParticipant)
				require.Equal([]byte{3, 4}, req.NonClosingSignature)
				require.Equal(big.NewInt(10), req.RewardAmount)
				require.Equal([]byte{5, 6}, req.RewardProofSignature)
				return nil
			})
		f.monitor.EXPECT().Request(_tn, big.NewInt(1)).Return([]*monitoring.MonitorRequest{stored}, nil)
		resp := serve(f.server, http.MethodPost, "/api/v1/monitor", body)
		require.Equal(http.StatusCreated, resp.Code)

		f.monitor.EXPECT().RegisterRequest(gomock.Any(), gomock.Any()).Return(errors.Wrap(monitoring.ErrInvalidRequest, "bad signature"))
		resp = serve(f.server, http.MethodPost, "/api/v1/monitor", body)
		require.Equal(http.StatusBadRequest, resp.Code)

		f.monitor.EXPECT().RegisterRequest(gomock.Any(), gomock.Any()).Return(errors.Wrap(monitoring.ErrNotFound, "channel 1"))
		resp = serve(f.server, http.MethodPost, "/api/v1/monitor", body)
		require.Equal(http.StatusNotFound, resp.Code)
	})

	t.Run("Status", func(t *testing.T) {
		f.monitor.EXPECT().Request(_tn, big.NewInt(1)).Return([]*monitoring.MonitorRequest{stored}, nil)
		resp := serve(f.server, http.MethodGet, "/api/v1/monitor/"+_tn.Hex()+"/1", "")
		require.Equal(http.StatusOK, resp.Code)
		var body monitorResponse
		require.NoError(json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(_tn, body.TokenNetwork)
		require.Equal("1", body.ChannelID)
		require.Len(body.Requests, 1)
		st := body.Requests[0]
		require.Equal("submitted", st.State)
		require.Equal(_b, st.ClosingParticipant)
		require.Equal("3", st.Nonce)
		require.Equal(uint64(120), st.DeadlineBlock)
		require.NotNil(st.MonitorTx)
		require.Equal(common.HexToHash("0xabcd"), *st.MonitorTx)
		require.Nil(st.ClaimTx)

		f.monitor.EXPECT().Request(_tn, big.NewInt(2)).Return(nil, errors.Wrap(monitoring.ErrNotFound, "no monitor request"))
		resp = serve(f.server, http.MethodGet, "/api/v1/monitor/"+_tn.Hex()+"/0x2", "")
		require.Equal(http.StatusNotFound, resp.Code)

		resp = serve(f.server, http.MethodGet, "/api/v1/monitor/"+_tn.Hex()+"/abc", "")
		require.Equal(http.StatusBadRequest, resp.Code)
	})

	t.Run("Disabled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := NewServer(DefaultConfig, f.ready, newGraph(t), mock_api.NewMockRouteFinder(ctrl))
		resp := serve(s, http.MethodPost, "/api/v1/monitor", "{}")
		require.Equal(http.StatusNotFound, resp.Code)
	})
}

func TestTooManyRequests(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig
	cfg.MaxConcurrentRequests = 1
	cfg.AcquireTimeout = 0
	f := newFixture(t, cfg)

	require.True(f.server.sem.TryAcquire(1))
	resp := serve(f.server, http.MethodGet, "/api/v1/info", "")
	require.Equal(http.StatusTooManyRequests, resp.Code)

	f.server.sem.Release(1)
	f.ready.EXPECT().IsReady().Return(true)
	resp = serve(f.server, http.MethodGet, "/api/v1/info", "")
	require.Equal(http.StatusOK, resp.Code)
}

func TestRateLimit(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig
	cfg.RequestsPerSecond = 0.001
	cfg.RequestBurst = 2
	f := newFixture(t, cfg)
	f.ready.EXPECT().IsReady().Return(true).Times(3)

	get := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/info", nil)
		req.RemoteAddr = remote
		resp := httptest.NewRecorder()
		f.server.ServeHTTP(resp, req)
		return resp.Code
	}
	require.Equal(http.StatusOK, get("10.0.0.1:1000"))
	require.Equal(http.StatusOK, get("10.0.0.1:1001"))
	require.Equal(http.StatusTooManyRequests, get("10.0.0.1:1002"))
	// other clients own their buckets
	require.Equal(http.StatusOK, get("10.0.0.2:1000"))
}

func TestServerStartStop(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig
	cfg.Port = testutil.RandomPort()
	f := newFixture(t, cfg)
	f.ready.EXPECT().IsReady().Return(true).AnyTimes()

	require.NoError(f.server.Start(context.Background()))
	err := testutil.WaitUntil(100*time.Millisecond, 3*time.Second, func() (bool, error) {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/info", cfg.Port))
		if err != nil {
			return false, nil
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	})
	require.NoError(err)
	require.NoError(f.server.Stop(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	require := require.New(t)
	require.NoError(DefaultConfig.Validate())
	cfg := DefaultConfig
	cfg.MaxConcurrentRequests = 0
	require.Error(cfg.Validate())
	cfg.Port = 0
	require.NoError(cfg.Validate())
	cfg.Port = -1
	require.Error(cfg.Validate())

	cfg = DefaultConfig
	cfg.RequestsPerSecond = -1
	require.Error(cfg.Validate())
	cfg.RequestsPerSecond = 1
	cfg.RequestBurst = 0
	require.Error(cfg.Validate())
	cfg.RequestsPerSecond = 0
	require.NoError(cfg.Validate())
}
