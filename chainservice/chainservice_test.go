// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package chainservice

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/config"
	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/testutil"
)

var (
	_registry = common.HexToAddress("0x0000000000000000000000000000000000000001")
	_ms       = common.HexToAddress("0x0000000000000000000000000000000000000003")
	_token    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	_tn       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	_alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	_bob      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func testConfig(t *testing.T) config.Config {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := config.Default
	cfg.Chain.OperatorKey = hex.EncodeToString(crypto.FromECDSA(key))
	cfg.DB.DbPath = db.MemoryPath
	cfg.EventSync.RegistryAddress = _registry
	cfg.EventSync.MonitoringServiceAddress = _ms
	cfg.EventSync.ConfirmationDepth = 2
	cfg.EventSync.PollInterval = time.Second
	cfg.Monitoring.ContractAddress = _ms
	cfg.API.Port = 0
	cfg.System.EnableMonitoring = true
	cfg.System.StartupTimeout = 5 * time.Second
	for _, validate := range config.Validates {
		require.NoError(t, validate(cfg))
	}
	return cfg
}

func newChain() *testutil.FakeChain {
	chain := testutil.NewFakeChain()
	chain.Mine(&chainevent.TokenNetworkCreated{
		Base:         chainevent.Base{Address: _registry},
		Token:        _token,
		TokenNetwork: _tn,
	})
	chain.Mine(
		&chainevent.ChannelOpened{Base: chainevent.Base{Address: _tn}, ChannelID: big.NewInt(1), Participant1: _alice, Participant2: _bob, SettleTimeout: 100},
		&chainevent.ChannelDeposit{Base: chainevent.Base{Address: _tn}, ChannelID: big.NewInt(1), Participant: _alice, TotalDeposit: big.NewInt(100)},
	)
	return chain
}

func serve(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestChainService(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	chain := newChain()
	chain.MineEmpty(2)

	cs, err := New(ctx, testConfig(t),
		WithClient(chain),
		WithKVStore(db.NewMemKVStore()),
		WithClock(clock.NewMock()),
		WithVersion("v0.1.0"),
		WithoutProbe(),
	)
	require.NoError(err)
	require.NotNil(cs.Finder())
	require.NotNil(cs.Monitor())
	require.NoError(cs.Start(ctx))
	defer func() {
		require.NoError(cs.Stop(ctx))
	}()

	require.True(cs.Engine().IsReady())
	require.Equal(chain.Head()-2, cs.Engine().Cursor().Height)
	require.Equal(chain.Head()-2, cs.Graph().Snapshot().Height())
	require.Equal(chain.Head()-2, cs.Monitor().Cursor().Height)
	c, ok := cs.Graph().Snapshot().Channel(_tn, big.NewInt(1))
	require.True(ok)
	require.Equal(big.NewInt(100), c.Capacity(_alice))

	resp := serve(cs.API(), http.MethodGet, "/api/v1/info", "")
	require.Equal(http.StatusOK, resp.Code)
	var info map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(true, info["ready"])
	require.Equal("v0.1.0", info["version"])
	require.Equal("4690", info["chain_id"])

	resp = serve(cs.API(), http.MethodPost, "/api/v1/"+_tn.Hex()+"/paths",
		`{"from":"`+_alice.Hex()+`","to":"`+_bob.Hex()+`","value":"60"}`)
	require.Equal(http.StatusOK, resp.Code)
	var paths struct {
		Result []struct {
			Path []common.Address `json:"path"`
		} `json:"result"`
	}
	require.NoError(json.NewDecoder(resp.Body).Decode(&paths))
	require.Len(paths.Result, 1)
	require.Equal([]common.Address{_alice, _bob}, paths.Result[0].Path)

	resp = serve(cs.API(), http.MethodGet, "/api/v1/monitor/"+_tn.Hex()+"/1", "")
	require.Equal(http.StatusNotFound, resp.Code)
}

func TestPathfindingOnly(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	chain := newChain()
	chain.MineEmpty(2)
	cfg := testConfig(t)
	cfg.System.EnableMonitoring = false

	cs, err := New(ctx, cfg, WithClient(chain), WithKVStore(db.NewMemKVStore()), WithClock(clock.NewMock()), WithoutProbe())
	require.NoError(err)
	require.Nil(cs.Monitor())
	require.NoError(cs.Start(ctx))
	defer func() {
		require.NoError(cs.Stop(ctx))
	}()

	resp := serve(cs.API(), http.MethodPost, "/api/v1/monitor", "{}")
	require.Equal(http.StatusNotFound, resp.Code)
}

func TestStartupFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("Timeout", func(t *testing.T) {
		require := require.New(t)
		chain := newChain()
		cfg := testConfig(t)
		cfg.System.EnableMonitoring = false
		cfg.System.StartupTimeout = 200 * time.Millisecond
		cs, err := New(ctx, cfg, WithClient(chain), WithKVStore(db.NewMemKVStore()), WithClock(clock.NewMock()), WithoutProbe())
		require.NoError(err)
		// the mock clock never ticks again after the failed first poll
		chain.FailNext(1)
		err = cs.Start(ctx)
		require.Error(err)
		require.Contains(err.Error(), "did not catch up")
		require.False(cs.Engine().IsReady())
		require.NoError(cs.Stop(ctx))
	})

	t.Run("Halted", func(t *testing.T) {
		require := require.New(t)
		chain := newChain()
		// closing a channel that was never opened
		chain.Mine(&chainevent.ChannelClosed{
			Base:               chainevent.Base{Address: _tn},
			ChannelID:          big.NewInt(9),
			ClosingParticipant: _alice,
			Nonce:              big.NewInt(1),
			TransferredAmount:  big.NewInt(0),
		})
		chain.MineEmpty(2)
		cs, err := New(ctx, testConfig(t), WithClient(chain), WithKVStore(db.NewMemKVStore()), WithClock(clock.NewMock()), WithoutProbe())
		require.NoError(err)
		err = cs.Start(ctx)
		require.Error(err)
		require.True(errors.Is(err, eventsync.ErrCausalOrder))
		select {
		case fatal := <-cs.Fatal():
			require.True(errors.Is(fatal, eventsync.ErrCausalOrder))
		default:
			t.Fatal("fatal error is not reported")
		}
		require.NoError(cs.Stop(ctx))
	})
}
