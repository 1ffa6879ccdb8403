// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/graph"
)

var (
	_registry = common.HexToAddress("0x0000000000000000000000000000000000000001")
	_tn       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	_a        = common.HexToAddress("0x000000000000000000000000000000000000000a")
	_b        = common.HexToAddress("0x000000000000000000000000000000000000000b")
	_c        = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

func writeDB(t *testing.T) string {
	require := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "channel.db")
	cfg := db.DefaultConfig
	cfg.DbPath = path
	kv := db.NewBoltDB(cfg)
	require.NoError(kv.Start(ctx))
	store := graph.NewStore(kv, _registry)
	require.NoError(store.Start(ctx))

	base := func(block uint64, addr common.Address) chainevent.Base {
		return chainevent.Base{Coords: chainevent.Coordinates{BlockNumber: block}, Address: addr}
	}
	events := []chainevent.Event{
		&chainevent.TokenNetworkCreated{Base: base(1, _registry), Token: _c, TokenNetwork: _tn},
		&chainevent.ChannelOpened{Base: base(2, _tn), ChannelID: big.NewInt(1), Participant1: _a, Participant2: _b, SettleTimeout: 100},
		&chainevent.ChannelDeposit{Base: base(3, _tn), ChannelID: big.NewInt(1), Participant: _a, TotalDeposit: big.NewInt(50)},
		&chainevent.ChannelOpened{Base: base(4, _tn), ChannelID: big.NewInt(2), Participant1: _b, Participant2: _c, SettleTimeout: 100},
		&chainevent.ChannelDeposit{Base: base(5, _tn), ChannelID: big.NewInt(2), Participant: _b, TotalDeposit: big.NewInt(50)},
	}
	require.NoError(store.ApplyEvents(ctx, eventsync.Cursor{Height: 8, Hash: common.HexToHash("0x08")}, events))
	require.NoError(kv.Stop(ctx))
	return path
}

func run(args ...string) (string, error) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	require := require.New(t)
	path := writeDB(t)

	out, err := run("status", path)
	require.NoError(err)
	require.Contains(out, "graph cursor:      8 "+common.HexToHash("0x08").Hex())
	require.Contains(out, "last event:        block 5 log 0")
	require.Contains(out, "monitoring cursor: 0")
	require.Contains(out, "token networks:    1")
	require.Contains(out, "channels opened:   2")

	_, err = run("status", filepath.Join(t.TempDir(), "missing", "channel.db"))
	require.Error(err)
}

func TestChannels(t *testing.T) {
	require := require.New(t)
	path := writeDB(t)

	out, err := run("channels", path, _tn.Hex())
	require.NoError(err)
	require.Contains(out, "PARTICIPANT1")
	require.Contains(out, _a.Hex())
	require.Contains(out, _c.Hex())

	_, err = run("channels", path, _a.Hex())
	require.Error(err)
	_, err = run("channels", path, "0x12")
	require.Error(err)
}

func TestRoute(t *testing.T) {
	require := require.New(t)
	path := writeDB(t)

	out, err := run("route", path, _tn.Hex(), _a.Hex(), _c.Hex(), "10")
	require.NoError(err)
	require.Contains(out, "1. fee 0, 2 hops: "+_a.Hex()+" -> "+_b.Hex()+" -> "+_c.Hex())

	out, err = run("route", path, _tn.Hex(), _c.Hex(), _a.Hex(), "10")
	require.NoError(err)
	require.Contains(out, "no route")

	_, err = run("route", path, _tn.Hex(), _a.Hex(), _c.Hex(), "ten")
	require.Error(err)
	_, err = run("route", "--max-paths", "0", path, _tn.Hex(), _a.Hex(), _c.Hex(), "10")
	require.Error(err)
}

func TestRequests(t *testing.T) {
	require := require.New(t)
	path := writeDB(t)

	out, err := run("requests", path)
	require.NoError(err)
	require.Contains(out, "TOKEN_NETWORK")
}
