// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package monitoring

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/iotexproject/iotex-channel-service/chainclient"
	"github.com/iotexproject/iotex-channel-service/chainevent"
	"github.com/iotexproject/iotex-channel-service/db"
	"github.com/iotexproject/iotex-channel-service/db/batch"
	"github.com/iotexproject/iotex-channel-service/eventsync"
	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/testutil"
)

var (
	_registry = common.HexToAddress("0x0000000000000000000000000000000000000001")
	_udc      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	_ms       = common.HexToAddress("0x0000000000000000000000000000000000000003")
	_token    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	_tn       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

// flakySender fails the first sends before they reach the node
type flakySender struct {
	*chainclient.TxSender
	failSends int
}

func (s *flakySender) Send(ctx context.Context, tx *types.Transaction) error {
	if s.failSends > 0 {
		s.failSends--
		return errors.New("connection refused")
	}
	return s.TxSender.Send(ctx, tx)
}

type fixture struct {
	chain    *testutil.FakeChain
	kv       db.KVStore
	store    *graph.Store
	sender   *flakySender
	svc      *Service
	height   uint64
	aliceKey *ecdsa.PrivateKey
	bobKey   *ecdsa.PrivateKey
	opKey    *ecdsa.PrivateKey
	alice    common.Address
	bob      common.Address
}

func testConfig() Config {
	cfg := DefaultConfig
	cfg.ContractAddress = _ms
	cfg.MinReward = 10
	return cfg
}

func newFixture(t *testing.T) *fixture {
	require := require.New(t)
	ctx := context.Background()
	f := &fixture{
		chain: testutil.NewFakeChain(),
		kv:    db.NewMemKVStore(),
	}
	var err error
	for _, key := range []**ecdsa.PrivateKey{&f.aliceKey, &f.bobKey, &f.opKey} {
		*key, err = crypto.GenerateKey()
		require.NoError(err)
	}
	f.alice = crypto.PubkeyToAddress(f.aliceKey.PublicKey)
	f.bob = crypto.PubkeyToAddress(f.bobKey.PublicKey)
	f.store = graph.NewStore(f.kv, _registry)
	require.NoError(f.store.Start(ctx))
	f.restart(t)

	f.mine(t,
		&chainevent.TokenNetworkCreated{Base: f.base(0, _registry), Token: _token, TokenNetwork: _tn},
		&chainevent.ChannelOpened{Base: f.base(1, _tn), ChannelID: big.NewInt(1), Participant1: f.alice, Participant2: f.bob, SettleTimeout: 10},
		&chainevent.ChannelDeposit{Base: f.base(2, _tn), ChannelID: big.NewInt(1), Participant: f.alice, TotalDeposit: big.NewInt(100)},
		&chainevent.DepositIncreased{Base: f.base(3, _udc), Owner: f.alice, TotalDeposit: big.NewInt(10_000_000)},
	)
	return f
}

// restart replaces the service and the sender as a restarted process would
func (f *fixture) restart(t *testing.T) {
	sender, err := chainclient.NewTxSender(context.Background(), f.chain, f.opKey)
	require.NoError(t, err)
	f.sender = &flakySender{TxSender: sender}
	f.svc = NewService(testConfig(), f.kv, f.store, f.sender)
	require.NoError(t, f.svc.Start(context.Background()))
}

func (f *fixture) base(index uint, contract common.Address) chainevent.Base {
	return chainevent.Base{
		Coords:  chainevent.Coordinates{BlockNumber: f.height + 1, LogIndex: index},
		Address: contract,
	}
}

// mine confirms a block holding events
func (f *fixture) mine(t *testing.T, events ...chainevent.Event) {
	ctx := context.Background()
	f.height++
	cursor := eventsync.Cursor{Height: f.height, Hash: common.BigToHash(new(big.Int).SetUint64(f.height))}
	require.NoError(t, f.store.ApplyEvents(ctx, cursor, events))
	require.NoError(t, f.svc.ApplyEvents(ctx, cursor, events))
}

func (f *fixture) request(t *testing.T, nonce, transferred, reward int64) *MonitorRequest {
	bp := BalanceProof{
		ChainID:           big.NewInt(4690),
		TokenNetwork:      _tn,
		ChannelID:         big.NewInt(1),
		Nonce:             big.NewInt(nonce),
		TransferredAmount: big.NewInt(transferred),
		LockedAmount:      big.NewInt(0),
		AdditionalHash:    common.HexToHash("0x01"),
	}
	require.NoError(t, SignBalanceProof(&bp, f.bobKey))
	req := &MonitorRequest{
		BalanceProof:          bp,
		NonClosingParticipant: f.alice,
		RewardAmount:          big.NewInt(reward),
	}
	require.NoError(t, SignRequest(req, _ms, f.aliceKey))
	return req
}

func (f *fixture) closeChannel(t *testing.T, closer common.Address, nonce, transferred int64) {
	f.mine(t, &chainevent.ChannelClosed{
		Base:               f.base(0, _tn),
		ChannelID:          big.NewInt(1),
		ClosingParticipant: closer,
		Nonce:              big.NewInt(nonce),
		TransferredAmount:  big.NewInt(transferred),
	})
}

func (f *fixture) only(t *testing.T) *MonitorRequest {
	rs, err := f.svc.Request(_tn, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	return rs[0]
}

func TestRegisterRequest(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
	r := f.only(t)
	require.Equal(StateArmed, r.State)
	require.Equal(f.bob, r.ClosingParticipant)
	require.Equal(uint64(10), r.SettleTimeout)
	require.Len(f.svc.Requests(), 1)

	// stale and equal nonces are rejected, a newer one replaces the request
	err := f.svc.RegisterRequest(ctx, f.request(t, 5, 200, 1_000_000))
	require.True(errors.Is(err, ErrInvalidRequest))
	err = f.svc.RegisterRequest(ctx, f.request(t, 4, 200, 1_000_000))
	require.True(errors.Is(err, ErrInvalidRequest))
	require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 6, 200, 1_000_000)))
	r = f.only(t)
	require.Equal(big.NewInt(6), r.BalanceProof.Nonce)
	require.Equal(big.NewInt(200), r.BalanceProof.TransferredAmount)

	invalid := map[string]func(*MonitorRequest){
		"reward below minimum": func(req *MonitorRequest) {
			*req = *f.request(t, 7, 100, 9)
		},
		"reward above deposit": func(req *MonitorRequest) {
			*req = *f.request(t, 7, 100, 10_000_001)
		},
		"balance proof not signed by partner": func(req *MonitorRequest) {
			require.NoError(SignBalanceProof(&req.BalanceProof, f.aliceKey))
			require.NoError(SignRequest(req, _ms, f.aliceKey))
		},
		"reward proof for another service": func(req *MonitorRequest) {
			require.NoError(SignRequest(req, _udc, f.aliceKey))
		},
		"signed by partner": func(req *MonitorRequest) {
			require.NoError(SignRequest(req, _ms, f.bobKey))
		},
		"truncated signature": func(req *MonitorRequest) {
			req.NonClosingSignature = req.NonClosingSignature[:10]
		},
		"wrong chain": func(req *MonitorRequest) {
			req.BalanceProof.ChainID = big.NewInt(1)
		},
		"not a participant": func(req *MonitorRequest) {
			req.NonClosingParticipant = _udc
		},
		"zero nonce": func(req *MonitorRequest) {
			req.BalanceProof.Nonce = big.NewInt(0)
		},
		"missing reward": func(req *MonitorRequest) {
			req.RewardAmount = nil
		},
	}
	for name, mutate := range invalid {
		req := f.request(t, 7, 100, 1_000_000)
		mutate(req)
		err := f.svc.RegisterRequest(ctx, req)
		require.True(errors.Is(err, ErrInvalidRequest), "%s: %v", name, err)
	}
	require.True(errors.Is(f.svc.RegisterRequest(ctx, nil), ErrInvalidRequest))

	req := f.request(t, 7, 100, 1_000_000)
	req.BalanceProof.ChannelID = big.NewInt(2)
	require.True(errors.Is(f.svc.RegisterRequest(ctx, req), ErrNotFound))
	_, err = f.svc.Request(_tn, big.NewInt(2))
	require.True(errors.Is(err, ErrNotFound))

	// the request survives a restart
	f.restart(t)
	r = f.only(t)
	require.Equal(StateArmed, r.State)
	require.Equal(big.NewInt(6), r.BalanceProof.Nonce)
	require.Equal(f.height, f.svc.Cursor().Height)

	f.closeChannel(t, f.bob, 7, 300)
	require.True(errors.Is(f.svc.RegisterRequest(ctx, f.request(t, 8, 100, 1_000_000)), ErrInvalidRequest))
}

func TestRegisterRacingClose(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	req := f.request(t, 5, 100, 1_000_000)
	ck := channelKeyOf(_tn, big.NewInt(1))
	unlock := f.svc.locks.lock(ck)
	result := make(chan error, 1)
	go func() {
		result <- f.svc.RegisterRequest(ctx, req)
	}()
	require.Eventually(func() bool {
		f.svc.locks.mu.Lock()
		defer f.svc.locks.mu.Unlock()
		cl, ok := f.svc.locks.locks[ck]
		return ok && cl.refs == 2
	}, time.Second, time.Millisecond)

	// the graph sees the close while the registration waits for the channel
	closed := &chainevent.ChannelClosed{
		Base:               f.base(0, _tn),
		ChannelID:          big.NewInt(1),
		ClosingParticipant: f.bob,
		Nonce:              big.NewInt(2),
		TransferredAmount:  big.NewInt(50),
	}
	f.height++
	cursor := eventsync.Cursor{Height: f.height, Hash: common.BigToHash(new(big.Int).SetUint64(f.height))}
	require.NoError(f.store.ApplyEvents(ctx, cursor, []chainevent.Event{closed}))
	unlock()

	require.True(errors.Is(<-result, ErrInvalidRequest))
	require.NoError(f.svc.ApplyEvents(ctx, cursor, []chainevent.Event{closed}))
	_, err := f.svc.Request(_tn, big.NewInt(1))
	require.True(errors.Is(err, ErrNotFound))
	require.Empty(f.chain.Sent())
}

func TestMonitorLifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))

	f.closeChannel(t, f.bob, 2, 50)
	closedAt := f.height
	r := f.only(t)
	require.Equal(StateSubmitted, r.State)
	require.Equal(closedAt, r.ClosedBlock)
	require.Equal(closedAt+10, r.DeadlineBlock)
	sent := f.chain.Sent()
	require.Len(sent, 1)
	require.Equal(r.Submission.TxHash, sent[0].Hash())
	require.Equal(_ms, *sent[0].To())
	require.Equal(chainevent.MonitoringServiceABI.Methods["monitor"].ID, sent[0].Data()[:4])
	require.Equal(DefaultConfig.MonitorGasLimit, sent[0].Gas())

	// not mined yet: the same transaction is broadcast again
	f.mine(t)
	require.Len(f.chain.Sent(), 1)

	f.chain.MineTx(r.Submission.TxHash, true)
	f.mine(t, &chainevent.BalanceProofReceived{
		Base:              f.base(0, _ms),
		TokenNetwork:      _tn,
		ChannelID:         big.NewInt(1),
		RewardAmount:      big.NewInt(1_000_000),
		Nonce:             big.NewInt(5),
		MonitoringService: f.sender.Address(),
		NodeAddress:       f.alice,
	})
	r = f.only(t)
	require.True(r.Acknowledged)
	require.True(r.Submission.Mined)

	f.mine(t, &chainevent.ChannelSettled{Base: f.base(0, _tn), ChannelID: big.NewInt(1), Participant1Amount: big.NewInt(0), Participant2Amount: big.NewInt(0)})
	r = f.only(t)
	require.Equal(StateDone, r.State)
	require.True(r.Archived)
	require.True(r.Claim.Submitted)
	sent = f.chain.Sent()
	require.Len(sent, 2)
	require.Equal(r.Claim.TxHash, sent[1].Hash())
	require.Equal(chainevent.MonitoringServiceABI.Methods["claimReward"].ID, sent[1].Data()[:4])
	require.Equal(sent[0].Nonce()+1, sent[1].Nonce())

	f.chain.MineTx(r.Claim.TxHash, true)
	f.mine(t)
	r = f.only(t)
	require.True(r.RewardClaimed)
	require.Empty(f.svc.Requests())
	require.Len(f.chain.Sent(), 2)
}

func TestAtMostOnceSubmission(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))

	// the transaction is persisted but never reaches the node
	f.sender.failSends = 1
	f.closeChannel(t, f.bob, 2, 50)
	r := f.only(t)
	require.Equal(StateSubmitted, r.State)
	require.True(r.Submission.Submitted)
	require.Empty(f.chain.Sent())
	persisted := r.Submission.TxHash

	for i := 0; i < 3; i++ {
		f.restart(t)
		f.mine(t)
		sent := f.chain.Sent()
		require.Len(sent, 1)
		require.Equal(persisted, sent[0].Hash())
		// a node restart loses the pool, only the same transaction comes back
		f.chain.DropPool()
	}

	f.chain.MineTx(persisted, true)
	f.mine(t)
	r = f.only(t)
	require.True(r.Submission.Mined)
	require.Equal(StateSubmitted, r.State)

	// nothing is sent once the transaction is mined
	f.restart(t)
	f.mine(t)
	require.LessOrEqual(len(f.chain.Sent()), 1)
	require.Equal(persisted, f.only(t).Submission.TxHash)
}

func TestFailedSendKeepsNonce(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.mine(t, &chainevent.ChannelOpened{Base: f.base(0, _tn), ChannelID: big.NewInt(2), Participant1: f.alice, Participant2: f.bob, SettleTimeout: 10})
	require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
	req := f.request(t, 5, 100, 1_000_000)
	req.BalanceProof.ChannelID = big.NewInt(2)
	require.NoError(SignBalanceProof(&req.BalanceProof, f.bobKey))
	require.NoError(SignRequest(req, _ms, f.aliceKey))
	require.NoError(f.svc.RegisterRequest(ctx, req))

	f.sender.failSends = 1
	f.closeChannel(t, f.bob, 2, 50)
	first := f.only(t)
	require.True(first.Submission.Submitted)
	require.Empty(f.chain.Sent())

	// after a restart nothing is pending on the node but the persisted nonce stays taken
	f.restart(t)
	f.sender.failSends = 2
	f.mine(t, &chainevent.ChannelClosed{
		Base:               f.base(0, _tn),
		ChannelID:          big.NewInt(2),
		ClosingParticipant: f.bob,
		Nonce:              big.NewInt(2),
		TransferredAmount:  big.NewInt(50),
	})
	rs, err := f.svc.Request(_tn, big.NewInt(2))
	require.NoError(err)
	require.Len(rs, 1)
	second := rs[0]
	require.True(second.Submission.Submitted)

	txA, err := chainclient.DecodeTx(first.Submission.RawTx)
	require.NoError(err)
	txB, err := chainclient.DecodeTx(second.Submission.RawTx)
	require.NoError(err)
	require.NotEqual(txA.Nonce(), txB.Nonce())

	// both reach the node once sends recover
	f.mine(t)
	require.Len(f.chain.Sent(), 2)
}

func TestArchivedRequestLookup(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	// archived records of channels 1, 10 and 256 share leading key bytes
	b := batch.NewBatch()
	for _, id := range []int64{1, 10, 256} {
		r := f.request(t, 5, 100, 1_000_000)
		r.BalanceProof.ChannelID = big.NewInt(id)
		r.State = StateExpired
		r.Archived = true
		require.NoError(stage(b, r))
	}
	require.NoError(f.kv.WriteBatch(b))

	for _, id := range []int64{1, 10, 256} {
		rs, err := f.svc.Request(_tn, big.NewInt(id))
		require.NoError(err)
		require.Len(rs, 1)
		require.Equal(big.NewInt(id), rs[0].ChannelID())
		require.True(rs[0].Archived)
	}
	_, err := f.svc.Request(_tn, big.NewInt(2))
	require.True(errors.Is(err, ErrNotFound))
	_, err = f.svc.Request(_udc, big.NewInt(1))
	require.True(errors.Is(err, ErrNotFound))
}

func TestNoSubmission(t *testing.T) {
	ctx := context.Background()

	t.Run("closed by requester", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
		f.closeChannel(t, f.alice, 2, 50)
		require.Equal(t, StateSkipped, f.only(t).State)
		require.Empty(t, f.chain.Sent())
	})

	t.Run("closing proof is newer", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
		f.closeChannel(t, f.bob, 6, 100)
		require.Equal(t, StateSkipped, f.only(t).State)
		require.Empty(t, f.chain.Sent())
	})

	t.Run("already updated", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
		f.mine(t,
			&chainevent.ChannelClosed{Base: f.base(0, _tn), ChannelID: big.NewInt(1), ClosingParticipant: f.bob, Nonce: big.NewInt(2), TransferredAmount: big.NewInt(50)},
			&chainevent.NonClosingBalanceProofUpdated{Base: f.base(1, _tn), ChannelID: big.NewInt(1), ClosingParticipant: f.bob, Nonce: big.NewInt(5), TransferredAmount: big.NewInt(100)},
		)
		require.Equal(t, StateSkipped, f.only(t).State)
		require.Empty(t, f.chain.Sent())
	})

	t.Run("unprofitable until expired", func(t *testing.T) {
		require := require.New(t)
		f := newFixture(t)
		require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
		f.chain.SetGasPrice(big.NewInt(10))
		f.closeChannel(t, f.bob, 2, 50)
		r := f.only(t)
		require.Equal(StateTriggered, r.State)
		for f.height <= r.DeadlineBlock {
			f.mine(t)
		}
		require.Equal(StateExpired, f.only(t).State)
		require.Empty(f.chain.Sent())
	})

	t.Run("deposit withdrawn", func(t *testing.T) {
		require := require.New(t)
		f := newFixture(t)
		require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
		f.mine(t, &chainevent.BalanceReduced{Base: f.base(0, _udc), Owner: f.alice, NewBalance: big.NewInt(10)})
		f.closeChannel(t, f.bob, 2, 50)
		require.Equal(StateTriggered, f.only(t).State)
		require.Empty(f.chain.Sent())

		// topped up before the deadline
		f.mine(t, &chainevent.DepositIncreased{Base: f.base(0, _udc), Owner: f.alice, TotalDeposit: big.NewInt(2_000_000)})
		require.Equal(StateSubmitted, f.only(t).State)
		require.Len(f.chain.Sent(), 1)
	})

	t.Run("settled before submission", func(t *testing.T) {
		require := require.New(t)
		f := newFixture(t)
		require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
		f.chain.SetGasPrice(big.NewInt(10))
		f.closeChannel(t, f.bob, 2, 50)
		f.mine(t, &chainevent.ChannelSettled{Base: f.base(0, _tn), ChannelID: big.NewInt(1), Participant1Amount: big.NewInt(0), Participant2Amount: big.NewInt(0)})
		r := f.only(t)
		require.Equal(StateExpired, r.State)
		require.True(r.Archived)
		require.Empty(f.svc.Requests())
	})
}

func TestRevertedSubmission(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(f.svc.RegisterRequest(ctx, f.request(t, 5, 100, 1_000_000)))
	f.closeChannel(t, f.bob, 2, 50)
	r := f.only(t)
	f.chain.MineTx(r.Submission.TxHash, false)
	f.mine(t)
	r = f.only(t)
	require.Equal(StateFailed, r.State)
	require.True(r.Submission.Failed)
	require.False(r.Claim.Submitted)
	f.mine(t)
	require.Len(f.chain.Sent(), 1)
}
