// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package monitoring

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	require := require.New(t)
	key, err := crypto.GenerateKey()
	require.NoError(err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := Sign([]byte("hello"), key)
	require.NoError(err)
	require.Len(sig, crypto.SignatureLength)
	require.Contains([]byte{27, 28}, sig[crypto.RecoveryIDOffset])
	signer, err := Recover([]byte("hello"), sig)
	require.NoError(err)
	require.Equal(addr, signer)

	// raw recovery ids are accepted too
	raw := append([]byte(nil), sig...)
	raw[crypto.RecoveryIDOffset] -= 27
	signer, err = Recover([]byte("hello"), raw)
	require.NoError(err)
	require.Equal(addr, signer)

	signer, err = Recover([]byte("other"), sig)
	require.NoError(err)
	require.NotEqual(addr, signer)

	_, err = Recover([]byte("hello"), sig[:64])
	require.True(errors.Is(err, ErrInvalidSignature))
}

func TestBalanceProof(t *testing.T) {
	require := require.New(t)
	key, err := crypto.GenerateKey()
	require.NoError(err)
	bp := BalanceProof{
		ChainID:           big.NewInt(4690),
		TokenNetwork:      common.HexToAddress("0x00000000000000000000000000000000000000e1"),
		ChannelID:         big.NewInt(1),
		Nonce:             big.NewInt(3),
		TransferredAmount: big.NewInt(10),
		LockedAmount:      big.NewInt(0),
	}
	require.Equal(
		crypto.Keccak256Hash(common.LeftPadBytes([]byte{10}, 32), make([]byte, 32), make([]byte, 32)),
		bp.BalanceHash(),
	)
	require.NoError(SignBalanceProof(&bp, key))
	signer, err := bp.ClosingSigner()
	require.NoError(err)
	require.Equal(crypto.PubkeyToAddress(key.PublicKey), signer)

	// any change of the signed fields changes the signer
	bp.TransferredAmount = big.NewInt(11)
	signer, err = bp.ClosingSigner()
	require.NoError(err)
	require.NotEqual(crypto.PubkeyToAddress(key.PublicKey), signer)
}

func TestChannelLocks(t *testing.T) {
	require := require.New(t)
	locks := newChannelLocks()
	key := ChannelKey{ChannelID: "1"}

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(key)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	require.Equal(50, counter)
	require.Zero(locks.size())

	// other channels are not blocked
	unlock := locks.lock(key)
	other := locks.lock(ChannelKey{ChannelID: "2"})
	require.Equal(2, locks.size())
	other()
	unlock()
	require.Zero(locks.size())
}

func TestRequestEncoding(t *testing.T) {
	require := require.New(t)
	r := &MonitorRequest{
		BalanceProof: BalanceProof{
			ChainID:           big.NewInt(4690),
			TokenNetwork:      common.HexToAddress("0x00000000000000000000000000000000000000e1"),
			ChannelID:         big.NewInt(9),
			Nonce:             big.NewInt(3),
			TransferredAmount: big.NewInt(10),
			LockedAmount:      big.NewInt(1),
			Locksroot:         common.HexToHash("0x02"),
			Signature:         []byte{1, 2, 3},
		},
		NonClosingParticipant: common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		NonClosingSignature:   []byte{4},
		RewardAmount:          big.NewInt(5),
		RewardProofSignature:  []byte{6},
		State:                 StateSubmitted,
		DeadlineBlock:         12,
		ClosingNonce:          big.NewInt(2),
		ClosingTransferred:    big.NewInt(4),
		Submission:            Submission{Submitted: true, TxHash: common.HexToHash("0x03"), RawTx: []byte{7, 8}, Block: 3},
		Archived:              true,
	}
	b, err := encodeRequest(r)
	require.NoError(err)
	got, err := decodeRequest(b)
	require.NoError(err)
	require.Equal(r.Key(), got.Key())
	require.Equal(r.State, got.State)
	require.Equal(r.Submission, got.Submission)
	require.Equal(r.BalanceProof.Signature, got.BalanceProof.Signature)
	require.Zero(r.BalanceProof.Nonce.Cmp(got.BalanceProof.Nonce))
	require.Zero(r.ClosingTransferred.Cmp(got.ClosingTransferred))
	require.True(got.Archived)
	require.Len(r.dbKey(), 72)

	c := r.Clone()
	c.BalanceProof.Nonce.SetInt64(100)
	c.Submission.RawTx[0] = 0
	require.Equal(int64(3), r.BalanceProof.Nonce.Int64())
	require.Equal(byte(7), r.Submission.RawTx[0])
}
