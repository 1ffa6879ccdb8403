// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package chainclient

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iotexproject/iotex-channel-service/pkg/log"
)

// TxSender builds, signs and broadcasts operator transactions. Building and sending
// are separate steps so callers can persist a signed transaction before it leaves
// the process.
type TxSender struct {
	client  Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	mu sync.Mutex
	// reserved holds the nonces of signed transactions the node may not have yet
	reserved map[uint64]struct{}
}

// NewTxSender creates a sender for the operator key, fetching the chain id once
func NewTxSender(ctx context.Context, client Client, key *ecdsa.PrivateKey) (*TxSender, error) {
	if key == nil {
		return nil, errors.New("operator key is nil")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain id")
	}
	return &TxSender{
		client:   client,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		reserved: make(map[uint64]struct{}),
	}, nil
}

// Address returns the operator address
func (s *TxSender) Address() common.Address {
	return s.from
}

// ChainID returns the chain id transactions are signed for
func (s *TxSender) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SuggestGasPrice returns the node's gas price suggestion
func (s *TxSender) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return s.client.SuggestGasPrice(ctx)
}

// BuildTx signs a call of data on contract to, without sending it. The nonce stays
// reserved, whether or not the send succeeds, until the node's pending nonce passes it
// or the transaction is released.
func (s *TxSender) BuildTx(ctx context.Context, to common.Address, data []byte, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pending nonce")
	}
	for n := range s.reserved {
		if n < pending {
			delete(s.reserved, n)
		}
	}
	nonce := pending
	for {
		if _, ok := s.reserved[nonce]; !ok {
			break
		}
		nonce++
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}
	s.reserved[nonce] = struct{}{}
	return signed, nil
}

// Reserve keeps the nonce of a signed transaction from being reused, e.g. for a
// persisted transaction after a restart
func (s *TxSender) Reserve(tx *types.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved[tx.Nonce()] = struct{}{}
}

// Release gives up a transaction that will never be broadcast again
func (s *TxSender) Release(tx *types.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, tx.Nonce())
}

// Send broadcasts a signed transaction. A transaction the node already knows counts as sent.
func (s *TxSender) Send(ctx context.Context, tx *types.Transaction) error {
	err := s.client.SendTransaction(ctx, tx)
	if err == nil || IsAlreadyKnown(err) {
		return nil
	}
	log.Logger("chainclient").Warn("failed to send transaction", zap.Stringer("tx", tx.Hash()), zap.Error(err))
	return errors.Wrapf(err, "failed to send transaction %s", tx.Hash())
}

// Receipt returns the receipt of txHash, or nil when it is not mined yet
func (s *TxSender) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	r, err := s.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// EncodeTx returns the binary encoding a transaction is persisted in
func EncodeTx(tx *types.Transaction) ([]byte, error) {
	return tx.MarshalBinary()
}

// DecodeTx decodes a persisted transaction
func DecodeTx(raw []byte) (*types.Transaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode transaction")
	}
	return tx, nil
}

// IsAlreadyKnown reports whether a send failed only because the pool has the transaction
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
