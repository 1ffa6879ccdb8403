// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package chainclient

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

type (
	// Client is the subset of the node json-rpc api the service consumes
	Client interface {
		// ChainID returns the chain id used for replay-protected signing
		ChainID(ctx context.Context) (*big.Int, error)
		// BlockNumber returns the most recent block number
		BlockNumber(ctx context.Context) (uint64, error)
		// HeaderByNumber returns a block header, nil number means the latest
		HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
		// FilterLogs executes a log filter query
		FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
		// SendTransaction injects a signed transaction into the pending pool
		SendTransaction(ctx context.Context, tx *types.Transaction) error
		// TransactionReceipt returns the receipt of a mined transaction, ethereum.NotFound otherwise
		TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
		// PendingNonceAt returns the account nonce in the pending state
		PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
		// SuggestGasPrice returns the currently suggested gas price
		SuggestGasPrice(ctx context.Context) (*big.Int, error)
	}
)

var _ Client = (*ethclient.Client)(nil)

// Dial connects to a node endpoint (http, ws or ipc)
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	if endpoint == "" {
		return nil, errors.New("empty chain endpoint")
	}
	c, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", endpoint)
	}
	return c, nil
}
