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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	_rpcCallMtc = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_service_rpc_calls",
		Help: "Outbound node calls by method and result.",
	}, []string{"method", "result"})
)

func init() {
	prometheus.MustRegister(_rpcCallMtc)
}

// RetryingClient decorates every call of a Client with a retry policy
type RetryingClient struct {
	inner  Client
	policy RetryPolicy
}

var _ Client = (*RetryingClient)(nil)

// NewRetryingClient wraps inner
func NewRetryingClient(inner Client, policy RetryPolicy) *RetryingClient {
	return &RetryingClient{
		inner:  inner,
		policy: policy,
	}
}

func observe[T any](method string, v T, err error) (T, error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	_rpcCallMtc.WithLabelValues(method, result).Inc()
	return v, err
}

// ChainID returns the chain id
func (c *RetryingClient) ChainID(ctx context.Context) (*big.Int, error) {
	v, err := Call(ctx, c.policy, c.inner.ChainID)
	return observe("ChainID", v, err)
}

// BlockNumber returns the head height
func (c *RetryingClient) BlockNumber(ctx context.Context) (uint64, error) {
	v, err := Call(ctx, c.policy, c.inner.BlockNumber)
	return observe("BlockNumber", v, err)
}

// HeaderByNumber returns the header at number
func (c *RetryingClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	v, err := Call(ctx, c.policy, func(ctx context.Context) (*types.Header, error) {
		return c.inner.HeaderByNumber(ctx, number)
	})
	return observe("HeaderByNumber", v, err)
}

// FilterLogs runs a log query
func (c *RetryingClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	v, err := Call(ctx, c.policy, func(ctx context.Context) ([]types.Log, error) {
		return c.inner.FilterLogs(ctx, q)
	})
	return observe("FilterLogs", v, err)
}

// SendTransaction sends a signed transaction
func (c *RetryingClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.inner.SendTransaction(ctx, tx)
	})
	_, err = observe("SendTransaction", struct{}{}, err)
	return err
}

// TransactionReceipt returns a receipt
func (c *RetryingClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	v, err := Call(ctx, c.policy, func(ctx context.Context) (*types.Receipt, error) {
		return c.inner.TransactionReceipt(ctx, txHash)
	})
	return observe("TransactionReceipt", v, err)
}

// PendingNonceAt returns the pending nonce of account
func (c *RetryingClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	v, err := Call(ctx, c.policy, func(ctx context.Context) (uint64, error) {
		return c.inner.PendingNonceAt(ctx, account)
	})
	return observe("PendingNonceAt", v, err)
}

// SuggestGasPrice returns the suggested gas price
func (c *RetryingClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	v, err := Call(ctx, c.policy, c.inner.SuggestGasPrice)
	return observe("SuggestGasPrice", v, err)
}
