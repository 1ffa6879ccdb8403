// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package testutil

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/iotexproject/iotex-channel-service/chainevent"
)

// FakeChain is an in-memory node serving headers, logs and transactions. Blocks
// carry events encoded as real logs, and the chain can be reorganized.
type FakeChain struct {
	mu       sync.Mutex
	chainID  *big.Int
	gasPrice *big.Int
	headers  []*types.Header
	logs     map[uint64][]types.Log
	fork     uint64
	failures int
	sent     []*types.Transaction
	mined    map[common.Hash]*types.Receipt
}

// NewFakeChain creates a chain holding only the genesis block
func NewFakeChain() *FakeChain {
	c := &FakeChain{
		chainID:  big.NewInt(4690),
		gasPrice: big.NewInt(1),
		logs:     make(map[uint64][]types.Log),
		mined:    make(map[common.Hash]*types.Receipt),
	}
	c.headers = append(c.headers, c.newHeader(0, common.Hash{}))
	return c
}

func (c *FakeChain) newHeader(number uint64, parent common.Hash) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(number),
		ParentHash: parent,
		Difficulty: big.NewInt(1),
		Extra:      []byte{byte(c.fork)},
	}
}

// Head returns the head height
func (c *FakeChain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.headers) - 1)
}

// Mine appends a block holding events; the events' coordinates are filled in
func (c *FakeChain) Mine(events ...chainevent.Event) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mine(events)
}

// MineEmpty appends n empty blocks
func (c *FakeChain) MineEmpty(n int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var h uint64
	for i := 0; i < n; i++ {
		h = c.mine(nil)
	}
	return h
}

func (c *FakeChain) mine(events []chainevent.Event) uint64 {
	parent := c.headers[len(c.headers)-1]
	number := uint64(len(c.headers))
	header := c.newHeader(number, parent.Hash())
	c.headers = append(c.headers, header)
	logs := make([]types.Log, 0, len(events))
	for i, ev := range events {
		log, err := chainevent.ToLog(ev)
		if err != nil {
			panic(err)
		}
		log.BlockNumber = number
		log.BlockHash = header.Hash()
		log.Index = uint(i)
		// the same event mined again after a reorg keeps its transaction hash
		log.TxHash = txHashOf(log)
		logs = append(logs, *log)
	}
	c.logs[number] = logs
	return number
}

func txHashOf(log *types.Log) common.Hash {
	parts := make([][]byte, 0, len(log.Topics)+1)
	for _, topic := range log.Topics {
		parts = append(parts, topic.Bytes())
	}
	parts = append(parts, log.Data)
	return crypto.Keccak256Hash(parts...)
}

// Reorg drops every block above height and bumps the fork id, so re-mined blocks get new hashes
func (c *FakeChain) Reorg(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n := height + 1; n < uint64(len(c.headers)); n++ {
		delete(c.logs, n)
	}
	c.headers = c.headers[:height+1]
	c.fork++
}

// FailNext makes the next n calls return a transient error
func (c *FakeChain) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

func (c *FakeChain) fail() error {
	if c.failures > 0 {
		c.failures--
		return errors.New("connection reset by peer")
	}
	return nil
}

// ChainID returns the chain id
func (c *FakeChain) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.chainID), nil
}

// BlockNumber returns the head height
func (c *FakeChain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(); err != nil {
		return 0, err
	}
	return uint64(len(c.headers) - 1), nil
}

// HeaderByNumber returns the header at number, the head for nil
func (c *FakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(); err != nil {
		return nil, err
	}
	if number == nil {
		return types.CopyHeader(c.headers[len(c.headers)-1]), nil
	}
	if !number.IsUint64() || number.Uint64() >= uint64(len(c.headers)) {
		return nil, ethereum.NotFound
	}
	return types.CopyHeader(c.headers[number.Uint64()]), nil
}

// FilterLogs returns logs in [FromBlock, ToBlock] matching the topic-0 set and addresses
func (c *FakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(); err != nil {
		return nil, err
	}
	from, to := uint64(0), uint64(len(c.headers)-1)
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil && q.ToBlock.Uint64() < to {
		to = q.ToBlock.Uint64()
	}
	var ret []types.Log
	for n := from; n <= to; n++ {
		for _, log := range c.logs[n] {
			if matchAddress(q.Addresses, log.Address) && matchTopics(q.Topics, log.Topics) {
				ret = append(ret, log)
			}
		}
	}
	return ret, nil
}

func matchAddress(addrs []common.Address, addr common.Address) bool {
	if len(addrs) == 0 {
		return true
	}
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func matchTopics(query [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range query {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, t := range alternatives {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SendTransaction records a transaction in the pool
func (c *FakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(); err != nil {
		return err
	}
	for _, sent := range c.sent {
		if sent.Hash() == tx.Hash() {
			return errors.New("already known")
		}
	}
	c.sent = append(c.sent, tx)
	return nil
}

// Sent returns every distinct transaction sent so far
func (c *FakeChain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// DropPool forgets the pool, as a restarted node would
func (c *FakeChain) DropPool() {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.sent[:0]
	for _, tx := range c.sent {
		if _, ok := c.mined[tx.Hash()]; ok {
			pending = append(pending, tx)
		}
	}
	c.sent = pending
}

// MineTx marks a sent transaction as included in a new block
func (c *FakeChain) MineTx(hash common.Hash, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	number := c.mine(nil)
	status := types.ReceiptStatusSuccessful
	if !success {
		status = types.ReceiptStatusFailed
	}
	c.mined[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(number),
		BlockHash:   c.headers[number].Hash(),
	}
}

// TransactionReceipt returns the receipt of a mined transaction
func (c *FakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(); err != nil {
		return nil, err
	}
	r, ok := c.mined[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// PendingNonceAt counts the account's mined and pooled transactions
func (c *FakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(); err != nil {
		return 0, err
	}
	signer := types.LatestSignerForChainID(c.chainID)
	nonce := uint64(0)
	for _, tx := range c.sent {
		from, err := types.Sender(signer, tx)
		if err == nil && from == account && tx.Nonce() >= nonce {
			nonce = tx.Nonce() + 1
		}
	}
	return nonce, nil
}

// SetGasPrice sets the suggested gas price
func (c *FakeChain) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = new(big.Int).Set(price)
}

// SuggestGasPrice returns the gas price
func (c *FakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.gasPrice), nil
}
