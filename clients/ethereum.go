// Package clients provides the read-only chain access the paywall engine
// needs: receipt lookup by hash and header lookup by number, each bounded by
// a fixed per-call timeout.
package clients

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainReader is the node surface the verifier consumes. It is satisfied by
// *ethclient.Client; tests substitute a fake. Absence is reported as
// ethereum.NotFound, every other error is an infrastructure failure.
type ChainReader interface {
	// TransactionReceipt returns the receipt of a mined transaction.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)

	// HeaderByNumber returns the header of the given block, fetched without
	// transaction bodies.
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
}

var _ ChainReader = (*ethclient.Client)(nil)

// EVMClient wraps a ChainReader and applies a fixed timeout to every call.
// Exceeding the timeout is a failure, not an absence.
type EVMClient struct {
	reader  ChainReader
	timeout time.Duration
	close   func()
}

// NewEVMClient dials a JSON-RPC endpoint. A non-positive timeout selects the
// 15 second default.
func NewEVMClient(rpcURL string, timeout time.Duration) (*EVMClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", rpcURL, err)
	}
	c := NewEVMClientWithReader(client, timeout)
	c.close = client.Close
	return c, nil
}

// NewEVMClientWithReader wraps an existing reader, typically a fake in tests.
func NewEVMClientWithReader(reader ChainReader, timeout time.Duration) *EVMClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EVMClient{reader: reader, timeout: timeout}
}

// TransactionReceipt implements ChainReader with the per-call timeout applied.
func (c *EVMClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.reader.TransactionReceipt(callCtx, txHash)
}

// HeaderByNumber implements ChainReader with the per-call timeout applied.
func (c *EVMClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.reader.HeaderByNumber(callCtx, number)
}

// Close releases the underlying RPC connection, if any.
func (c *EVMClient) Close() {
	if c.close != nil {
		c.close()
	}
}
