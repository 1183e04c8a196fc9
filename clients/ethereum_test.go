package clients

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deadlineCapturingReader struct {
	receiptDeadline time.Time
	headerDeadline  time.Time
}

func (r *deadlineCapturingReader) TransactionReceipt(ctx context.Context, _ common.Hash) (*ethtypes.Receipt, error) {
	r.receiptDeadline, _ = ctx.Deadline()
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}, nil
}

func (r *deadlineCapturingReader) HeaderByNumber(ctx context.Context, _ *big.Int) (*ethtypes.Header, error) {
	r.headerDeadline, _ = ctx.Deadline()
	return &ethtypes.Header{Time: 1}, nil
}

func TestEVMClient_AppliesPerCallTimeout(t *testing.T) {
	reader := &deadlineCapturingReader{}
	client := NewEVMClientWithReader(reader, 15*time.Second)

	start := time.Now()
	_, err := client.TransactionReceipt(context.Background(), common.Hash{})
	require.NoError(t, err)
	_, err = client.HeaderByNumber(context.Background(), big.NewInt(1))
	require.NoError(t, err)

	// Each call must carry its own deadline roughly one timeout in the future.
	assert.WithinDuration(t, start.Add(15*time.Second), reader.receiptDeadline, time.Second)
	assert.WithinDuration(t, start.Add(15*time.Second), reader.headerDeadline, time.Second)
}

func TestEVMClient_DefaultTimeout(t *testing.T) {
	client := NewEVMClientWithReader(&deadlineCapturingReader{}, 0)
	assert.Equal(t, 15*time.Second, client.timeout)
}

func TestEVMClient_CloseWithoutConnection(t *testing.T) {
	client := NewEVMClientWithReader(&deadlineCapturingReader{}, time.Second)
	client.Close() // nothing to release, must not panic
}
