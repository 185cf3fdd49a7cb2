package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryStore(), nil)
}

func TestLedger_CreateAndConsume(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	issued, err := ledger.Create(ctx, "tenant-a", "irhash-1", "alice", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, StatusPending, issued.Approval.Status)

	result, err := ledger.Consume(ctx, ConsumeRequest{
		TenantID: "tenant-a", IRHash: "irhash-1", Token: issued.Token,
	}, "bob")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StatusConsumed, result.Status)
}

func TestLedger_ConsumeTwiceFails(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	issued, err := ledger.Create(ctx, "tenant-a", "irhash-1", "alice", 0)
	require.NoError(t, err)

	req := ConsumeRequest{TenantID: "tenant-a", IRHash: "irhash-1", Token: issued.Token}
	first, err := ledger.Consume(ctx, req, "bob")
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := ledger.Consume(ctx, req, "bob")
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, StatusConsumed, second.Status)
}

func TestLedger_WrongTenantRejected(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	issued, err := ledger.Create(ctx, "tenant-a", "irhash-1", "alice", 0)
	require.NoError(t, err)

	result, err := ledger.Consume(ctx, ConsumeRequest{
		TenantID: "tenant-b", IRHash: "irhash-1", Token: issued.Token,
	}, "bob")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StatusInvalid, result.Status)
}

func TestLedger_WrongIRHashRejected(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	issued, err := ledger.Create(ctx, "tenant-a", "irhash-1", "alice", 0)
	require.NoError(t, err)

	result, err := ledger.Consume(ctx, ConsumeRequest{
		TenantID: "tenant-a", IRHash: "irhash-2", Token: issued.Token,
	}, "bob")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StatusInvalid, result.Status)
}

func TestLedger_UnknownTokenRejected(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	result, err := ledger.Consume(ctx, ConsumeRequest{
		TenantID: "tenant-a", IRHash: "irhash-1", Token: "not-a-real-token",
	}, "bob")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StatusInvalid, result.Status)
}

func TestLedger_ExpiredTokenRejected(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	issued, err := ledger.Create(ctx, "tenant-a", "irhash-1", "alice", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	result, err := ledger.Consume(ctx, ConsumeRequest{
		TenantID: "tenant-a", IRHash: "irhash-1", Token: issued.Token,
	}, "bob")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StatusExpired, result.Status)
}

func TestLedger_StatusAppliesLazyExpiry(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	issued, err := ledger.Create(ctx, "tenant-a", "irhash-1", "alice", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	approval, err := ledger.Status(ctx, issued.Approval.ApprovalID)
	require.NoError(t, err)
	require.NotNil(t, approval)
	assert.Equal(t, StatusExpired, approval.Status)
}

func TestLedger_DefaultTTLAppliedWhenZero(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	issued, err := ledger.Create(ctx, "tenant-a", "irhash-1", "alice", 0)
	require.NoError(t, err)

	delta := issued.Approval.ExpiresAt.Sub(issued.Approval.CreatedAt)
	assert.InDelta(t, DefaultTTL.Seconds(), delta.Seconds(), 2)
}

func TestLedger_RawTokenNeverPersistedAsIs(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, nil)
	ctx := context.Background()

	issued, err := ledger.Create(ctx, "tenant-a", "irhash-1", "alice", 0)
	require.NoError(t, err)

	stored, err := store.Get(ctx, issued.Approval.ApprovalID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, issued.Token, stored.TokenHash)
	assert.Equal(t, hashToken(issued.Token), stored.TokenHash)
}
