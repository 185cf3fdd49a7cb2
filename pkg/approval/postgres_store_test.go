package approval

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ir_approvals")).
		WithArgs("appr-1", "tenant-1", "ir-hash-1", "pending", "tokhash-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "system").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Create(ctx, Approval{
		ApprovalID: "appr-1",
		TenantID:   "tenant-1",
		IRHash:     "ir-hash-1",
		Status:     StatusPending,
		TokenHash:  "tokhash-1",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
		CreatedBy:  "system",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByTokenHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"approval_id", "tenant_id", "ir_hash", "status", "token_hash",
		"created_at", "expires_at", "consumed_at", "created_by", "consumed_by",
	}).AddRow("appr-1", "tenant-1", "ir-hash-1", "pending", "tokhash-1", now, now.Add(time.Hour), nil, "system", "")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT approval_id, tenant_id, ir_hash, status, token_hash, created_at, expires_at,")).
		WithArgs("tokhash-1").
		WillReturnRows(rows)

	a, err := store.FindByTokenHash(ctx, "tokhash-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "appr-1", a.ApprovalID)
	assert.Equal(t, StatusPending, a.Status)
}

func TestPostgresStore_FindByTokenHash_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT approval_id, tenant_id, ir_hash, status, token_hash, created_at, expires_at,")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"approval_id", "tenant_id", "ir_hash", "status", "token_hash",
			"created_at", "expires_at", "consumed_at", "created_by", "consumed_by",
		}))

	a, err := store.FindByTokenHash(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestPostgresStore_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE ir_approvals SET")).
		WithArgs("appr-1", "consumed", sqlmock.AnyArg(), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now()
	err = store.Update(ctx, Approval{
		ApprovalID: "appr-1",
		Status:     StatusConsumed,
		ConsumedAt: &now,
		ConsumedBy: "alice",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
