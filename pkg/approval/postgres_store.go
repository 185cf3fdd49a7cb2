package approval

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL. Durable backing for
// the approval ledger; used whenever the orchestrator is configured
// with DATABASE_URL (i.e. not running in Lite Mode).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, approval Approval) error {
	query := `
		INSERT INTO ir_approvals
			(approval_id, tenant_id, ir_hash, status, token_hash, created_at, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		approval.ApprovalID, approval.TenantID, approval.IRHash, string(approval.Status),
		approval.TokenHash, approval.CreatedAt, approval.ExpiresAt, approval.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to persist approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, approvalID string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT approval_id, tenant_id, ir_hash, status, token_hash, created_at, expires_at,
		       consumed_at, created_by, consumed_by
		FROM ir_approvals WHERE approval_id = $1`, approvalID)
	return scanApproval(row)
}

func (s *PostgresStore) FindByTokenHash(ctx context.Context, tokenHash string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT approval_id, tenant_id, ir_hash, status, token_hash, created_at, expires_at,
		       consumed_at, created_by, consumed_by
		FROM ir_approvals WHERE token_hash = $1`, tokenHash)
	return scanApproval(row)
}

func (s *PostgresStore) Update(ctx context.Context, approval Approval) error {
	query := `
		UPDATE ir_approvals SET
			status = $2, consumed_at = $3, consumed_by = $4
		WHERE approval_id = $1
	`
	_, err := s.db.ExecContext(ctx, query,
		approval.ApprovalID, string(approval.Status), approval.ConsumedAt, approval.ConsumedBy)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, approvalID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM ir_approvals WHERE approval_id = $1", approvalID)
	if err != nil {
		return fmt.Errorf("failed to delete approval: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	var a Approval
	var status string
	err := row.Scan(&a.ApprovalID, &a.TenantID, &a.IRHash, &status, &a.TokenHash,
		&a.CreatedAt, &a.ExpiresAt, &a.ConsumedAt, &a.CreatedBy, &a.ConsumedBy)
	if err == sql.ErrNoRows {
		return nil, nil // not found is valid, caller treats as "no such approval"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}
	a.Status = Status(status)
	return &a, nil
}
