package approval

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/orchestrator/pkg/audit"
)

// DefaultTTL is the approval lifetime applied when the caller does not
// supply one.
const DefaultTTL = 1 * time.Hour

// tokenBytes is the raw entropy size of a generated approval token
// (256 bits), mirroring the source's secrets.token_urlsafe(32).
const tokenBytes = 32

// Ledger issues, looks up, and consumes approval tokens. It never
// stores a raw token: Create returns the raw token exactly once to the
// caller, and every subsequent lookup goes through its SHA-256 hash.
type Ledger struct {
	store  Store
	logger audit.Logger
}

// NewLedger constructs a Ledger backed by store. logger may be nil, in
// which case lifecycle events are not recorded.
func NewLedger(store Store, logger audit.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// IssueResult is returned by Create; Token is the only time the raw
// token is ever exposed.
type IssueResult struct {
	Approval Approval
	Token    string
}

// Create mints a new pending approval bound to (tenantID, irHash) with
// the given TTL (DefaultTTL if ttl <= 0) and returns the raw token.
func (l *Ledger) Create(ctx context.Context, tenantID, irHash, createdBy string, ttl time.Duration) (IssueResult, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	token, err := generateToken()
	if err != nil {
		return IssueResult{}, fmt.Errorf("approval: generating token: %w", err)
	}
	tokenHash := hashToken(token)

	now := time.Now().UTC()
	approval := Approval{
		ApprovalID: uuid.New().String(),
		TenantID:   tenantID,
		IRHash:     irHash,
		Status:     StatusPending,
		TokenHash:  tokenHash,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		CreatedBy:  createdBy,
	}

	if err := l.store.Create(ctx, approval); err != nil {
		return IssueResult{}, fmt.Errorf("approval: creating record: %w", err)
	}

	l.record(ctx, "ir.approval_requested", tenantID, map[string]interface{}{
		"approval_id": approval.ApprovalID,
		"ir_hash":     irHash,
		"expires_at":  approval.ExpiresAt,
	})

	return IssueResult{Approval: approval, Token: token}, nil
}

// Consume redeems req.Token. The check order mirrors the source
// exactly: find by token hash, then tenant match, then ir_hash match,
// then expiry (mutating to StatusExpired on read if so), then
// already-consumed, and only then does the token succeed and get
// marked StatusConsumed. Every branch short-circuits — failure leaves
// the record's status unmodified except for the lazy-expiry case.
func (l *Ledger) Consume(ctx context.Context, req ConsumeRequest, consumedBy string) (ConsumeResult, error) {
	tokenHash := hashToken(req.Token)

	approval, err := l.store.FindByTokenHash(ctx, tokenHash)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("approval: looking up token: %w", err)
	}
	if approval == nil {
		return ConsumeResult{Success: false, Status: StatusInvalid, Message: "no approval found for token"}, nil
	}

	if approval.TenantID != req.TenantID {
		return ConsumeResult{Success: false, Status: StatusInvalid, ApprovalID: approval.ApprovalID,
			Message: "token does not belong to this tenant"}, nil
	}
	if approval.IRHash != req.IRHash {
		return ConsumeResult{Success: false, Status: StatusInvalid, ApprovalID: approval.ApprovalID,
			Message: "token is not bound to this IR"}, nil
	}

	if time.Now().UTC().After(approval.ExpiresAt) && approval.Status == StatusPending {
		approval.Status = StatusExpired
		if err := l.store.Update(ctx, *approval); err != nil {
			return ConsumeResult{}, fmt.Errorf("approval: marking expired: %w", err)
		}
	}
	if approval.Status == StatusExpired {
		l.record(ctx, "ir.approval_expired", req.TenantID, map[string]interface{}{"approval_id": approval.ApprovalID})
		return ConsumeResult{Success: false, Status: StatusExpired, ApprovalID: approval.ApprovalID,
			Message: "approval token has expired"}, nil
	}

	if approval.Status == StatusConsumed {
		return ConsumeResult{Success: false, Status: StatusConsumed, ApprovalID: approval.ApprovalID,
			Message: "approval token has already been consumed"}, nil
	}

	now := time.Now().UTC()
	approval.Status = StatusConsumed
	approval.ConsumedAt = &now
	approval.ConsumedBy = consumedBy
	if err := l.store.Update(ctx, *approval); err != nil {
		return ConsumeResult{}, fmt.Errorf("approval: marking consumed: %w", err)
	}

	l.record(ctx, "ir.approval_consumed", req.TenantID, map[string]interface{}{
		"approval_id": approval.ApprovalID,
		"ir_hash":     approval.IRHash,
		"consumed_by": consumedBy,
	})

	return ConsumeResult{Success: true, Status: StatusConsumed, ApprovalID: approval.ApprovalID}, nil
}

// Status returns the current status of an approval, applying the same
// lazy-expiry transition as Consume when read past its expiry.
func (l *Ledger) Status(ctx context.Context, approvalID string) (*Approval, error) {
	approval, err := l.store.Get(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("approval: fetching record: %w", err)
	}
	if approval == nil {
		return nil, nil
	}
	if approval.Status == StatusPending && time.Now().UTC().After(approval.ExpiresAt) {
		approval.Status = StatusExpired
		if err := l.store.Update(ctx, *approval); err != nil {
			return nil, fmt.Errorf("approval: marking expired: %w", err)
		}
	}
	return approval, nil
}

// CleanupExpired applies Status's lazy expiry transition to each of
// approvalIDs and returns how many of them are expired afterwards,
// including any that were already expired before the call. Only the
// listed ids are examined; the Store interface has no bulk sweep.
func (l *Ledger) CleanupExpired(ctx context.Context, approvalIDs []string) (int, error) {
	swept := 0
	for _, id := range approvalIDs {
		approval, err := l.Status(ctx, id)
		if err != nil {
			return swept, err
		}
		if approval != nil && approval.Status == StatusExpired {
			swept++
		}
	}
	return swept, nil
}

func (l *Ledger) record(ctx context.Context, name, tenantID string, metadata map[string]interface{}) {
	if l.logger == nil {
		return
	}
	_ = l.logger.Record(ctx, audit.EventApproval, name, tenantID, metadata)
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
