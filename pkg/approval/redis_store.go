package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis string keys: each approval is
// stored as JSON under its approval_id, with a secondary string key
// holding the token_hash -> approval_id index. Both keys carry a native
// TTL (time left until ExpiresAt plus ttlSlack), after which Redis drops
// them. The store applies no status transition itself; the lazy
// StatusExpired transition is done by the Ledger on top of Get and
// FindByTokenHash.
type RedisStore struct {
	client *redis.Client
	// ttlSlack keeps the Redis key alive past ExpiresAt so a lookup can
	// still observe and report StatusExpired instead of "not found".
	ttlSlack time.Duration
}

// NewRedisStore creates a store backed by the Redis instance at addr.
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, ttlSlack: 24 * time.Hour}
}

func approvalKey(id string) string     { return fmt.Sprintf("approval:%s", id) }
func tokenIndexKey(hash string) string { return fmt.Sprintf("approval:token:%s", hash) }

func (s *RedisStore) Create(ctx context.Context, approval Approval) error {
	data, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("approval: marshaling record: %w", err)
	}

	ttl := time.Until(approval.ExpiresAt) + s.ttlSlack
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, approvalKey(approval.ApprovalID), data, ttl)
	pipe.Set(ctx, tokenIndexKey(approval.TokenHash), approval.ApprovalID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("approval: writing record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, approvalID string) (*Approval, error) {
	data, err := s.client.Get(ctx, approvalKey(approvalID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approval: fetching record: %w", err)
	}
	var a Approval
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("approval: decoding record: %w", err)
	}
	return &a, nil
}

func (s *RedisStore) FindByTokenHash(ctx context.Context, tokenHash string) (*Approval, error) {
	id, err := s.client.Get(ctx, tokenIndexKey(tokenHash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approval: resolving token index: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) Update(ctx context.Context, approval Approval) error {
	data, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("approval: marshaling record: %w", err)
	}
	// Preserve whatever TTL is already set on the key rather than
	// resetting it, so a consumed/expired record still disappears on
	// schedule instead of lingering another full ttlSlack window.
	ttl, err := s.client.TTL(ctx, approvalKey(approval.ApprovalID)).Result()
	if err != nil {
		return fmt.Errorf("approval: reading ttl: %w", err)
	}
	if ttl <= 0 {
		ttl = s.ttlSlack
	}
	if err := s.client.Set(ctx, approvalKey(approval.ApprovalID), data, ttl).Err(); err != nil {
		return fmt.Errorf("approval: updating record: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, approvalID string) error {
	approval, err := s.Get(ctx, approvalID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, approvalKey(approvalID))
	if approval != nil {
		pipe.Del(ctx, tokenIndexKey(approval.TokenHash))
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("approval: deleting record: %w", err)
	}
	return nil
}
