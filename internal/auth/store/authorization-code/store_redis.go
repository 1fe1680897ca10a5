package authorizationcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"

	"github.com/redis/go-redis/v9"
)

const grantKeyPrefix = "grant:code:"

// RedisStore keeps pending grants as JSON values whose key TTL matches the
// grant lifetime, so Redis itself enforces the expiry bound.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed grant store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, grant *models.PendingGrant) error {
	payload, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal pending grant: %w", err)
	}
	ttl := grant.ExpiresAt.Sub(grant.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired: %w", sentinel.ErrExpired)
	}
	created, err := s.client.SetNX(ctx, grantKeyPrefix+grant.Code, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store pending grant: %w", err)
	}
	if !created {
		return fmt.Errorf("authorization code already issued: %w", sentinel.ErrAlreadyUsed)
	}
	return nil
}

// Pop uses GETDEL so concurrent redemptions of one code see it exactly once.
func (s *RedisStore) Pop(ctx context.Context, code string, now time.Time) (*models.PendingGrant, error) {
	payload, err := s.client.GetDel(ctx, grantKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pop pending grant: %w", err)
	}
	var grant models.PendingGrant
	if err := json.Unmarshal(payload, &grant); err != nil {
		return nil, fmt.Errorf("decode pending grant: %w", err)
	}
	if grant.IsExpired(now) {
		return nil, fmt.Errorf("authorization code expired: %w", sentinel.ErrExpired)
	}
	return &grant, nil
}

// DeleteExpired is a no-op: key TTLs already evict expired grants.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) ([]*models.PendingGrant, error) {
	return nil, nil
}
