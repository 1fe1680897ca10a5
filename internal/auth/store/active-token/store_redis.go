package activetoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"

	"github.com/redis/go-redis/v9"
)

const (
	activeTokenKeyPrefix = "grant:active:"
	maxRotateAttempts    = 5
)

// RedisStore keeps active token records as JSON values. Records carry no key
// TTL: they live as long as the refresh token lineage they track.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed active token store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, token *models.ActiveToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal active token: %w", err)
	}
	if err := s.client.Set(ctx, activeTokenKeyPrefix+token.Code, payload, 0).Err(); err != nil {
		return fmt.Errorf("store active token: %w", err)
	}
	return nil
}

func (s *RedisStore) Pop(ctx context.Context, code string) (*models.ActiveToken, error) {
	payload, err := s.client.GetDel(ctx, activeTokenKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("active token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pop active token: %w", err)
	}
	var token models.ActiveToken
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("decode active token: %w", err)
	}
	return &token, nil
}

// Rotate updates the record under WATCH so a concurrent Pop either happens
// before (Rotate sees ErrNotFound) or aborts the transaction and is retried.
func (s *RedisStore) Rotate(ctx context.Context, code string, issued models.IssuedToken) error {
	key := activeTokenKeyPrefix + code
	update := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("active token not found: %w", sentinel.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var token models.ActiveToken
		if err := json.Unmarshal(payload, &token); err != nil {
			return fmt.Errorf("decode active token: %w", err)
		}
		token.Rotate(issued)
		updated, err := json.Marshal(&token)
		if err != nil {
			return fmt.Errorf("marshal active token: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for range maxRotateAttempts {
		err := s.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("rotate active token: %w", err)
		}
		return err
	}
	return fmt.Errorf("rotate active token: too much contention: %w", sentinel.ErrUnavailable)
}
