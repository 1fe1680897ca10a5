package refreshtoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"

	"github.com/redis/go-redis/v9"
)

const refreshTokenKeyPrefix = "grant:refresh:"

// RedisStore keeps refresh tokens as JSON values without TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed refresh token store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, token *models.RefreshTokenRecord) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal refresh token: %w", err)
	}
	created, err := s.client.SetNX(ctx, refreshTokenKeyPrefix+token.Token, payload, 0).Result()
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	if !created {
		return fmt.Errorf("refresh token already issued: %w", sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *RedisStore) Pop(ctx context.Context, token string) (*models.RefreshTokenRecord, error) {
	payload, err := s.client.GetDel(ctx, refreshTokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pop refresh token: %w", err)
	}
	var record models.RefreshTokenRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	return &record, nil
}
