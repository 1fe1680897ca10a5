package refreshtoken

import (
	"context"
	"fmt"
	"sync"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"
)

// Error Contract:
// - Pop returns ErrNotFound when the token was never issued, already rotated or revoked
// - Create returns ErrAlreadyUsed on a token collision
// - infrastructure failures are wrapped with context

// InMemoryRefreshTokenStore stores refresh tokens in memory for tests/dev.
type InMemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshTokenRecord
}

// New constructs an empty in-memory refresh token store.
func New() *InMemoryRefreshTokenStore {
	return &InMemoryRefreshTokenStore{tokens: make(map[string]*models.RefreshTokenRecord)}
}

func (s *InMemoryRefreshTokenStore) Create(_ context.Context, token *models.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.Token]; exists {
		return fmt.Errorf("refresh token already issued: %w", sentinel.ErrAlreadyUsed)
	}
	stored := *token
	s.tokens[token.Token] = &stored
	return nil
}

// Pop removes and returns the record; a refresh token is spent by use.
func (s *InMemoryRefreshTokenStore) Pop(_ context.Context, token string) (*models.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tokens[token]
	if !ok {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	delete(s.tokens, token)
	return record, nil
}
