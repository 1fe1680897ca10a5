// Package activetoken records, per redeemed code, the tokens issued from it.
package activetoken

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"
)

// InMemoryActiveTokenStore stores active tokens in memory for tests/dev.
type InMemoryActiveTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.ActiveToken
}

// New constructs an empty in-memory active token store.
func New() *InMemoryActiveTokenStore {
	return &InMemoryActiveTokenStore{
		tokens: make(map[string]*models.ActiveToken),
	}
}

func (s *InMemoryActiveTokenStore) Create(_ context.Context, token *models.ActiveToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Code] = clone(token)
	return nil
}

// Pop removes and returns the record for code.
func (s *InMemoryActiveTokenStore) Pop(_ context.Context, code string) (*models.ActiveToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[code]
	if !ok {
		return nil, fmt.Errorf("active token not found: %w", sentinel.ErrNotFound)
	}
	delete(s.tokens, code)
	return token, nil
}

// Rotate appends a reissue to the record for code. ErrNotFound means the
// lineage was revoked and the reissue must not be handed out.
func (s *InMemoryActiveTokenStore) Rotate(_ context.Context, code string, issued models.IssuedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[code]
	if !ok {
		return fmt.Errorf("active token not found: %w", sentinel.ErrNotFound)
	}
	token.Rotate(issued)
	return nil
}

func clone(token *models.ActiveToken) *models.ActiveToken {
	c := *token
	c.TokenIDs = slices.Clone(token.TokenIDs)
	return &c
}
