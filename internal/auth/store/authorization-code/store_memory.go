package authorizationcode

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"grantd/internal/auth/models"
	"grantd/pkg/platform/sentinel"
)

// Error Contract:
// - Pop returns ErrNotFound when the code was never issued or is already consumed
// - Pop returns ErrExpired when the code existed but outlived its TTL; the code is
//   removed either way
// - infrastructure failures are wrapped with context

// InMemoryAuthorizationCodeStore keeps pending grants in memory. Expiry is
// enforced lazily on Pop and eagerly by DeleteExpired, which walks a min-heap
// ordered by expiry so a sweep only touches grants that are actually due.
type InMemoryAuthorizationCodeStore struct {
	mu     sync.Mutex
	grants map[string]*models.PendingGrant
	queue  expiryQueue
}

// New constructs an empty in-memory grant store.
func New() *InMemoryAuthorizationCodeStore {
	return &InMemoryAuthorizationCodeStore{
		grants: make(map[string]*models.PendingGrant),
	}
}

func (s *InMemoryAuthorizationCodeStore) Create(_ context.Context, grant *models.PendingGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[grant.Code]; exists {
		return fmt.Errorf("authorization code already issued: %w", sentinel.ErrAlreadyUsed)
	}
	stored := *grant
	s.grants[grant.Code] = &stored
	heap.Push(&s.queue, expiryEntry{code: grant.Code, expiresAt: grant.ExpiresAt})
	return nil
}

// Pop removes and returns the grant for code. Removal happens before the
// expiry check so an expired code can never be retried.
func (s *InMemoryAuthorizationCodeStore) Pop(_ context.Context, code string, now time.Time) (*models.PendingGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[code]
	if !ok {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	delete(s.grants, code)
	if grant.IsExpired(now) {
		return nil, fmt.Errorf("authorization code expired: %w", sentinel.ErrExpired)
	}
	return grant, nil
}

// DeleteExpired removes every grant expired as of now and returns them.
func (s *InMemoryAuthorizationCodeStore) DeleteExpired(_ context.Context, now time.Time) ([]*models.PendingGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*models.PendingGrant
	for s.queue.Len() > 0 && !now.Before(s.queue[0].expiresAt) {
		entry := heap.Pop(&s.queue).(expiryEntry)
		grant, ok := s.grants[entry.code]
		// Entries for codes already popped are stale; skip them.
		if !ok || !grant.ExpiresAt.Equal(entry.expiresAt) {
			continue
		}
		delete(s.grants, entry.code)
		expired = append(expired, grant)
	}
	return expired, nil
}

// Len reports the number of grants currently held, expired or not.
func (s *InMemoryAuthorizationCodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}

type expiryEntry struct {
	code      string
	expiresAt time.Time
}

// expiryQueue implements heap.Interface ordered by expiresAt.
type expiryQueue []expiryEntry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].expiresAt.Before(q[j].expiresAt) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *expiryQueue) Push(x any) {
	*q = append(*q, x.(expiryEntry))
}

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}
