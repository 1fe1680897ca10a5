package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"grantd/internal/auth/models"
	"grantd/internal/platform/metrics"
	"grantd/pkg/platform/audit"
)

// GrantSweeper removes pending grants that expired without being redeemed.
type GrantSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) ([]*models.PendingGrant, error)
}

// RevocationSweeper removes revocation entries whose tokens have expired anyway.
type RevocationSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditPublisher records grant expiry.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Sweeper periodically drops expired state from stores that do not expire
// keys on their own. Redemption and sweeping both go through the store's
// atomic delete, so a grant is either redeemed or swept, never both.
type Sweeper struct {
	grants      GrantSweeper
	revocations RevocationSweeper
	interval    time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	auditor     AuditPublisher
}

type Option func(*Sweeper)

func WithRevocations(r RevocationSweeper) Option {
	return func(s *Sweeper) {
		s.revocations = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Sweeper) {
		s.auditor = p
	}
}

func NewSweeper(grants GrantSweeper, interval time.Duration, opts ...Option) (*Sweeper, error) {
	if grants == nil {
		return nil, errors.New("grant sweeper is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	s := &Sweeper{
		grants:   grants,
		interval: interval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs a sweep every interval until ctx is cancelled. Sweep failures
// are logged and retried on the next tick.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if err := s.SweepAt(ctx, now); err != nil {
				s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepAt removes everything expired as of now.
// Exported for testability; Start passes wall-clock time.
func (s *Sweeper) SweepAt(ctx context.Context, now time.Time) error {
	expired, err := s.grants.DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep pending grants: %w", err)
	}
	s.metrics.AddGrantsExpired(len(expired))
	for _, grant := range expired {
		s.emitExpired(ctx, grant)
	}

	if s.revocations == nil {
		return nil
	}
	removed, err := s.revocations.DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep revocation list: %w", err)
	}
	if len(expired) > 0 || removed > 0 {
		s.logger.DebugContext(ctx, "expiry sweep",
			"grants_expired", len(expired),
			"revocations_removed", removed,
		)
	}
	return nil
}

func (s *Sweeper) emitExpired(ctx context.Context, grant *models.PendingGrant) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		Action:   string(audit.EventGrantExpired),
		ClientID: grant.ClientID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"event", string(audit.EventGrantExpired),
			"error", err,
		)
	}
}
