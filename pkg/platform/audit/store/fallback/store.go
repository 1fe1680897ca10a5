// Package fallback guards a remote audit sink with a circuit breaker and
// diverts events to a local store while the sink is failing.
package fallback

import (
	"context"
	"log/slog"

	audit "grantd/pkg/platform/audit"
	"grantd/pkg/platform/circuit"
)

// CircuitObserver receives breaker transitions.
type CircuitObserver interface {
	SetCircuitOpen(name string, open bool)
}

// Store implements audit.Store. Events go to primary; a failed append is
// written to fallback so it is not lost. While the breaker is open primary
// is still tried first, and enough consecutive successes close it again.
type Store struct {
	primary  audit.Store
	fallback audit.Store
	breaker  *circuit.Breaker
	observer CircuitObserver
	logger   *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(observer CircuitObserver) Option {
	return func(s *Store) {
		s.observer = observer
	}
}

// New wraps primary. The breaker defaults to circuit.New("audit").
func New(primary, fallback audit.Store, breaker *circuit.Breaker, opts ...Option) *Store {
	if breaker == nil {
		breaker = circuit.New("audit")
	}
	s := &Store{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	err := s.primary.Append(ctx, event)
	if err == nil {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "audit sink recovered", "breaker", s.breaker.Name())
			s.observe(false)
		}
		return nil
	}

	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.WarnContext(ctx, "audit sink failing, diverting to fallback",
			"breaker", s.breaker.Name(), "error", err)
		s.observe(true)
	}
	if ferr := s.fallback.Append(ctx, event); ferr != nil {
		return ferr
	}
	return nil
}

// Degraded reports whether the breaker is open.
func (s *Store) Degraded() bool {
	return s.breaker.IsOpen()
}

func (s *Store) observe(open bool) {
	if s.observer != nil {
		s.observer.SetCircuitOpen(s.breaker.Name(), open)
	}
}
