package worker

import (
	"context"
	"log/slog"

	audit "grantd/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. A failing
// store is logged and skipped so one bad sink write never stalls the inbox.
type Worker struct {
	store   audit.Store
	inbox   <-chan audit.Event
	logger  *slog.Logger
	onError func(error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithErrorHook is called after every failed Append.
func WithErrorHook(fn func(error)) Option {
	return func(w *Worker) {
		w.onError = fn
	}
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run persists events until the inbox is closed or ctx is cancelled.
// A closed inbox means the producer is done; everything already queued has
// been written by the time Run returns nil.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.persist(ctx, event)
		}
	}
}

func (w *Worker) persist(ctx context.Context, event audit.Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "failed to persist audit event",
			"error", err,
			"action", event.Action,
			"event_id", event.ID,
		)
		if w.onError != nil {
			w.onError(err)
		}
	}
}
