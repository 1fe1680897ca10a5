package postgres

import (
	"context"
	"database/sql"
	"fmt"

	audit "grantd/pkg/platform/audit"
	txcontext "grantd/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table. It is the durable
// sink when the service runs on PostgreSQL without a Kafka broker.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFor(ctx, s.db)
}

// Append inserts an event. Idempotent on the event ID.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, action, client_id,
			reason, request_id, ip, device
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		event.Timestamp,
		event.Action,
		event.ClientID,
		event.Reason,
		event.RequestID,
		event.IP,
		event.Device,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT id, category, timestamp, action, client_id,
	       reason, request_id, ip, device
	FROM audit_events
`

// ListByClient returns events for one client, newest first.
func (s *Store) ListByClient(ctx context.Context, clientID string) ([]audit.Event, error) {
	return s.list(ctx, selectEvents+`WHERE client_id = $1 ORDER BY timestamp DESC`, clientID)
}

// ListByAction returns events recorded for one action, newest first.
func (s *Store) ListByAction(ctx context.Context, action audit.AuditEvent) ([]audit.Event, error) {
	return s.list(ctx, selectEvents+`WHERE action = $1 ORDER BY timestamp DESC`, string(action))
}

// ListRecent returns the limit most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return s.list(ctx, selectEvents+`ORDER BY timestamp DESC LIMIT $1`, limit)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]audit.Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			category string
			event    audit.Event
		)
		if err := rows.Scan(
			&event.ID, &category, &event.Timestamp, &event.Action, &event.ClientID,
			&event.Reason, &event.RequestID, &event.IP, &event.Device,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
