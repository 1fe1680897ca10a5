package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategorySecurity covers events relevant to security monitoring and forensics:
	// rejected grants, failed exchanges and code replays.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine credential lifecycle activity.
	// These can be sampled or aggregated with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	Action    string
	ClientID  string
	Reason    string
	RequestID string
	IP        string
	Device    string
}

type AuditEvent string

const (
	EventGrantIssued         AuditEvent = "grant_issued"
	EventGrantRejected       AuditEvent = "grant_rejected"
	EventGrantExpired        AuditEvent = "grant_expired"
	EventTokenIssued         AuditEvent = "token_issued"
	EventTokenRefreshed      AuditEvent = "token_refreshed"
	EventTokenExchangeFailed AuditEvent = "token_exchange_failed"
	EventCodeReplayDetected  AuditEvent = "code_replay_detected"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventGrantRejected:       CategorySecurity,
	EventTokenExchangeFailed: CategorySecurity,
	EventCodeReplayDetected:  CategorySecurity,

	EventGrantIssued:    CategoryOperations,
	EventGrantExpired:   CategoryOperations,
	EventTokenIssued:    CategoryOperations,
	EventTokenRefreshed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
