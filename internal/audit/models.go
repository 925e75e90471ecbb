package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Audit writes are best-effort; do not block call or meeting flows on audit failures.
//
// Storage (Postgres):
// - Table audit_events with an INSERT-only policy.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	Type     EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	CallID    string `json:"call_id,omitempty" db:"call_id"`
	MeetingID string `json:"meeting_id,omitempty" db:"meeting_id"`

	FromStatus string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string `json:"to_status,omitempty" db:"to_status"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallTransition    EventType = "call_transition"
	EventTypeMeetingTransition EventType = "meeting_transition"
)
