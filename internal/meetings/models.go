package meetings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Meeting is one booking attempt.
//
// Invariant: at most one PENDING or CONFIRMED meeting per (TenantID, ConversationID) when
// ConversationID is set. The repository enforces it (partial unique index in Postgres).
type Meeting struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Status   Status `json:"status" db:"status"`

	CustomerName  string `json:"customer_name" db:"customer_name"`
	CustomerEmail string `json:"customer_email" db:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty" db:"customer_phone"`
	Notes         string `json:"notes,omitempty" db:"notes"`

	EventTypeID     int64     `json:"event_type_id" db:"event_type_id"`
	MeetingTime     time.Time `json:"meeting_time" db:"meeting_time"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	TimeZone        string    `json:"timezone" db:"timezone"`
	Language        string    `json:"language" db:"language"`

	// ConversationID correlates the meeting with the call that produced it. Optional.
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`
	AgentID        string `json:"agent_id,omitempty" db:"agent_id"`

	ProviderEventID  *string         `json:"provider_event_id,omitempty" db:"provider_event_id"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty" db:"provider_response"`
	MeetingLink      *string         `json:"meeting_link" db:"meeting_link"`
	Warning          *string         `json:"warning,omitempty" db:"warning"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`

	NotificationSent  bool    `json:"notification_sent" db:"notification_sent"`
	NotificationError *string `json:"notification_error,omitempty" db:"notification_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Terminal() bool { return s == StatusConfirmed || s == StatusFailed }

// Active meetings block another booking for the same conversation.
func (s Status) Active() bool { return s == StatusPending || s == StatusConfirmed }

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusFailed
}

var (
	ErrNotFound        = errors.New("meetings: not found")
	ErrDuplicate       = errors.New("meetings: active meeting exists for conversation")
	ErrInvalidRequest  = errors.New("meetings: invalid booking request")
	ErrNoCredentials   = errors.New("meetings: calendar api key not configured")
	ErrInvalidArgument = errors.New("meetings: invalid argument")
)

// DuplicateBookingError rejects a booking for a conversation that already has one.
type DuplicateBookingError struct {
	ExistingID     string
	ExistingStatus Status
}

func (e *DuplicateBookingError) Error() string {
	return fmt.Sprintf("meetings: conversation already has meeting %s (%s)", e.ExistingID, e.ExistingStatus)
}

func (e *DuplicateBookingError) Unwrap() error { return ErrDuplicate }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
