package calls

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is the call log for one inbound conversation.
//
// Multi-tenant invariant: TenantID is required on every row and (TenantID, ConversationID) is unique.
//
// Invariant: CallbackScheduledAt is set if and only if CallbackRequested is true and Status is a
// callback lifecycle state (see Status.InCallbackLifecycle).
type Record struct {
	ID             string `json:"id" db:"id"`
	TenantID       string `json:"tenant_id" db:"tenant_id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	AgentID            string `json:"agent_id,omitempty" db:"agent_id"`
	AgentPhoneNumberID string `json:"agent_phone_number_id,omitempty" db:"agent_phone_number_id"`
	CustomerPhone      string `json:"customer_phone,omitempty" db:"customer_phone"`
	AgentPhone         string `json:"agent_phone,omitempty" db:"agent_phone"`

	Status  Status `json:"status" db:"status"`
	Summary string `json:"summary" db:"summary"`

	// Transcript is the provider transcript as received; opaque to this package.
	Transcript json.RawMessage `json:"transcript,omitempty" db:"transcript"`

	CallbackRequested   bool       `json:"callback_requested" db:"callback_requested"`
	CallbackScheduledAt *time.Time `json:"callback_scheduled_at,omitempty" db:"callback_scheduled_at"`
	CallbackReason      *string    `json:"callback_reason,omitempty" db:"callback_reason"`
	CallbackAttempts    int        `json:"callback_attempts" db:"callback_attempts"`
	CallbackCompletedAt *time.Time `json:"callback_completed_at,omitempty" db:"callback_completed_at"`

	// Upstream classifier tags; opaque strings.
	LeadStatus string `json:"lead_status,omitempty" db:"lead_status"`
	FinalState string `json:"final_state,omitempty" db:"final_state"`

	CallDurationSeconds int `json:"call_duration_seconds" db:"call_duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PlaceholderSummary marks a record whose analysis has not finished.
const PlaceholderSummary = "Processing..."

type Status string

const (
	StatusProcessing         Status = "PROCESSING"
	StatusCompleted          Status = "COMPLETED"
	StatusAppointmentBooked  Status = "APPOINTMENT_BOOKED"
	StatusCallbackScheduled  Status = "CALLBACK_SCHEDULED"
	StatusFailed             Status = "FAILED"
	StatusWebhookError       Status = "WEBHOOK_ERROR"
	StatusCallbackInProgress Status = "CALLBACK_IN_PROGRESS"
	StatusCallbackCompleted  Status = "CALLBACK_COMPLETED"
	StatusCallbackFailed     Status = "CALLBACK_FAILED"
)

var ErrInvalidTransition = errors.New("calls: invalid status transition")

// transitions lists the allowed next states. CALLBACK_FAILED -> CALLBACK_IN_PROGRESS is the
// retry path of the callback job.
var transitions = map[Status][]Status{
	StatusProcessing:         {StatusCompleted, StatusAppointmentBooked, StatusCallbackScheduled, StatusFailed, StatusWebhookError},
	StatusCallbackScheduled:  {StatusCallbackInProgress, StatusCallbackFailed},
	StatusCallbackInProgress: {StatusCallbackCompleted, StatusCallbackFailed},
	StatusCallbackFailed:     {StatusCallbackInProgress},
}

// CanTransitionTo reports whether s -> next is allowed. Same-state updates are allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

func (s Status) InCallbackLifecycle() bool {
	switch s {
	case StatusCallbackScheduled, StatusCallbackInProgress, StatusCallbackCompleted, StatusCallbackFailed:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusAppointmentBooked, StatusCallbackScheduled, StatusFailed,
		StatusWebhookError, StatusCallbackInProgress, StatusCallbackCompleted, StatusCallbackFailed:
		return true
	default:
		return false
	}
}

// CheckInvariants validates the callback-schedule invariant.
func (r Record) CheckInvariants() error {
	want := r.CallbackRequested && r.Status.InCallbackLifecycle()
	has := r.CallbackScheduledAt != nil
	if want != has {
		return fmt.Errorf("calls: callback_scheduled_at=%v with callback_requested=%v in status %s", has, r.CallbackRequested, r.Status)
	}
	return nil
}

// Outcome is the single classification of an analysed call, computed once and used downstream.
type Outcome string

const (
	OutcomeCompleted         Outcome = "COMPLETED"
	OutcomeAppointmentBooked Outcome = "APPOINTMENT_BOOKED"
	OutcomeCallbackScheduled Outcome = "CALLBACK_SCHEDULED"
)

func (o Outcome) Status() Status { return Status(o) }

// Signals are the upstream provider's classifier outputs for one call.
type Signals struct {
	LeadStatus   string `json:"lead_status,omitempty"`
	FinalState   string `json:"final_state,omitempty"`
	CallbackTime string `json:"callback_time,omitempty"`
}

var appointmentTags = map[string]struct{}{
	"appointmentbooked":    {},
	"appointmentscheduled": {},
	"appointmentset":       {},
	"booked":               {},
	"meetingbooked":        {},
	"meetingscheduled":     {},
	"demobooked":           {},
}

var callbackTags = map[string]struct{}{
	"callback":          {},
	"callbackrequested": {},
	"callmeback":        {},
}

func tagKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AppointmentBooked reports whether any tag says a meeting was booked during the call.
func (s Signals) AppointmentBooked() bool {
	for _, tag := range []string{s.LeadStatus, s.FinalState} {
		if _, ok := appointmentTags[tagKey(tag)]; ok {
			return true
		}
	}
	return false
}

// CallbackRequested is the provider's own callback flag: a callback time or a callback lead status.
func (s Signals) CallbackRequested() bool {
	if strings.TrimSpace(s.CallbackTime) != "" {
		return true
	}
	_, ok := callbackTags[tagKey(s.LeadStatus)]
	return ok
}

// Classify returns the outcome for a call. A booked appointment always wins over any
// callback signal; backstopCallback is the transcript detector's verdict.
func Classify(sig Signals, backstopCallback bool) Outcome {
	if sig.AppointmentBooked() {
		return OutcomeAppointmentBooked
	}
	if sig.CallbackRequested() || backstopCallback {
		return OutcomeCallbackScheduled
	}
	return OutcomeCompleted
}
