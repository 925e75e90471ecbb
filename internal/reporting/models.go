package reporting

import (
	"time"

	"callflow/internal/calls"
	"callflow/internal/meetings"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// OverviewRequest requests the stats overview for one tenant.
// Tenant isolation: TenantID is required. A zero Range means all time.
type OverviewRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

// CallBucket is one (status, callback_requested) group of call records.
type CallBucket struct {
	Status            calls.Status
	CallbackRequested bool
	Count             int
	DurationSeconds   int
}

// MeetingBucket is the number of meetings in one status.
type MeetingBucket struct {
	Status meetings.Status
	Count  int
}

type Overview struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	TotalCalls    int                  `json:"total_calls"`
	CallsByStatus map[calls.Status]int `json:"calls_by_status"`

	CallbacksRequested int `json:"callbacks_requested"`
	CallbacksCompleted int `json:"callbacks_completed"`
	CallbacksFailed    int `json:"callbacks_failed"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	Meetings MeetingCounts `json:"meetings"`
}

type MeetingCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
}
