// Package pipeline wires call analysis, callbacks and bookings onto the job queues.
//
// Flow: webhook -> placeholder record -> analyze-transcript -> finalize -> execute-callback.
// Bookings: intake -> confirm-booking.
package pipeline

import (
	"context"
	"time"

	"callflow/internal/queue"
)

const (
	QueueCallProcessing    = "call-processing"
	QueueMeetingProcessing = "meeting-processing"

	KindAnalyzeTranscript = "analyze-transcript"

	AnalyzeMaxAttempts = 3
	AnalyzeBackoffBase = 5 * time.Second
)

// AnalyzeJobID keys the analysis job on the call record so a redelivered webhook does
// not analyse twice.
func AnalyzeJobID(callID string) string { return "analyze-" + callID }

// AnalyzeJob is the analyze-transcript payload. CallbackTime carries the provider's
// collected callback time, which is not stored on the record.
type AnalyzeJob struct {
	CallID       string `json:"call_id"`
	TenantID     string `json:"tenant_id"`
	CallbackTime string `json:"callback_time,omitempty"`
}

// Enqueuer is the job pipeline as seen by producers.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts queue.EnqueueOptions) (queue.EnqueueResult, error)
}
