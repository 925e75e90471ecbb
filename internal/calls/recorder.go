package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"callflow/pkg/logger"

	"github.com/google/uuid"
)

// TransitionLogger receives every persisted status change. Implementations are best-effort.
type TransitionLogger interface {
	LogCallTransition(ctx context.Context, tenantID, callID, from, to, message string) error
}

// Recorder owns the call-log lifecycle. Every status write goes through it so the
// transition table and the callback-schedule invariant are enforced in one place.
type Recorder struct {
	repo  Repository
	audit TransitionLogger
	clock func() time.Time
}

func NewRecorder(repo Repository, audit TransitionLogger) *Recorder {
	return &Recorder{repo: repo, audit: audit, clock: time.Now}
}

// Placeholder carries what is known about a call when its webhook arrives.
type Placeholder struct {
	TenantID            string
	ConversationID      string
	AgentID             string
	AgentPhoneNumberID  string
	CustomerPhone       string
	AgentPhone          string
	Transcript          json.RawMessage
	Signals             Signals
	CallDurationSeconds int
}

// Finalization is the analysed result written onto a PROCESSING record.
type Finalization struct {
	Outcome        Outcome
	Summary        string
	CallbackAt     time.Time
	CallbackReason string
}

func (r *Recorder) Get(ctx context.Context, id string) (Record, error) {
	return r.repo.Get(ctx, id)
}

// CreatePlaceholder inserts a PROCESSING record. A redelivered webhook returns the
// existing record with created=false.
func (r *Recorder) CreatePlaceholder(ctx context.Context, p Placeholder) (rec Record, created bool, err error) {
	if strings.TrimSpace(p.TenantID) == "" || strings.TrimSpace(p.ConversationID) == "" {
		return Record{}, false, fmt.Errorf("%w: tenant and conversation id are required", ErrInvalidArgument)
	}
	rec = newRecord(p, r.clock().UTC())
	rec.Status = StatusProcessing
	rec.Summary = PlaceholderSummary

	if err := r.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			existing, getErr := r.repo.GetByConversation(ctx, p.TenantID, p.ConversationID)
			if getErr != nil {
				return Record{}, false, getErr
			}
			return existing, false, nil
		}
		return Record{}, false, err
	}
	r.logTransition(ctx, rec, "", "call received")
	return rec, true, nil
}

// Finalize moves a PROCESSING record to the outcome's status. Finalizing an already
// finalized record with the same outcome returns it unchanged.
func (r *Recorder) Finalize(ctx context.Context, id string, f Finalization) (Record, error) {
	switch f.Outcome {
	case OutcomeCompleted, OutcomeAppointmentBooked, OutcomeCallbackScheduled:
	default:
		return Record{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidArgument, f.Outcome)
	}
	if f.Outcome == OutcomeCallbackScheduled && f.CallbackAt.IsZero() {
		return Record{}, fmt.Errorf("%w: callback outcome requires a callback time", ErrInvalidArgument)
	}

	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusProcessing {
		if rec.Status == f.Outcome.Status() {
			return rec, nil
		}
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, f.Outcome)
	}

	from := rec.Status
	rec.Status = f.Outcome.Status()
	rec.Summary = f.Summary
	rec.CallbackRequested = f.Outcome == OutcomeCallbackScheduled
	rec.CallbackScheduledAt = nil
	rec.CallbackReason = nil
	if rec.CallbackRequested {
		at := f.CallbackAt.UTC()
		rec.CallbackScheduledAt = &at
		if reason := strings.TrimSpace(f.CallbackReason); reason != "" {
			rec.CallbackReason = &reason
		}
	}
	return rec, r.save(ctx, rec, from, "call analysed")
}

// MarkFailed records a failed analysis. Only PROCESSING records can fail.
func (r *Recorder) MarkFailed(ctx context.Context, id string, cause error) (Record, error) {
	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status == StatusFailed {
		return rec, nil
	}
	if rec.Status != StatusProcessing {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusFailed)
	}
	from := rec.Status
	rec.Status = StatusFailed
	rec.Summary = "Error: " + errorText(cause)
	return rec, r.save(ctx, rec, from, rec.Summary)
}

// RecordWebhookError marks the conversation's record WEBHOOK_ERROR, creating it when
// ingestion failed before the placeholder existed.
func (r *Recorder) RecordWebhookError(ctx context.Context, p Placeholder, cause error) (Record, error) {
	if strings.TrimSpace(p.TenantID) == "" || strings.TrimSpace(p.ConversationID) == "" {
		return Record{}, fmt.Errorf("%w: tenant and conversation id are required", ErrInvalidArgument)
	}
	summary := "Webhook error: " + errorText(cause)

	existing, err := r.repo.GetByConversation(ctx, p.TenantID, p.ConversationID)
	switch {
	case err == nil:
		if existing.Status != StatusProcessing {
			return existing, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, existing.Status, StatusWebhookError)
		}
		from := existing.Status
		existing.Status = StatusWebhookError
		existing.Summary = summary
		return existing, r.save(ctx, existing, from, summary)
	case !errors.Is(err, ErrNotFound):
		return Record{}, err
	}

	rec := newRecord(p, r.clock().UTC())
	rec.Status = StatusWebhookError
	rec.Summary = summary
	if err := r.repo.Create(ctx, rec); err != nil {
		return Record{}, err
	}
	r.logTransition(ctx, rec, "", summary)
	return rec, nil
}

// Reschedule moves a pending callback to a new instant.
func (r *Recorder) Reschedule(ctx context.Context, id string, at time.Time) (Record, error) {
	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !rec.CallbackRequested || rec.Status != StatusCallbackScheduled {
		return rec, fmt.Errorf("%w: cannot reschedule record in %s", ErrInvalidTransition, rec.Status)
	}
	at = at.UTC()
	rec.CallbackScheduledAt = &at
	return rec, r.save(ctx, rec, rec.Status, "callback rescheduled to "+at.Format(time.RFC3339))
}

// BeginCallback counts an attempt and marks the callback in progress.
func (r *Recorder) BeginCallback(ctx context.Context, id string) (Record, error) {
	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !rec.Status.CanTransitionTo(StatusCallbackInProgress) || rec.Status == StatusCallbackInProgress {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusCallbackInProgress)
	}
	from := rec.Status
	rec.CallbackAttempts++
	rec.Status = StatusCallbackInProgress
	return rec, r.save(ctx, rec, from, fmt.Sprintf("callback attempt %d started", rec.CallbackAttempts))
}

func (r *Recorder) CompleteCallback(ctx context.Context, id string) (Record, error) {
	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusCallbackInProgress {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusCallbackCompleted)
	}
	from := rec.Status
	now := r.clock().UTC()
	rec.Status = StatusCallbackCompleted
	rec.CallbackCompletedAt = &now
	return rec, r.save(ctx, rec, from, "callback completed")
}

// FailCallback marks the callback failed. countAttempt is set when the failure happened
// before BeginCallback counted the attempt.
func (r *Recorder) FailCallback(ctx context.Context, id, reason string, countAttempt bool) (Record, error) {
	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !rec.Status.CanTransitionTo(StatusCallbackFailed) {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusCallbackFailed)
	}
	from := rec.Status
	if countAttempt {
		rec.CallbackAttempts++
	}
	rec.Status = StatusCallbackFailed
	return rec, r.save(ctx, rec, from, "callback failed: "+reason)
}

func (r *Recorder) save(ctx context.Context, rec Record, from Status, message string) error {
	if !from.CanTransitionTo(rec.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, rec.Status)
	}
	if err := rec.CheckInvariants(); err != nil {
		return err
	}
	rec.UpdatedAt = r.clock().UTC()
	if err := r.repo.Update(ctx, rec); err != nil {
		return err
	}
	r.logTransition(ctx, rec, from, message)
	return nil
}

func (r *Recorder) logTransition(ctx context.Context, rec Record, from Status, message string) {
	logger.From(ctx).Info("call status changed",
		"call_id", rec.ID,
		"conversation_id", rec.ConversationID,
		"from", string(from),
		"to", string(rec.Status),
	)
	if r.audit == nil {
		return
	}
	if err := r.audit.LogCallTransition(ctx, rec.TenantID, rec.ID, string(from), string(rec.Status), message); err != nil {
		logger.From(ctx).Warn("audit write failed", "call_id", rec.ID, "err", err)
	}
}

func newRecord(p Placeholder, now time.Time) Record {
	return Record{
		ID:                  uuid.NewString(),
		TenantID:            p.TenantID,
		ConversationID:      p.ConversationID,
		AgentID:             p.AgentID,
		AgentPhoneNumberID:  p.AgentPhoneNumberID,
		CustomerPhone:       p.CustomerPhone,
		AgentPhone:          p.AgentPhone,
		Transcript:          p.Transcript,
		LeadStatus:          p.Signals.LeadStatus,
		FinalState:          p.Signals.FinalState,
		CallDurationSeconds: p.CallDurationSeconds,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
