// Package callback schedules and places follow-up calls for call records that asked for one.
package callback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callflow/internal/calls"
	"callflow/internal/memory"
	"callflow/internal/queue"
	"callflow/internal/telephony"
	"callflow/pkg/logger"
)

const (
	KindExecuteCallback = "execute-callback"

	MaxAttempts = 3
	BackoffBase = 60 * time.Second

	// DefaultDelay replaces a scheduled time that is already in the past.
	DefaultDelay = 2 * time.Hour

	contextSize = 5
)

// JobID is deterministic so that scheduling the same record twice enqueues one job.
func JobID(callID string) string { return "callback-" + callID }

// Job is the execute-callback payload.
type Job struct {
	CallID   string `json:"call_id"`
	TenantID string `json:"tenant_id"`
}

type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts queue.EnqueueOptions) (queue.EnqueueResult, error)
}

// MemoryReader returns prior conversations for a customer. It never fails.
type MemoryReader interface {
	QueryByTenantAndPhone(ctx context.Context, phone, tenantID string, topK int) []memory.Match
}

// NumberResolver picks the provider phone-number reference for an agent.
type NumberResolver interface {
	PhoneNumberID(ctx context.Context, agentID, agentPhone string) (string, error)
}

// Outcome describes what one execution did.
type Outcome struct {
	CallID         string       `json:"call_id"`
	Status         calls.Status `json:"status"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Attempts       int          `json:"attempts"`
	// Aborted is set when the record no longer wants a callback.
	Aborted bool   `json:"aborted,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type Scheduler struct {
	recorder *calls.Recorder
	jobs     Enqueuer
	memory   MemoryReader
	numbers  NumberResolver
	caller   telephony.OutboundCaller
	clock    func() time.Time
}

func NewScheduler(recorder *calls.Recorder, jobs Enqueuer, mem MemoryReader, numbers NumberResolver, caller telephony.OutboundCaller) *Scheduler {
	return &Scheduler{
		recorder: recorder,
		jobs:     jobs,
		memory:   mem,
		numbers:  numbers,
		caller:   caller,
		clock:    time.Now,
	}
}

// ScheduleIfNeeded enqueues the callback job for a CALLBACK_SCHEDULED record. It returns
// once the job is stored; it never waits for the call.
//
// A scheduled time at or before now is moved to now+DefaultDelay. The new time is
// persisted only when the job is newly stored, so the record keeps matching the job.
func (s *Scheduler) ScheduleIfNeeded(ctx context.Context, rec calls.Record) error {
	if !rec.CallbackRequested || rec.Status != calls.StatusCallbackScheduled || rec.CallbackScheduledAt == nil {
		return nil
	}
	l := logger.From(ctx).With("call_id", rec.ID)

	now := s.clock().UTC()
	at := rec.CallbackScheduledAt.UTC()
	delay := at.Sub(now)
	pastDue := delay <= 0
	if pastDue {
		at = now.Add(DefaultDelay)
		delay = DefaultDelay
	}

	res, err := s.jobs.Enqueue(ctx, KindExecuteCallback, Job{CallID: rec.ID, TenantID: rec.TenantID}, queue.EnqueueOptions{
		JobID:       JobID(rec.ID),
		Delay:       delay,
		MaxAttempts: MaxAttempts,
		BackoffBase: BackoffBase,
	})
	if err != nil {
		return fmt.Errorf("callback: enqueue: %w", err)
	}
	if res.Duplicate {
		l.Info("callback already scheduled", "job_id", res.JobID)
		return nil
	}
	if pastDue {
		if _, err := s.recorder.Reschedule(ctx, rec.ID, at); err != nil {
			return fmt.Errorf("callback: reschedule past-due callback: %w", err)
		}
		l.Warn("callback time already passed, rescheduled", "scheduled_at", at)
	}
	l.Info("callback scheduled", "job_id", res.JobID, "scheduled_at", at, "delay", delay.String())
	return nil
}

// Execute places the callback for a record.
//
// Rules (checked in order):
//   - Record no longer requesting a callback, or already completed: abort, nothing written.
//   - Record left IN_PROGRESS by an interrupted attempt: CALLBACK_FAILED, permanent.
//   - No customer phone, or a malformed one: CALLBACK_FAILED, no retry.
//   - Otherwise the attempt is counted and the call placed. A failed call returns the
//     error so the job is retried.
func (s *Scheduler) Execute(ctx context.Context, callID string) (Outcome, error) {
	l := logger.From(ctx).With("call_id", callID)

	rec, err := s.recorder.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return Outcome{CallID: callID}, queue.Permanent(err)
		}
		return Outcome{CallID: callID}, err
	}
	out := Outcome{CallID: rec.ID, Status: rec.Status, Attempts: rec.CallbackAttempts}

	switch {
	case !rec.CallbackRequested:
		out.Aborted, out.Reason = true, "callback no longer requested"
		l.Info("callback aborted", "reason", out.Reason, "status", rec.Status)
		return out, nil
	case rec.Status == calls.StatusCallbackCompleted:
		out.Aborted, out.Reason = true, "callback already completed"
		return out, nil
	case rec.Status == calls.StatusCallbackInProgress:
		failed, ferr := s.recorder.FailCallback(ctx, rec.ID, "previous attempt interrupted", false)
		if ferr != nil {
			return out, ferr
		}
		return outcomeOf(failed, "previous attempt interrupted"), queue.Permanent(errors.New("callback: previous attempt interrupted"))
	case rec.Status != calls.StatusCallbackScheduled && rec.Status != calls.StatusCallbackFailed:
		out.Aborted, out.Reason = true, "record not awaiting a callback"
		return out, nil
	}

	if rec.CustomerPhone == "" {
		return s.hardStop(ctx, rec, "no phone number on record")
	}
	if !telephony.ValidatePhoneNumber(rec.CustomerPhone) {
		return s.hardStop(ctx, rec, "invalid phone number format")
	}

	rec, err = s.recorder.BeginCallback(ctx, rec.ID)
	if err != nil {
		return out, err
	}

	var prior []telephony.PriorConversation
	if s.memory != nil {
		for _, m := range s.memory.QueryByTenantAndPhone(ctx, rec.CustomerPhone, rec.TenantID, contextSize) {
			prior = append(prior, telephony.PriorConversation{
				ConversationID: m.ConversationID,
				Summary:        m.Summary,
				Timestamp:      m.Timestamp,
			})
		}
	}

	fromID := rec.AgentPhoneNumberID
	if fromID == "" {
		fromID, err = s.numbers.PhoneNumberID(ctx, rec.AgentID, rec.AgentPhone)
		if err != nil {
			return s.attemptFailed(ctx, rec, fmt.Errorf("resolve caller number: %w", err))
		}
	}

	res, err := s.caller.PlaceOutboundCall(ctx, telephony.OutboundCallRequest{
		AgentID:      rec.AgentID,
		FromNumberID: fromID,
		ToNumber:     telephony.FormatPhoneNumber(rec.CustomerPhone),
		Context:      prior,
	})
	if err != nil {
		return s.attemptFailed(ctx, rec, err)
	}

	done, err := s.recorder.CompleteCallback(ctx, rec.ID)
	if err != nil {
		return out, err
	}
	l.Info("callback placed", "conversation_id", res.ConversationID, "context_items", len(prior))
	out = outcomeOf(done, "")
	out.ConversationID = res.ConversationID
	return out, nil
}

func (s *Scheduler) hardStop(ctx context.Context, rec calls.Record, reason string) (Outcome, error) {
	logger.From(ctx).Warn("callback cannot be placed", "call_id", rec.ID, "reason", reason)
	failed, err := s.recorder.FailCallback(ctx, rec.ID, reason, false)
	if err != nil {
		return Outcome{CallID: rec.ID, Status: rec.Status}, err
	}
	return outcomeOf(failed, reason), nil
}

func (s *Scheduler) attemptFailed(ctx context.Context, rec calls.Record, cause error) (Outcome, error) {
	logger.From(ctx).Error("callback attempt failed", "call_id", rec.ID, "attempt", rec.CallbackAttempts, "err", cause)
	failed, err := s.recorder.FailCallback(ctx, rec.ID, cause.Error(), false)
	if err != nil {
		return Outcome{CallID: rec.ID, Status: rec.Status}, errors.Join(cause, err)
	}
	return outcomeOf(failed, cause.Error()), cause
}

func outcomeOf(rec calls.Record, reason string) Outcome {
	return Outcome{
		CallID:   rec.ID,
		Status:   rec.Status,
		Attempts: rec.CallbackAttempts,
		Reason:   reason,
	}
}
