package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callflow/internal/analysis"
	"callflow/internal/calls"
	"callflow/internal/memory"
	"callflow/internal/queue"
	"callflow/internal/timeexpr"
	"callflow/pkg/logger"
)

// DefaultCallbackDelay is used when a callback is warranted but no time resolves.
const DefaultCallbackDelay = 2 * time.Hour

const noTranscriptSummary = "No transcript available."

// TranscriptAnalyzer is the LLM-backed analysis capability.
type TranscriptAnalyzer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	DetectCallbackIntent(ctx context.Context, transcript string, ref time.Time) (analysis.Intent, error)
}

type TimeResolver interface {
	Resolve(ctx context.Context, expression string, ref time.Time) (time.Time, error)
}

type MemoryWriter interface {
	Upsert(ctx context.Context, conversationID string, vector []float32, md memory.Metadata) error
}

// CallbackScheduler enqueues the follow-up call for a finalized record.
type CallbackScheduler interface {
	ScheduleIfNeeded(ctx context.Context, rec calls.Record) error
}

// AnalysisResult is stored as the analyze-transcript job result.
type AnalysisResult struct {
	CallID              string        `json:"call_id"`
	Status              calls.Status  `json:"status"`
	Outcome             calls.Outcome `json:"outcome,omitempty"`
	CallbackScheduledAt *time.Time    `json:"callback_scheduled_at,omitempty"`
	Redelivered         bool          `json:"redelivered,omitempty"`
}

// CallAnalyzer runs the analysis job for one call record.
type CallAnalyzer struct {
	recorder  *calls.Recorder
	analyzer  TranscriptAnalyzer
	resolver  TimeResolver
	memory    MemoryWriter
	callbacks CallbackScheduler
	clock     func() time.Time
}

func NewCallAnalyzer(recorder *calls.Recorder, analyzer TranscriptAnalyzer, resolver TimeResolver, mem MemoryWriter, callbacks CallbackScheduler) *CallAnalyzer {
	return &CallAnalyzer{
		recorder:  recorder,
		analyzer:  analyzer,
		resolver:  resolver,
		memory:    mem,
		callbacks: callbacks,
		clock:     time.Now,
	}
}

// Process summarizes, classifies and finalizes a PROCESSING record, then schedules its
// callback when one is warranted.
//
// Rules:
//   - Summary failures are returned (retryable). Memory upsert and backstop detection
//     failures are logged and ignored.
//   - A booked appointment suppresses any callback.
//   - An unresolvable callback time becomes now+DefaultCallbackDelay.
//   - A record already finalized is not analysed again; a CALLBACK_SCHEDULED one is
//     re-offered to the scheduler, whose job id dedupes.
func (a *CallAnalyzer) Process(ctx context.Context, job AnalyzeJob) (AnalysisResult, error) {
	rec, err := a.recorder.Get(ctx, job.CallID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return AnalysisResult{}, queue.Permanent(err)
		}
		return AnalysisResult{}, err
	}
	l := logger.From(ctx).With("call_id", rec.ID, "conversation_id", rec.ConversationID)

	if rec.Status != calls.StatusProcessing {
		if rec.Status == calls.StatusCallbackScheduled {
			if err := a.callbacks.ScheduleIfNeeded(ctx, rec); err != nil {
				return AnalysisResult{}, err
			}
		}
		l.Info("call already analysed", "status", rec.Status)
		return AnalysisResult{CallID: rec.ID, Status: rec.Status, CallbackScheduledAt: rec.CallbackScheduledAt, Redelivered: true}, nil
	}

	transcript := analysis.NormalizeTranscript(rec.Transcript)
	summary := noTranscriptSummary
	if strings.TrimSpace(transcript) != "" {
		summary, err = a.analyzer.Summarize(ctx, transcript)
		if err != nil {
			return AnalysisResult{}, err
		}
		a.remember(ctx, rec, summary)
	}

	sig := calls.Signals{LeadStatus: rec.LeadStatus, FinalState: rec.FinalState, CallbackTime: job.CallbackTime}
	var intent analysis.Intent
	if !sig.AppointmentBooked() && strings.TrimSpace(transcript) != "" {
		intent, err = a.analyzer.DetectCallbackIntent(ctx, transcript, a.clock())
		if err != nil {
			l.Warn("callback detection failed", "err", err)
			intent = analysis.Intent{}
		}
	}

	outcome := calls.Classify(sig, intent.Needed)
	fin := calls.Finalization{Outcome: outcome, Summary: summary}
	if outcome == calls.OutcomeCallbackScheduled {
		fin.CallbackAt = a.callbackTime(ctx, sig.CallbackTime, intent.RawTimeExpression)
		fin.CallbackReason = intent.Reason
		if fin.CallbackReason == "" {
			fin.CallbackReason = "customer requested a callback"
		}
	}

	rec, err = a.recorder.Finalize(ctx, rec.ID, fin)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("pipeline: finalize call: %w", err)
	}
	if err := a.callbacks.ScheduleIfNeeded(ctx, rec); err != nil {
		return AnalysisResult{}, err
	}

	l.Info("call analysed", "outcome", outcome)
	return AnalysisResult{CallID: rec.ID, Status: rec.Status, Outcome: outcome, CallbackScheduledAt: rec.CallbackScheduledAt}, nil
}

// callbackTime resolves the provider's time first, then the detector's quote.
func (a *CallAnalyzer) callbackTime(ctx context.Context, expressions ...string) time.Time {
	ref := a.clock().UTC()
	for _, expr := range expressions {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		at, err := a.resolver.Resolve(ctx, expr, ref)
		if err == nil {
			return at
		}
		if !errors.Is(err, timeexpr.ErrNoExpression) {
			logger.From(ctx).Info("callback time not resolved", "expression", expr, "err", err)
		}
	}
	return ref.Add(DefaultCallbackDelay)
}

func (a *CallAnalyzer) remember(ctx context.Context, rec calls.Record, summary string) {
	if a.memory == nil {
		return
	}
	vec, err := a.analyzer.Embed(ctx, summary)
	if err == nil {
		err = a.memory.Upsert(ctx, rec.ConversationID, vec, memory.Metadata{
			TenantID:  rec.TenantID,
			Summary:   summary,
			AgentID:   rec.AgentID,
			Phone:     rec.CustomerPhone,
			Timestamp: a.clock().UTC(),
		})
	}
	if err != nil {
		logger.From(ctx).Warn("conversation memory not stored", "call_id", rec.ID, "err", err)
	}
}

// MarkFailed moves the record to FAILED after the final attempt or a permanent error.
func (a *CallAnalyzer) MarkFailed(ctx context.Context, callID string, cause error) {
	if _, err := a.recorder.MarkFailed(ctx, callID, cause); err != nil {
		logger.From(ctx).Warn("call not marked failed", "call_id", callID, "err", err)
	}
}
