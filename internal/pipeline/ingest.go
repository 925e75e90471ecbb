package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callflow/internal/agents"
	"callflow/internal/calls"
	"callflow/internal/queue"
	"callflow/internal/telephony"
	"callflow/pkg/logger"
)

// AgentResolver maps a provider agent to its tenant.
type AgentResolver interface {
	Resolve(ctx context.Context, agentID string) (agents.Agent, error)
}

// IngestStatus is the acknowledgement returned to the webhook caller.
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "accepted"
	IngestDuplicate IngestStatus = "duplicate"
	IngestIgnored   IngestStatus = "ignored"
)

type IngestResult struct {
	Status IngestStatus `json:"status"`
	CallID string       `json:"call_id,omitempty"`
	JobID  string       `json:"job_id,omitempty"`
}

// Ingestor accepts post-call webhooks. It stores a placeholder record and enqueues the
// analysis; it never waits for the analysis itself.
type Ingestor struct {
	recorder  *calls.Recorder
	agents    AgentResolver
	jobs      Enqueuer
	secret    string
	tolerance time.Duration
	clock     func() time.Time
}

// NewIngestor builds an Ingestor. Signature checks are skipped when secret is empty.
func NewIngestor(recorder *calls.Recorder, agents AgentResolver, jobs Enqueuer, secret string) *Ingestor {
	return &Ingestor{
		recorder:  recorder,
		agents:    agents,
		jobs:      jobs,
		secret:    secret,
		tolerance: telephony.DefaultTolerance,
		clock:     time.Now,
	}
}

// HandlePostCall processes one webhook delivery.
//
// Rules:
//   - Bad signatures are rejected before the body is parsed.
//   - Other event types are acknowledged as ignored.
//   - A redelivery of a conversation already past PROCESSING is acknowledged as duplicate.
//   - Payload and record failures after the tenant is known leave a WEBHOOK_ERROR record.
//   - An enqueue failure leaves the record in PROCESSING so the provider's retry re-enqueues it.
func (i *Ingestor) HandlePostCall(ctx context.Context, body []byte, signature string) (IngestResult, error) {
	if i.secret != "" {
		if err := telephony.VerifySignature(signature, body, i.secret, i.clock(), i.tolerance); err != nil {
			return IngestResult{}, err
		}
	}

	ev, parseErr := telephony.ParsePostCallWebhook(body)
	if errors.Is(parseErr, telephony.ErrIgnoredEvent) {
		return IngestResult{Status: IngestIgnored}, nil
	}
	if parseErr != nil && (ev.ConversationID == "" || ev.AgentID == "") {
		return IngestResult{}, parseErr
	}

	agent, err := i.agents.Resolve(ctx, ev.AgentID)
	if err != nil {
		return IngestResult{}, err
	}
	l := logger.From(ctx).With("conversation_id", ev.ConversationID, "tenant_id", agent.TenantID)

	p := calls.Placeholder{
		TenantID:            agent.TenantID,
		ConversationID:      ev.ConversationID,
		AgentID:             ev.AgentID,
		AgentPhoneNumberID:  agent.PhoneNumberID,
		CustomerPhone:       ev.CustomerPhone,
		AgentPhone:          ev.AgentPhone,
		Transcript:          ev.Transcript,
		CallDurationSeconds: ev.CallDurationSeconds,
		Signals: calls.Signals{
			LeadStatus:   ev.LeadStatus,
			FinalState:   ev.FinalState,
			CallbackTime: ev.CallbackTime,
		},
	}
	if parseErr != nil {
		i.recordWebhookError(ctx, p, parseErr)
		return IngestResult{}, parseErr
	}

	rec, created, err := i.recorder.CreatePlaceholder(ctx, p)
	if err != nil {
		i.recordWebhookError(ctx, p, err)
		return IngestResult{}, fmt.Errorf("pipeline: create call record: %w", err)
	}
	if !created && rec.Status != calls.StatusProcessing {
		l.Info("webhook redelivered for settled call", "call_id", rec.ID, "status", rec.Status)
		return IngestResult{Status: IngestDuplicate, CallID: rec.ID}, nil
	}

	res, err := i.jobs.Enqueue(ctx, KindAnalyzeTranscript, AnalyzeJob{
		CallID:       rec.ID,
		TenantID:     rec.TenantID,
		CallbackTime: ev.CallbackTime,
	}, queue.EnqueueOptions{
		JobID:       AnalyzeJobID(rec.ID),
		MaxAttempts: AnalyzeMaxAttempts,
		BackoffBase: AnalyzeBackoffBase,
	})
	if err != nil {
		l.Error("analysis enqueue failed", "call_id", rec.ID, "err", err)
		return IngestResult{}, fmt.Errorf("pipeline: enqueue analysis: %w", err)
	}

	status := IngestAccepted
	if !created {
		status = IngestDuplicate
	}
	l.Info("post-call webhook accepted", "call_id", rec.ID, "job_id", res.JobID, "duplicate_job", res.Duplicate)
	return IngestResult{Status: status, CallID: rec.ID, JobID: res.JobID}, nil
}

func (i *Ingestor) recordWebhookError(ctx context.Context, p calls.Placeholder, cause error) {
	if _, err := i.recorder.RecordWebhookError(ctx, p, cause); err != nil {
		logger.From(ctx).Warn("webhook error record not saved", "conversation_id", p.ConversationID, "err", err)
	}
}
