package pipeline

import (
	"context"
	"errors"

	"callflow/internal/callback"
	"callflow/internal/meetings"
	"callflow/internal/queue"
)

// Handlers adapts the domain components to queue handlers.
type Handlers struct {
	Analyzer  *CallAnalyzer
	Callbacks *callback.Scheduler
	Bookings  *meetings.Workflow
}

// RegisterCallProcessing binds analyze-transcript and execute-callback.
func (h *Handlers) RegisterCallProcessing(w *queue.Worker) {
	w.Handle(KindAnalyzeTranscript, h.analyze)
	w.Handle(callback.KindExecuteCallback, h.executeCallback)
}

// RegisterMeetingProcessing binds confirm-booking.
func (h *Handlers) RegisterMeetingProcessing(w *queue.Worker) {
	w.Handle(meetings.KindConfirmBooking, h.confirmBooking)
}

func (h *Handlers) analyze(ctx context.Context, job *queue.Job) (any, error) {
	var p AnalyzeJob
	if err := job.Decode(&p); err != nil {
		return nil, err
	}
	res, err := h.Analyzer.Process(ctx, p)
	if err != nil && (queue.IsPermanent(err) || job.FinalAttempt()) {
		h.Analyzer.MarkFailed(ctx, p.CallID, err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (h *Handlers) executeCallback(ctx context.Context, job *queue.Job) (any, error) {
	var p callback.Job
	if err := job.Decode(&p); err != nil {
		return nil, err
	}
	out, err := h.Callbacks.Execute(ctx, p.CallID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handlers) confirmBooking(ctx context.Context, job *queue.Job) (any, error) {
	var p meetings.BookingJob
	if err := job.Decode(&p); err != nil {
		return nil, err
	}
	res, err := h.Bookings.Confirm(ctx, p.MeetingID, job.Attempt, job.MaxAttempts)
	if errors.Is(err, meetings.ErrNotFound) {
		return nil, queue.Permanent(err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
