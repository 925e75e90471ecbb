package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateScheduled State = "scheduled"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of work. It is stored as JSON under its own key and referenced by id
// from the scheduled and active sets.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	State   State           `json:"state"`

	// Attempt counts started executions, including the one in progress.
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base"`

	RunAt      time.Time       `json:"run_at"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return nil
}

// FinalAttempt reports whether a failure of the current execution exhausts the retry policy.
func (j *Job) FinalAttempt() bool { return j.Attempt >= j.MaxAttempts }

// EnqueueOptions controls identity, timing and retry policy of a new job.
type EnqueueOptions struct {
	// JobID deduplicates: enqueueing an id that already exists is a no-op.
	JobID       string
	Delay       time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

type EnqueueResult struct {
	JobID     string
	Duplicate bool
}

const maxBackoff = time.Hour

// backoffDelay is base * 2^(attempt-1), capped. attempt is 1-based.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if attempt > 20 {
		return maxBackoff
	}
	delay := base << (attempt - 1)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the worker moves the job straight to the dead-letter list.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

var (
	ErrJobNotFound = errors.New("queue: job not found")
	ErrNoHandler   = errors.New("queue: no handler registered")
)
