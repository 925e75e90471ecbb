package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callflow/pkg/logger"
	"callflow/pkg/utils"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// HandlerFunc processes one job. The returned value is stored as the job result.
// Return Permanent(err) to skip remaining retries.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

type WorkerOptions struct {
	// Concurrency is the number of jobs processed in parallel by this process.
	Concurrency int
	// RatePerSecond caps job starts per second (0 = unlimited).
	RatePerSecond float64
	// GlobalCap caps in-flight jobs for the queue across all processes (0 = off).
	GlobalCap int

	Lease        time.Duration
	JobTimeout   time.Duration
	PollInterval time.Duration

	Metrics *Metrics
	Logger  *slog.Logger
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Lease <= 0 {
		o.Lease = 5 * time.Minute
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 2 * time.Minute
	}
	if o.Lease <= o.JobTimeout {
		o.Lease = o.JobTimeout + time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Worker pulls jobs from one queue and dispatches them by kind.
type Worker struct {
	q        *Queue
	opts     WorkerOptions
	limiter  *rate.Limiter
	handlers map[string]HandlerFunc
}

func NewWorker(q *Queue, opts WorkerOptions) *Worker {
	opts = opts.withDefaults()
	limit := rate.Inf
	burst := opts.Concurrency
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = max(1, int(opts.RatePerSecond))
	}
	return &Worker{
		q:        q,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		handlers: map[string]HandlerFunc{},
	}
}

// Handle registers h for kind. It must be called before Run.
func (w *Worker) Handle(kind string, h HandlerFunc) {
	w.handlers[kind] = h
}

// Run processes jobs until ctx is cancelled. In-flight jobs finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error { return w.loop(ctx) })
	}
	g.Go(func() error { return w.reap(ctx) })

	w.opts.Logger.Info("worker started", "queue", w.q.Name(), "concurrency", w.opts.Concurrency, "rate", w.opts.RatePerSecond)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return ctxErr(ctx, err)
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.opts.Logger.Error("worker poll failed", "queue", w.q.Name(), "err", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.PollInterval):
		}
	}
}

func (w *Worker) reap(ctx context.Context) error {
	t := time.NewTicker(max(time.Second, w.opts.Lease/4))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := w.q.ReclaimExpired(ctx)
			if err != nil {
				w.opts.Logger.Error("lease reclaim failed", "queue", w.q.Name(), "err", err)
				continue
			}
			if n > 0 {
				w.opts.Logger.Warn("reclaimed expired leases", "queue", w.q.Name(), "count", n)
			}
		}
	}
}

// ProcessNext claims and runs a single due job. It reports whether a job was processed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	if w.opts.GlobalCap > 0 {
		capKey := w.q.key("inflight")
		ok, err := utils.AcquireConcurrencyCap(ctx, w.q.rdb, capKey, w.opts.GlobalCap, w.opts.Lease)
		if err != nil || !ok {
			return false, err
		}
		defer func() {
			if err := utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), w.q.rdb, capKey); err != nil {
				w.opts.Logger.Warn("release concurrency cap failed", "queue", w.q.Name(), "err", err)
			}
		}()
	}

	job, err := w.q.claim(ctx, w.opts.Lease)
	if err != nil || job == nil {
		return false, err
	}
	return true, w.execute(ctx, job)
}

func (w *Worker) execute(ctx context.Context, job *Job) error {
	// State writes must land even when shutdown cancels ctx mid-job.
	persistCtx := context.WithoutCancel(ctx)

	log := w.opts.Logger.With("queue", w.q.Name(), "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "max_attempts", job.MaxAttempts)
	jobCtx := logger.With(ctx, log)

	start := time.Now()
	result, err := w.invoke(jobCtx, job)
	elapsed := time.Since(start)

	if err == nil {
		if cerr := w.q.complete(persistCtx, job, result); cerr != nil {
			return fmt.Errorf("complete %s: %w", job.ID, cerr)
		}
		w.opts.Metrics.observe(w.q.Name(), job.Kind, outcomeCompleted, elapsed)
		log.Info("job completed", "duration_ms", elapsed.Milliseconds())
		return nil
	}

	retried, ferr := w.q.fail(persistCtx, job, err)
	if ferr != nil {
		return fmt.Errorf("fail %s: %w", job.ID, ferr)
	}
	if retried {
		w.opts.Metrics.observe(w.q.Name(), job.Kind, outcomeRetried, elapsed)
		log.Warn("job failed, retry scheduled", "err", err, "retry_at", job.RunAt)
		return nil
	}
	w.opts.Metrics.observe(w.q.Name(), job.Kind, outcomeFailed, elapsed)
	log.Error("job failed permanently", "err", err, "permanent", IsPermanent(err))
	return nil
}

func (w *Worker) invoke(ctx context.Context, job *Job) (result any, err error) {
	h, ok := w.handlers[job.Kind]
	if !ok {
		return nil, Permanent(fmt.Errorf("%w for kind %q", ErrNoHandler, job.Kind))
	}
	if job.Attempt > job.MaxAttempts {
		// Lease expired on the final attempt; the job was reclaimed with no attempts left.
		return nil, Permanent(errors.New("attempts exhausted after lease expiry"))
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
