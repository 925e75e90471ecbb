package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue is a durable Redis-backed job queue.
//
// Keys (per queue):
// - {prefix}:{name}:job:{id}   job JSON
// - {prefix}:{name}:scheduled  zset, score = run-at unix ms
// - {prefix}:{name}:active     zset, score = lease deadline unix ms
// - {prefix}:{name}:dead       list of dead-lettered job ids, newest first
//
// Delivery is at-least-once: a worker that dies mid-job loses its lease and the job is
// reclaimed by ReclaimExpired. Handlers must be idempotent.
type Queue struct {
	rdb   *redis.Client
	name  string
	opts  Options
	clock func() time.Time
}

type Options struct {
	Prefix             string
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	DeadLetterLimit    int64
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "callflow"
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = 24 * time.Hour
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 7 * 24 * time.Hour
	}
	if o.DeadLetterLimit <= 0 {
		o.DeadLetterLimit = 1000
	}
	return o
}

func New(rdb *redis.Client, name string, opts Options) *Queue {
	return &Queue{rdb: rdb, name: name, opts: opts.withDefaults(), clock: time.Now}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(parts ...string) string {
	return q.opts.Prefix + ":" + q.name + ":" + strings.Join(parts, ":")
}

func (q *Queue) jobKey(id string) string { return q.key("job", id) }

var enqueueScript = redis.NewScript(`
-- KEYS[1] = job key, KEYS[2] = scheduled zset
-- ARGV[1] = job json, ARGV[2] = run-at ms, ARGV[3] = job id
-- Returns 1 if stored, 0 if the id already exists.
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

var claimScript = redis.NewScript(`
-- KEYS[1] = scheduled zset, KEYS[2] = active zset
-- ARGV[1] = now ms, ARGV[2] = lease deadline ms
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', '1')
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

var reclaimScript = redis.NewScript(`
-- KEYS[1] = active zset, KEYS[2] = scheduled zset
-- ARGV[1] = now ms, ARGV[2] = batch size
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[1], id)
end
return #ids
`)

// Enqueue stores a job. When opts.JobID names an existing job (pending, active or still
// retained after finishing) nothing is written and Duplicate is set.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, opts EnqueueOptions) (EnqueueResult, error) {
	if strings.TrimSpace(kind) == "" {
		return EnqueueResult{}, errors.New("queue: kind is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: marshal payload: %w", err)
	}

	now := q.clock().UTC()
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	job := Job{
		ID:          id,
		Queue:       q.name,
		Kind:        kind,
		Payload:     raw,
		State:       StateScheduled,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.BackoffBase,
		RunAt:       now.Add(delay),
		CreatedAt:   now,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return EnqueueResult{}, err
	}

	stored, err := enqueueScript.Run(ctx, q.rdb, []string{q.jobKey(id), q.key("scheduled")}, data, job.RunAt.UnixMilli(), id).Int()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: enqueue %s: %w", id, err)
	}
	return EnqueueResult{JobID: id, Duplicate: stored == 0}, nil
}

// Get returns the job with the given id while it is pending or retained.
func (q *Queue) Get(ctx context.Context, id string) (Job, error) {
	data, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("queue: decode job %s: %w", id, err)
	}
	return job, nil
}

// claim leases the next due job. It returns nil when nothing is due.
func (q *Queue) claim(ctx context.Context, lease time.Duration) (*Job, error) {
	now := q.clock().UTC()
	id, err := claimScript.Run(ctx, q.rdb, []string{q.key("scheduled"), q.key("active")}, now.UnixMilli(), now.Add(lease).UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}

	job, err := q.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		// Job data expired under a stale reference.
		return nil, q.rdb.ZRem(ctx, q.key("active"), id).Err()
	}
	if err != nil {
		return nil, err
	}

	job.State = StateActive
	job.Attempt++
	job.StartedAt = &now
	if err := q.write(ctx, q.rdb, job, 0); err != nil {
		return nil, err
	}
	return &job, nil
}

// complete stores the handler result and retains the job for CompletedRetention.
func (q *Queue) complete(ctx context.Context, job *Job, result any) error {
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("queue: marshal result: %w", err)
		}
		job.Result = raw
	}
	now := q.clock().UTC()
	job.State = StateCompleted
	job.FinishedAt = &now
	job.LastError = ""

	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := q.write(ctx, p, *job, q.opts.CompletedRetention); err != nil {
			return err
		}
		p.ZRem(ctx, q.key("active"), job.ID)
		return nil
	})
	return err
}

// fail schedules a retry or dead-letters the job. It reports whether a retry was scheduled.
func (q *Queue) fail(ctx context.Context, job *Job, cause error) (bool, error) {
	now := q.clock().UTC()
	job.LastError = cause.Error()

	retry := !IsPermanent(cause) && job.Attempt < job.MaxAttempts
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.key("active"), job.ID)
		if retry {
			job.State = StateScheduled
			job.RunAt = now.Add(backoffDelay(job.BackoffBase, job.Attempt))
			if err := q.write(ctx, p, *job, 0); err != nil {
				return err
			}
			p.ZAdd(ctx, q.key("scheduled"), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
			return nil
		}
		job.State = StateFailed
		job.FinishedAt = &now
		if err := q.write(ctx, p, *job, q.opts.FailedRetention); err != nil {
			return err
		}
		p.LPush(ctx, q.key("dead"), job.ID)
		p.LTrim(ctx, q.key("dead"), 0, q.opts.DeadLetterLimit-1)
		return nil
	})
	return retry, err
}

func (q *Queue) write(ctx context.Context, c redis.Cmdable, job Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.Set(ctx, q.jobKey(job.ID), data, ttl).Err()
}

// ReclaimExpired returns jobs whose lease ran out to the scheduled set.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	n, err := reclaimScript.Run(ctx, q.rdb, []string{q.key("active"), q.key("scheduled")}, q.clock().UTC().UnixMilli(), 100).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: reclaim: %w", err)
	}
	return n, nil
}

// DeadLetters lists the most recently dead-lettered jobs that are still retained.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.rdb.LRange(ctx, q.key("dead"), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

type Counts struct {
	Queue     string `json:"queue"`
	Scheduled int64  `json:"scheduled"`
	Active    int64  `json:"active"`
	Dead      int64  `json:"dead"`
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	scheduled := pipe.ZCard(ctx, q.key("scheduled"))
	active := pipe.ZCard(ctx, q.key("active"))
	dead := pipe.LLen(ctx, q.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{Queue: q.name, Scheduled: scheduled.Val(), Active: active.Val(), Dead: dead.Val()}, nil
}
