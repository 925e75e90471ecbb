package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"callflow/internal/calls"
	"callflow/internal/meetings"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces tenant isolation on reads.
type MemoryRepo struct {
	mu sync.Mutex

	Calls    []calls.Record
	Meetings []meetings.Meeting
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func inRange(t, from, to time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func (r *MemoryRepo) CallBuckets(_ context.Context, tenantID string, from, to time.Time) ([]CallBucket, error) {
	if tenantID == "" {
		return nil, errors.New("tenant_id required")
	}
	type key struct {
		status    calls.Status
		requested bool
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := map[key]int{}
	out := []CallBucket{}
	for _, c := range r.Calls {
		if c.TenantID != tenantID || !inRange(c.CreatedAt, from, to) {
			continue
		}
		k := key{c.Status, c.CallbackRequested}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, CallBucket{Status: c.Status, CallbackRequested: c.CallbackRequested})
		}
		out[i].Count++
		out[i].DurationSeconds += c.CallDurationSeconds
	}
	return out, nil
}

func (r *MemoryRepo) MeetingBuckets(_ context.Context, tenantID string, from, to time.Time) ([]MeetingBucket, error) {
	if tenantID == "" {
		return nil, errors.New("tenant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[meetings.Status]int{}
	order := []meetings.Status{}
	for _, m := range r.Meetings {
		if m.TenantID != tenantID || !inRange(m.CreatedAt, from, to) {
			continue
		}
		if _, ok := counts[m.Status]; !ok {
			order = append(order, m.Status)
		}
		counts[m.Status]++
	}
	out := make([]MeetingBucket, 0, len(order))
	for _, s := range order {
		out = append(out, MeetingBucket{Status: s, Count: counts[s]})
	}
	return out, nil
}
