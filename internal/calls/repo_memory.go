package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

func (m *MemoryRepo) Create(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.records {
		if existing.TenantID == r.TenantID && existing.ConversationID == r.ConversationID {
			return ErrDuplicate
		}
	}
	m.records[r.ID] = clone(r)
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(r), nil
}

func (m *MemoryRepo) GetByConversation(_ context.Context, tenantID, conversationID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TenantID == tenantID && r.ConversationID == conversationID {
			return clone(r), nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *MemoryRepo) Update(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; !ok {
		return ErrNotFound
	}
	m.records[r.ID] = clone(r)
	return nil
}

func (m *MemoryRepo) List(_ context.Context, f ListFilter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if f.TenantID != "" && r.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !r.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset >= len(out) {
		return []Record{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

func clone(r Record) Record {
	out := r
	if r.Transcript != nil {
		out.Transcript = append([]byte(nil), r.Transcript...)
	}
	if r.CallbackScheduledAt != nil {
		t := *r.CallbackScheduledAt
		out.CallbackScheduledAt = &t
	}
	if r.CallbackCompletedAt != nil {
		t := *r.CallbackCompletedAt
		out.CallbackCompletedAt = &t
	}
	if r.CallbackReason != nil {
		s := *r.CallbackReason
		out.CallbackReason = &s
	}
	return out
}
