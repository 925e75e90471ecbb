package meetings

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository useful for tests.
// The duplicate check and insert share one critical section.
type MemoryRepo struct {
	mu       sync.Mutex
	meetings map[string]Meeting
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{meetings: map[string]Meeting{}} }

func (m *MemoryRepo) Create(_ context.Context, mt Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.meetings[mt.ID]; ok {
		return ErrDuplicate
	}
	if mt.ConversationID != "" && mt.Status.Active() {
		if existing, ok := m.activeLocked(mt.TenantID, mt.ConversationID); ok {
			return &DuplicateBookingError{ExistingID: existing.ID, ExistingStatus: existing.Status}
		}
	}
	m.meetings[mt.ID] = cloneMeeting(mt)
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, id string) (Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.meetings[id]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	return cloneMeeting(mt), nil
}

func (m *MemoryRepo) FindActiveByConversation(_ context.Context, tenantID, conversationID string) (Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt, ok := m.activeLocked(tenantID, conversationID); ok {
		return cloneMeeting(mt), nil
	}
	return Meeting{}, ErrNotFound
}

func (m *MemoryRepo) activeLocked(tenantID, conversationID string) (Meeting, bool) {
	for _, mt := range m.meetings {
		if mt.TenantID == tenantID && mt.ConversationID == conversationID && mt.Status.Active() {
			return mt, true
		}
	}
	return Meeting{}, false
}

func (m *MemoryRepo) Update(_ context.Context, mt Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.meetings[mt.ID]; !ok {
		return ErrNotFound
	}
	m.meetings[mt.ID] = cloneMeeting(mt)
	return nil
}

func (m *MemoryRepo) List(_ context.Context, f ListFilter) ([]Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Meeting
	for _, mt := range m.meetings {
		if f.TenantID != "" && mt.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && mt.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && mt.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !mt.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, cloneMeeting(mt))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset >= len(out) {
		return []Meeting{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

func cloneMeeting(mt Meeting) Meeting {
	out := mt
	if mt.ProviderResponse != nil {
		out.ProviderResponse = append([]byte(nil), mt.ProviderResponse...)
	}
	for _, p := range []**string{&out.ProviderEventID, &out.MeetingLink, &out.Warning, &out.ErrorMessage, &out.NotificationError} {
		if *p != nil {
			s := **p
			*p = &s
		}
	}
	return out
}
