package memory

import (
	"context"
	"sort"
	"sync"
)

// MemoryVectorStore is an in-memory VectorStore useful for tests.
// It is not intended for production use.
type MemoryVectorStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// QueryErr, when set, is returned by Query.
	QueryErr error
}

type memoryEntry struct {
	vector []float32
	md     Metadata
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{entries: map[string]memoryEntry{}}
}

func (m *MemoryVectorStore) Upsert(_ context.Context, id string, vector []float32, md Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{vector: append([]float32(nil), vector...), md: md}
	return nil
}

func (m *MemoryVectorStore) Query(_ context.Context, f Filter, topK int) ([]Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []Match
	for id, e := range m.entries {
		if e.md.TenantID != f.TenantID || e.md.Phone != f.Phone {
			continue
		}
		out = append(out, Match{ConversationID: id, Summary: e.md.Summary, Timestamp: e.md.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MemoryVectorStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
