// Package memory keeps embeddings of past call summaries so a callback can be primed with
// what the customer said before.
//
// IMPORTANT:
// - Tenant isolation is a query-time filter on metadata, not physical partitioning.
// - Reads are enrichment only: query failures degrade to an empty result.
// - Nothing is evicted.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"callflow/pkg/logger"
)

var ErrInvalidArgument = errors.New("memory: invalid argument")

// Metadata is stored alongside each vector.
type Metadata struct {
	TenantID  string
	Summary   string
	AgentID   string
	Phone     string
	Timestamp time.Time
}

// Match is one prior conversation returned by a query.
type Match struct {
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	Timestamp      time.Time `json:"timestamp"`
}

// Filter narrows a vector query. Both fields are exact matches.
type Filter struct {
	TenantID string
	Phone    string
}

// VectorStore is the vector database capability.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, md Metadata) error
	Query(ctx context.Context, f Filter, topK int) ([]Match, error)
}

type Store struct {
	vectors VectorStore
}

func NewStore(v VectorStore) *Store { return &Store{vectors: v} }

// Upsert stores (or replaces) the vector for conversationID.
func (s *Store) Upsert(ctx context.Context, conversationID string, vector []float32, md Metadata) error {
	if conversationID == "" || md.TenantID == "" || len(vector) == 0 {
		return ErrInvalidArgument
	}
	md.Phone = PhoneKey(md.Phone)
	if md.Timestamp.IsZero() {
		md.Timestamp = time.Now().UTC()
	}
	return s.vectors.Upsert(ctx, conversationID, vector, md)
}

// QueryByTenantAndPhone returns up to topK prior conversations, newest first.
// It never fails; errors are logged and yield an empty slice.
func (s *Store) QueryByTenantAndPhone(ctx context.Context, phone, tenantID string, topK int) []Match {
	key := PhoneKey(phone)
	if s == nil || s.vectors == nil || key == "" || tenantID == "" {
		return []Match{}
	}
	if topK <= 0 {
		topK = 3
	}
	matches, err := s.vectors.Query(ctx, Filter{TenantID: tenantID, Phone: key}, topK)
	if err != nil {
		logger.From(ctx).Warn("conversation memory query failed", "tenant_id", tenantID, "err", err)
		return []Match{}
	}
	if matches == nil {
		return []Match{}
	}
	return matches
}

// PhoneKey reduces a phone number to its digits so "+1 (555) 010-0000" and "15550100000" match.
func PhoneKey(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
