package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrDuplicate       = errors.New("calls: duplicate conversation")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Repository is the persistence contract for call records.
//
// Rules:
// - Create fails with ErrDuplicate when (tenant_id, conversation_id) already exists.
// - Update writes every mutable column (last writer wins).
type Repository interface {
	Create(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	GetByConversation(ctx context.Context, tenantID, conversationID string) (Record, error)
	Update(ctx context.Context, r Record) error
	List(ctx context.Context, f ListFilter) ([]Record, error)
}

type ListFilter struct {
	TenantID string
	Status   Status
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return 50
	case f.Limit > 500:
		return 500
	default:
		return f.Limit
	}
}
