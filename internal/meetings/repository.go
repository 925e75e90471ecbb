package meetings

import (
	"context"
	"time"
)

// Repository is the persistence contract for meetings.
//
// Rules:
//   - Create fails with *DuplicateBookingError when an active meeting exists for the same
//     (tenant_id, conversation_id). Meetings without a conversation are never duplicates.
//   - FindActiveByConversation returns ErrNotFound when nothing is PENDING or CONFIRMED.
type Repository interface {
	Create(ctx context.Context, m Meeting) error
	Get(ctx context.Context, id string) (Meeting, error)
	FindActiveByConversation(ctx context.Context, tenantID, conversationID string) (Meeting, error)
	Update(ctx context.Context, m Meeting) error
	List(ctx context.Context, f ListFilter) ([]Meeting, error)
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
