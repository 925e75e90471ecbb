package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCallTransition records a call record status change.
func (s *Service) LogCallTransition(ctx context.Context, tenantID, callID, from, to, message string) error {
	return s.Append(ctx, Event{
		TenantID:   tenantID,
		Type:       EventTypeCallTransition,
		CallID:     callID,
		FromStatus: from,
		ToStatus:   to,
		Message:    message,
	})
}

// LogMeetingTransition records a meeting status change.
func (s *Service) LogMeetingTransition(ctx context.Context, tenantID, meetingID, from, to, message string) error {
	return s.Append(ctx, Event{
		TenantID:   tenantID,
		Type:       EventTypeMeetingTransition,
		MeetingID:  meetingID,
		FromStatus: from,
		ToStatus:   to,
		Message:    message,
	})
}
