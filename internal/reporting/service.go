package reporting

import (
	"context"
	"errors"
	"time"

	"callflow/internal/calls"
	"callflow/internal/meetings"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
//   - Methods must enforce tenant filtering.
//   - Zero from/to bounds are open.
type Repository interface {
	CallBuckets(ctx context.Context, tenantID string, from, to time.Time) ([]CallBucket, error)
	MeetingBuckets(ctx context.Context, tenantID string, from, to time.Time) ([]MeetingBucket, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Overview(ctx context.Context, req OverviewRequest) (Overview, error) {
	if req.TenantID == "" {
		return Overview{}, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return Overview{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Overview{}, errors.New("reporting: repository not configured")
	}

	callRows, err := s.repo.CallBuckets(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return Overview{}, err
	}
	meetingRows, err := s.repo.MeetingBuckets(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return Overview{}, err
	}

	out := Overview{TenantID: req.TenantID, Range: req.Range, CallsByStatus: map[calls.Status]int{}}
	for _, b := range callRows {
		out.TotalCalls += b.Count
		out.TotalDurationSeconds += b.DurationSeconds
		out.CallsByStatus[b.Status] += b.Count
		if b.CallbackRequested {
			out.CallbacksRequested += b.Count
		}
		switch b.Status {
		case calls.StatusCallbackCompleted:
			out.CallbacksCompleted += b.Count
		case calls.StatusCallbackFailed:
			out.CallbacksFailed += b.Count
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}

	for _, b := range meetingRows {
		out.Meetings.Total += b.Count
		switch b.Status {
		case meetings.StatusPending:
			out.Meetings.Pending += b.Count
		case meetings.StatusConfirmed:
			out.Meetings.Confirmed += b.Count
		case meetings.StatusFailed:
			out.Meetings.Failed += b.Count
		}
	}
	return out, nil
}
