package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callflow/internal/calendar"
	"callflow/internal/queue"
	"callflow/pkg/logger"
)

const (
	// KindConfirmBooking is the job kind handled by Workflow.Confirm.
	KindConfirmBooking = "confirm-booking"

	BookingMaxAttempts = 3
	BookingBackoffBase = 5 * time.Second
)

// BookingJobID is deterministic so that a redelivered enqueue is a no-op.
func BookingJobID(meetingID string) string { return "booking-" + meetingID }

// BookingJob is the confirm-booking payload.
type BookingJob struct {
	MeetingID string `json:"meeting_id"`
	TenantID  string `json:"tenant_id"`
}

// Enqueuer is the job pipeline as seen by the booking intake.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts queue.EnqueueOptions) (queue.EnqueueResult, error)
}

// AvailabilityLister is the calendar capability used for slot lookups.
type AvailabilityLister interface {
	ListAvailability(ctx context.Context, apiKey string, q calendar.AvailabilityQuery) (calendar.Availability, error)
}

// Accepted acknowledges a booking request; the outcome is read later via Get.
type Accepted struct {
	MeetingID string `json:"meeting_id"`
	JobID     string `json:"job_id"`
	Status    Status `json:"status"`
}

// Service is the synchronous side of booking: intake, status reads and availability.
type Service struct {
	repo     Repository
	creds    CredentialStore
	jobs     Enqueuer
	calendar AvailabilityLister
	clock    func() time.Time
	newID    func() string
}

func NewService(repo Repository, creds CredentialStore, jobs Enqueuer, cal AvailabilityLister) *Service {
	return &Service{
		repo:     repo,
		creds:    creds,
		jobs:     jobs,
		calendar: cal,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// RequestBooking validates the request, records a PENDING meeting and enqueues its
// confirmation.
//
// Rules:
//   - A conversation with an existing PENDING or CONFIRMED meeting is rejected with a
//     *DuplicateBookingError naming that meeting.
//   - The tenant must have calendar credentials before anything is written.
//   - If the enqueue fails the meeting is marked FAILED so it does not block a retry.
func (s *Service) RequestBooking(ctx context.Context, tenantID string, req BookingRequest) (Accepted, error) {
	if tenantID == "" {
		return Accepted{}, fmt.Errorf("%w: tenant id required", ErrInvalidArgument)
	}
	if err := req.Validate(); err != nil {
		return Accepted{}, err
	}
	if _, err := s.creds.Get(ctx, tenantID); err != nil {
		return Accepted{}, err
	}

	if req.ConversationID != "" {
		existing, err := s.repo.FindActiveByConversation(ctx, tenantID, req.ConversationID)
		switch {
		case err == nil:
			return Accepted{}, &DuplicateBookingError{ExistingID: existing.ID, ExistingStatus: existing.Status}
		case !errors.Is(err, ErrNotFound):
			return Accepted{}, err
		}
	}

	now := s.clock().UTC()
	m := Meeting{
		ID:              s.newID(),
		TenantID:        tenantID,
		Status:          StatusPending,
		CustomerName:    req.Customer.Name,
		CustomerEmail:   req.Customer.Email,
		CustomerPhone:   req.Customer.Phone,
		Notes:           req.Customer.Notes,
		EventTypeID:     req.EventTypeID,
		MeetingTime:     req.Start.UTC(),
		DurationMinutes: req.DurationMinutes,
		TimeZone:        req.TimeZone,
		Language:        req.Language,
		ConversationID:  req.ConversationID,
		AgentID:         req.AgentID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return Accepted{}, err
	}

	jobID := BookingJobID(m.ID)
	_, err := s.jobs.Enqueue(ctx, KindConfirmBooking, BookingJob{MeetingID: m.ID, TenantID: tenantID}, queue.EnqueueOptions{
		JobID:       jobID,
		MaxAttempts: BookingMaxAttempts,
		BackoffBase: BookingBackoffBase,
	})
	if err != nil {
		m.Status = StatusFailed
		m.ErrorMessage = strPtr("enqueue failed: " + err.Error())
		m.UpdatedAt = s.clock().UTC()
		if uerr := s.repo.Update(ctx, m); uerr != nil {
			logger.From(ctx).Error("meeting enqueue rollback failed", "meeting_id", m.ID, "err", uerr)
		}
		return Accepted{}, fmt.Errorf("meetings: enqueue booking: %w", err)
	}

	logger.From(ctx).Info("meeting booking accepted", "meeting_id", m.ID, "tenant_id", tenantID, "conversation_id", m.ConversationID)
	return Accepted{MeetingID: m.ID, JobID: jobID, Status: m.Status}, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Meeting, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return Meeting{}, err
	}
	if tenantID != "" && m.TenantID != tenantID {
		return Meeting{}, ErrNotFound
	}
	return m, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Meeting, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id required", ErrInvalidArgument)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, f.Status)
	}
	return s.repo.List(ctx, f)
}

// AvailabilityRequest asks for open slots of one event type.
type AvailabilityRequest struct {
	EventTypeID int64     `json:"eventTypeId" validate:"required,gt=0"`
	Start       time.Time `json:"startTime" validate:"required"`
	End         time.Time `json:"endTime" validate:"required,gtfield=Start"`
	TimeZone    string    `json:"timeZone" validate:"omitempty,timezone"`
}

// CheckAvailability lists open slots grouped by date.
func (s *Service) CheckAvailability(ctx context.Context, tenantID string, req AvailabilityRequest) (calendar.Availability, error) {
	if err := validate.Struct(req); err != nil {
		return calendar.Availability{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	creds, err := s.creds.Get(ctx, tenantID)
	if err != nil {
		return calendar.Availability{}, err
	}
	tz := req.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return s.calendar.ListAvailability(ctx, creds.CalcomAPIKey, calendar.AvailabilityQuery{
		EventTypeID: req.EventTypeID,
		Start:       req.Start,
		End:         req.End,
		TimeZone:    tz,
	})
}
