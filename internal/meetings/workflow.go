package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"callflow/internal/calendar"
	"callflow/internal/notify"
	"callflow/pkg/logger"
)

// Booker is the calendar booking capability.
type Booker interface {
	CreateBooking(ctx context.Context, apiKey string, in calendar.BookingInput) ([]byte, error)
}

// TransitionLogger receives meeting status changes. Failures are logged and ignored.
type TransitionLogger interface {
	LogMeetingTransition(ctx context.Context, tenantID, meetingID, from, to, message string) error
}

// Result is the structured outcome of one confirmation attempt.
type Result struct {
	MeetingID        string `json:"meeting_id"`
	Status           Status `json:"status"`
	BookingID        string `json:"booking_id,omitempty"`
	MeetingLink      string `json:"meeting_link,omitempty"`
	Warning          string `json:"warning,omitempty"`
	Error            string `json:"error,omitempty"`
	Permanent        bool   `json:"permanent,omitempty"`
	NotificationSent bool   `json:"notification_sent"`
}

// Workflow confirms PENDING meetings against the calendar provider.
type Workflow struct {
	repo     Repository
	creds    CredentialStore
	booker   Booker
	notifier notify.Notifier
	audit    TransitionLogger
	clock    func() time.Time
}

func NewWorkflow(repo Repository, creds CredentialStore, booker Booker, notifier notify.Notifier, audit TransitionLogger) *Workflow {
	return &Workflow{
		repo:     repo,
		creds:    creds,
		booker:   booker,
		notifier: notifier,
		audit:    audit,
		clock:    time.Now,
	}
}

// Confirm runs one booking attempt for a PENDING meeting.
//
// Rules:
//   - Meetings that already left PENDING are returned unchanged (redelivery).
//   - Confirmed and salvaged bookings become CONFIRMED; the notification is best-effort.
//   - Permanent failures become FAILED and return a nil error so the job is not retried.
//   - Retryable failures return an error; the meeting becomes FAILED only on the final attempt.
func (w *Workflow) Confirm(ctx context.Context, meetingID string, attempt, maxAttempts int) (Result, error) {
	l := logger.From(ctx).With("meeting_id", meetingID, "attempt", attempt)

	m, err := w.repo.Get(ctx, meetingID)
	if err != nil {
		return Result{}, err
	}
	if m.Status != StatusPending {
		l.Info("meeting already settled", "status", m.Status)
		return resultOf(m), nil
	}

	creds, err := w.creds.Get(ctx, m.TenantID)
	if errors.Is(err, ErrNoCredentials) {
		return w.fail(ctx, m, Verdict{Error: "calendar api key not configured", Permanent: true})
	}
	if err != nil {
		return Result{}, err
	}

	body, callErr := w.booker.CreateBooking(ctx, creds.CalcomAPIKey, calendar.BookingInput{
		EventTypeID: m.EventTypeID,
		Start:       m.MeetingTime,
		Attendee: calendar.Attendee{
			Name:  m.CustomerName,
			Email: m.CustomerEmail,
			Phone: m.CustomerPhone,
			Notes: m.Notes,
		},
		TimeZone: m.TimeZone,
		Language: m.Language,
		Metadata: bookingMetadata(m),
	})

	var v Verdict
	if callErr != nil {
		v = EvaluateError(callErr)
	} else {
		v = EvaluateResponse(body)
	}
	if len(body) > 0 {
		m.ProviderResponse = body
	} else {
		var herr *calendar.HTTPError
		if errors.As(callErr, &herr) && len(herr.Body) > 0 {
			m.ProviderResponse = herr.Body
		}
	}

	if v.Confirmed {
		if v.Warning != "" {
			l.Warn("booking confirmed with warning", "booking_id", v.BookingID, "warning", v.Warning)
		}
		return w.confirm(ctx, m, creds, v)
	}

	if v.Permanent {
		l.Warn("booking failed permanently", "err", v.Error)
		return w.fail(ctx, m, v)
	}
	if attempt >= maxAttempts {
		l.Error("booking failed on final attempt", "err", v.Error)
		res, err := w.fail(ctx, m, v)
		if err != nil {
			return res, err
		}
		return res, fmt.Errorf("meetings: booking failed: %s", v.Error)
	}
	l.Warn("booking attempt failed, will retry", "err", v.Error)
	return Result{MeetingID: m.ID, Status: StatusPending, Error: v.Error}, fmt.Errorf("meetings: booking failed: %s", v.Error)
}

func (w *Workflow) confirm(ctx context.Context, m Meeting, creds Credentials, v Verdict) (Result, error) {
	m.Status = StatusConfirmed
	m.ProviderEventID = strPtr(v.BookingID)
	m.MeetingLink = strPtr(v.MeetingLink)
	m.Warning = strPtr(v.Warning)
	m.ErrorMessage = nil
	m.UpdatedAt = w.clock().UTC()
	if err := w.repo.Update(ctx, m); err != nil {
		return Result{}, err
	}
	w.logTransition(ctx, m, StatusPending, "booking "+v.BookingID)

	if creds.NotificationWebhookURL != "" && w.notifier != nil {
		if err := w.notifier.Post(ctx, creds.NotificationWebhookURL, notificationPayload(m, w.clock())); err != nil {
			logger.From(ctx).Warn("meeting notification failed", "meeting_id", m.ID, "err", err)
			m.NotificationError = strPtr(err.Error())
		} else {
			m.NotificationSent = true
			m.NotificationError = nil
		}
		m.UpdatedAt = w.clock().UTC()
		if err := w.repo.Update(ctx, m); err != nil {
			logger.From(ctx).Warn("meeting notification status not saved", "meeting_id", m.ID, "err", err)
		}
	}
	return resultOf(m), nil
}

func (w *Workflow) fail(ctx context.Context, m Meeting, v Verdict) (Result, error) {
	m.Status = StatusFailed
	m.ErrorMessage = strPtr(v.Error)
	m.UpdatedAt = w.clock().UTC()
	if err := w.repo.Update(ctx, m); err != nil {
		return Result{}, err
	}
	w.logTransition(ctx, m, StatusPending, v.Error)
	res := resultOf(m)
	res.Permanent = v.Permanent
	return res, nil
}

func (w *Workflow) logTransition(ctx context.Context, m Meeting, from Status, msg string) {
	logger.From(ctx).Info("meeting transition", "meeting_id", m.ID, "from", from, "to", m.Status)
	if w.audit == nil {
		return
	}
	if err := w.audit.LogMeetingTransition(ctx, m.TenantID, m.ID, string(from), string(m.Status), msg); err != nil {
		logger.From(ctx).Warn("audit meeting transition failed", "meeting_id", m.ID, "err", err)
	}
}

func resultOf(m Meeting) Result {
	r := Result{MeetingID: m.ID, Status: m.Status, NotificationSent: m.NotificationSent}
	if m.ProviderEventID != nil {
		r.BookingID = *m.ProviderEventID
	}
	if m.MeetingLink != nil {
		r.MeetingLink = *m.MeetingLink
	}
	if m.Warning != nil {
		r.Warning = *m.Warning
	}
	if m.ErrorMessage != nil {
		r.Error = *m.ErrorMessage
	}
	return r
}

func bookingMetadata(m Meeting) map[string]string {
	md := map[string]string{"meetingId": m.ID}
	if m.ConversationID != "" {
		md["conversationId"] = m.ConversationID
	}
	if m.AgentID != "" {
		md["agentId"] = m.AgentID
	}
	return md
}

// notificationPayload is the chat-automation message for a confirmed meeting.
func notificationPayload(m Meeting, now time.Time) map[string]any {
	p := map[string]any{
		"phoneNumber":   m.CustomerPhone,
		"customerName":  m.CustomerName,
		"customerEmail": m.CustomerEmail,
		"meetingTime":   m.MeetingTime.UTC().Format(time.RFC3339),
		"meetingLink":   nil,
		"duration":      m.DurationMinutes,
		"timezone":      m.TimeZone,
		"calcomEventId": nil,
		"notes":         m.Notes,
		"source":        "callflow",
		"timestamp":     now.UTC().Format(time.RFC3339),
	}
	if m.MeetingLink != nil {
		p["meetingLink"] = *m.MeetingLink
	}
	if m.ProviderEventID != nil {
		p["calcomEventId"] = *m.ProviderEventID
	}
	if m.ConversationID != "" {
		p["conversationId"] = m.ConversationID
	}
	if len(m.ProviderResponse) > 0 {
		p["providerResponse"] = json.RawMessage(m.ProviderResponse)
	}
	p["meetingId"] = m.ID
	p["eventTypeId"] = strconv.FormatInt(m.EventTypeID, 10)
	return p
}
