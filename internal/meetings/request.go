package meetings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const DefaultDurationMinutes = 30

// BookingRequest is the canonical booking input. Every accepted wire shape is mapped to
// it by ParseBookingRequest before the workflow sees it.
type BookingRequest struct {
	EventTypeID     int64     `json:"event_type_id" validate:"required,gt=0"`
	Start           time.Time `json:"start" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=5,lte=480"`
	TimeZone        string    `json:"timezone" validate:"required,timezone"`
	Language        string    `json:"language" validate:"required"`
	Customer        Customer  `json:"customer"`
	ConversationID  string    `json:"conversation_id,omitempty" validate:"max=200"`
	AgentID         string    `json:"agent_id,omitempty" validate:"max=200"`
}

type Customer struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"max=32"`
	Notes string `json:"notes,omitempty" validate:"max=2000"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the canonical request.
func (r BookingRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// currentRequest is the provider-style shape: attendee answers under "responses".
type currentRequest struct {
	EventTypeID flexInt `json:"eventTypeId"`
	Start       string  `json:"start"`
	Responses   *struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		Phone       string `json:"phone"`
		PhoneNumber string `json:"phoneNumber"`
		Notes       string `json:"notes"`
	} `json:"responses"`
	TimeZone string  `json:"timeZone"`
	Language string  `json:"language"`
	Duration flexInt `json:"duration"`
	Metadata struct {
		ConversationID string `json:"conversationId"`
		AgentID        string `json:"agentId"`
	} `json:"metadata"`
}

// legacyRequest is the flat shape used by older agent tools.
type legacyRequest struct {
	EventTypeID         flexInt `json:"eventTypeId"`
	CustomerName        string  `json:"customerName"`
	CustomerEmail       string  `json:"customerEmail"`
	CustomerPhoneNumber string  `json:"customerPhoneNumber"`
	MeetingTime         string  `json:"meetingTime"`
	Duration            flexInt `json:"duration"`
	Timezone            string  `json:"timezone"`
	Notes               string  `json:"notes"`
	ConversationID      string  `json:"conversationId"`
	AgentID             string  `json:"agentId"`
}

// ParseBookingRequest maps a current or legacy request body to a validated BookingRequest.
func ParseBookingRequest(body []byte) (BookingRequest, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(body, &shape); err != nil {
		return BookingRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var (
		req BookingRequest
		err error
	)
	if _, ok := shape["responses"]; ok {
		req, err = fromCurrent(body)
	} else {
		req, err = fromLegacy(body)
	}
	if err != nil {
		return BookingRequest{}, err
	}
	if req.TimeZone == "" {
		req.TimeZone = "UTC"
	}
	if req.Language == "" {
		req.Language = "en"
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	return req, req.Validate()
}

func fromCurrent(body []byte) (BookingRequest, error) {
	var c currentRequest
	if err := json.Unmarshal(body, &c); err != nil {
		return BookingRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	start, err := parseStart(c.Start)
	if err != nil {
		return BookingRequest{}, err
	}
	req := BookingRequest{
		EventTypeID:     int64(c.EventTypeID),
		Start:           start,
		DurationMinutes: int(c.Duration),
		TimeZone:        strings.TrimSpace(c.TimeZone),
		Language:        strings.TrimSpace(c.Language),
		ConversationID:  strings.TrimSpace(c.Metadata.ConversationID),
		AgentID:         strings.TrimSpace(c.Metadata.AgentID),
	}
	if c.Responses != nil {
		phone := c.Responses.Phone
		if phone == "" {
			phone = c.Responses.PhoneNumber
		}
		req.Customer = Customer{
			Name:  strings.TrimSpace(c.Responses.Name),
			Email: strings.TrimSpace(c.Responses.Email),
			Phone: strings.TrimSpace(phone),
			Notes: c.Responses.Notes,
		}
	}
	return req, nil
}

func fromLegacy(body []byte) (BookingRequest, error) {
	var l legacyRequest
	if err := json.Unmarshal(body, &l); err != nil {
		return BookingRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	start, err := parseStart(l.MeetingTime)
	if err != nil {
		return BookingRequest{}, err
	}
	return BookingRequest{
		EventTypeID:     int64(l.EventTypeID),
		Start:           start,
		DurationMinutes: int(l.Duration),
		TimeZone:        strings.TrimSpace(l.Timezone),
		ConversationID:  strings.TrimSpace(l.ConversationID),
		AgentID:         strings.TrimSpace(l.AgentID),
		Customer: Customer{
			Name:  strings.TrimSpace(l.CustomerName),
			Email: strings.TrimSpace(l.CustomerEmail),
			Phone: strings.TrimSpace(l.CustomerPhoneNumber),
			Notes: l.Notes,
		},
	}, nil
}

func parseStart(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: start time is required", ErrInvalidRequest)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start time must be RFC 3339: %v", ErrInvalidRequest, err)
	}
	return t.UTC(), nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", string(b))
	}
	*f = flexInt(n)
	return nil
}
