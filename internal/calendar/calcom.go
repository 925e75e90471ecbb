package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.cal.com/v1"

// HTTPError is a non-2xx provider response. Body is kept verbatim so callers can inspect
// it for evidence that the booking happened anyway.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return fmt.Sprintf("calendar: provider returned %d: %s", e.StatusCode, msg)
}

var ErrMissingAPIKey = errors.New("calendar: api key is required")

// Client is a Cal.com v1 client. The API key is per tenant and passed on each call.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type BookingInput struct {
	EventTypeID int64
	Start       time.Time
	Attendee    Attendee
	TimeZone    string
	Language    string
	Metadata    map[string]string
}

type bookingBody struct {
	EventTypeID int64             `json:"eventTypeId"`
	Start       string            `json:"start"`
	Responses   Attendee          `json:"responses"`
	TimeZone    string            `json:"timeZone"`
	Language    string            `json:"language"`
	Metadata    map[string]string `json:"metadata"`
}

// CreateBooking posts a booking and returns the raw response body. A non-2xx response
// returns the body together with an *HTTPError.
func (c *Client) CreateBooking(ctx context.Context, apiKey string, in BookingInput) ([]byte, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}
	body := bookingBody{
		EventTypeID: in.EventTypeID,
		Start:       in.Start.UTC().Format(time.RFC3339),
		Responses:   in.Attendee,
		TimeZone:    in.TimeZone,
		Language:    in.Language,
		Metadata:    in.Metadata,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/bookings", url.Values{"apiKey": {apiKey}}, b)
}

type AvailabilityQuery struct {
	EventTypeID int64
	Start       time.Time
	End         time.Time
	TimeZone    string
}

type Slot struct {
	Time string `json:"time"`
}

// Availability is the provider's slot list grouped by date (YYYY-MM-DD).
type Availability struct {
	Slots map[string][]Slot `json:"slots"`
}

// Flatten returns every slot start in date order.
func (a Availability) Flatten() []string {
	dates := make([]string, 0, len(a.Slots))
	for d := range a.Slots {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	out := []string{}
	for _, d := range dates {
		for _, s := range a.Slots[d] {
			out = append(out, s.Time)
		}
	}
	return out
}

func (c *Client) ListAvailability(ctx context.Context, apiKey string, q AvailabilityQuery) (Availability, error) {
	if apiKey == "" {
		return Availability{}, ErrMissingAPIKey
	}
	params := url.Values{
		"apiKey":      {apiKey},
		"eventTypeId": {strconv.FormatInt(q.EventTypeID, 10)},
		"startTime":   {q.Start.UTC().Format(time.RFC3339)},
		"endTime":     {q.End.UTC().Format(time.RFC3339)},
		"timeZone":    {q.TimeZone},
	}
	data, err := c.do(ctx, http.MethodGet, "/slots", params, nil)
	if err != nil {
		return Availability{}, err
	}
	var out Availability
	if err := json.Unmarshal(data, &out); err != nil {
		return Availability{}, fmt.Errorf("calendar: decode slots: %w", err)
	}
	if out.Slots == nil {
		out.Slots = map[string][]Slot{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Drop the URL from the error; it carries the api key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("calendar: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, &HTTPError{StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}
