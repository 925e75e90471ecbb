package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultElevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsClient is the ElevenLabs conversational-AI adapter.
type ElevenLabsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type ElevenLabsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewElevenLabsClient(cfg ElevenLabsConfig) (*ElevenLabsClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telephony: elevenlabs api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabsClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs api error: %d - %s", e.StatusCode, e.Body)
}

type outboundCallBody struct {
	AgentID            string              `json:"agent_id"`
	FromNumber         string              `json:"from_number"`
	ToNumber           string              `json:"to_number"`
	AgentPhoneNumberID string              `json:"agent_phone_number_id"`
	CallData           []PriorConversation `json:"call_data,omitempty"`
}

// PlaceOutboundCall starts an outbound call over the SIP trunk API.
func (c *ElevenLabsClient) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if req.AgentID == "" || req.FromNumberID == "" || req.ToNumber == "" {
		return OutboundCallResult{}, errors.New("telephony: agent id, from number id and to number are required")
	}
	body := outboundCallBody{
		AgentID:            req.AgentID,
		FromNumber:         req.FromNumberID,
		ToNumber:           FormatPhoneNumber(req.ToNumber),
		AgentPhoneNumberID: req.FromNumberID,
		CallData:           req.Context,
	}

	var resp struct {
		ConversationID string `json:"conversation_id"`
		ID             string `json:"id"`
		Status         string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/convai/sip-trunk/outbound-call", body, &resp); err != nil {
		return OutboundCallResult{}, err
	}

	out := OutboundCallResult{ConversationID: resp.ConversationID, Status: resp.Status}
	if out.ConversationID == "" {
		out.ConversationID = resp.ID
	}
	if out.Status == "" {
		out.Status = "initiated"
	}
	return out, nil
}

// ListPhoneNumbers returns the numbers registered on the account. The endpoint returns
// either a bare array or {"phone_numbers": [...]}.
func (c *ElevenLabsClient) ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/convai/phone-numbers", nil, &raw); err != nil {
		return nil, err
	}
	var list []PhoneNumber
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		PhoneNumbers []PhoneNumber `json:"phone_numbers"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("telephony: decode phone numbers: %w", err)
	}
	return wrapped.PhoneNumbers, nil
}

func (c *ElevenLabsClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// MatchPhoneNumber picks the provider number whose E.164 form equals agentPhone, else the
// first listed number. ok is false when the list is empty.
func MatchPhoneNumber(numbers []PhoneNumber, agentPhone string) (PhoneNumber, bool) {
	if len(numbers) == 0 {
		return PhoneNumber{}, false
	}
	if target := FormatPhoneNumber(agentPhone); target != "" {
		for _, n := range numbers {
			if FormatPhoneNumber(n.Number) == target {
				return n, true
			}
		}
	}
	return numbers[0], true
}
