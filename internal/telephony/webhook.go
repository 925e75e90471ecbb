package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	PostCallTranscriptionEvent = "post_call_transcription"
	SignatureHeader            = "ElevenLabs-Signature"
)

var (
	// ErrIgnoredEvent is returned for well-formed webhooks of other event types.
	ErrIgnoredEvent = errors.New("telephony: event type not processed")
	ErrInvalidEvent = errors.New("telephony: invalid webhook payload")
	ErrBadSignature = errors.New("telephony: invalid webhook signature")
	ErrStaleWebhook = errors.New("telephony: webhook timestamp outside tolerance")
)

// DefaultTolerance bounds the age of a signed webhook.
const DefaultTolerance = 30 * time.Minute

// PostCallEvent is the normalized post-call webhook.
type PostCallEvent struct {
	ConversationID string
	AgentID        string
	Transcript     json.RawMessage

	CustomerPhone       string
	AgentPhone          string
	CallDurationSeconds int

	CallbackTime string
	LeadStatus   string
	FinalState   string
}

type postCallEnvelope struct {
	Type string `json:"type"`
	Data struct {
		ConversationID string          `json:"conversation_id"`
		AgentID        string          `json:"agent_id"`
		Transcript     json.RawMessage `json:"transcript"`
		Metadata       struct {
			CallDurationSecs float64 `json:"call_duration_secs"`
			PhoneCall        struct {
				ExternalNumber string `json:"external_number"`
				AgentNumber    string `json:"agent_number"`
			} `json:"phone_call"`
		} `json:"metadata"`
		Analysis struct {
			DataCollectionResults map[string]struct {
				Value any `json:"value"`
			} `json:"data_collection_results"`
		} `json:"analysis"`
	} `json:"data"`
}

// ParsePostCallWebhook decodes a webhook body. Some relays wrap the event in {"body": ...}.
func ParsePostCallWebhook(body []byte) (PostCallEvent, error) {
	var outer struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return PostCallEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(outer.Body) > 0 && outer.Body[0] == '{' {
		body = outer.Body
	}

	var env postCallEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PostCallEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if env.Type != PostCallTranscriptionEvent {
		return PostCallEvent{}, ErrIgnoredEvent
	}

	d := env.Data
	ev := PostCallEvent{
		ConversationID:      strings.TrimSpace(d.ConversationID),
		AgentID:             strings.TrimSpace(d.AgentID),
		Transcript:          d.Transcript,
		CustomerPhone:       strings.TrimSpace(d.Metadata.PhoneCall.ExternalNumber),
		AgentPhone:          strings.TrimSpace(d.Metadata.PhoneCall.AgentNumber),
		CallDurationSeconds: int(d.Metadata.CallDurationSecs),
	}
	results := d.Analysis.DataCollectionResults
	ev.CallbackTime = collectedString(results["Final_callback_time"].Value)
	ev.LeadStatus = collectedString(results["Lead_Status"].Value)
	ev.FinalState = collectedString(results["Final_State"].Value)

	if ev.ConversationID == "" || len(ev.Transcript) == 0 || string(ev.Transcript) == "null" {
		return ev, fmt.Errorf("%w: missing conversation_id or transcript", ErrInvalidEvent)
	}
	if ev.AgentID == "" {
		return ev, fmt.Errorf("%w: missing agent_id", ErrInvalidEvent)
	}
	return ev, nil
}

func collectedString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "null") {
			return ""
		}
		return s
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// VerifySignature checks an "ElevenLabs-Signature: t=<unix>,v0=<hex hmac-sha256>" header.
// The signed message is "<t>.<body>".
func VerifySignature(header string, body []byte, secret string, now time.Time, tolerance time.Duration) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v0":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if now.Sub(time.Unix(unix, 0)) > tolerance {
		return ErrStaleWebhook
	}

	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(want, Sign(ts, body, secret)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the HMAC for timestamp ts and body.
func Sign(ts string, body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
