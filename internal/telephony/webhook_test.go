package telephony

import (
	"encoding/hex"
	"errors"
	"strconv"
	"testing"
	"time"
)

const postCallBody = `{
  "type": "post_call_transcription",
  "data": {
    "conversation_id": "conv-1",
    "agent_id": "agent-1",
    "transcript": [{"role": "agent", "message": "Hello"}, {"role": "user", "message": "Call me tomorrow at 2pm"}],
    "metadata": {
      "call_duration_secs": 84,
      "phone_call": {"external_number": "+14155550100", "agent_number": "+14155550199"}
    },
    "analysis": {
      "data_collection_results": {
        "Final_callback_time": {"value": "tomorrow at 2pm"},
        "Lead_Status": {"value": "Call Back"},
        "Final_State": {"value": null}
      }
    }
  }
}`

func TestParsePostCallWebhook(t *testing.T) {
	ev, err := ParsePostCallWebhook([]byte(postCallBody))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.ConversationID != "conv-1" || ev.AgentID != "agent-1" {
		t.Fatalf("unexpected ids: %+v", ev)
	}
	if ev.CustomerPhone != "+14155550100" || ev.AgentPhone != "+14155550199" {
		t.Fatalf("unexpected phones: %+v", ev)
	}
	if ev.CallDurationSeconds != 84 {
		t.Fatalf("expected duration 84, got %d", ev.CallDurationSeconds)
	}
	if ev.CallbackTime != "tomorrow at 2pm" || ev.LeadStatus != "Call Back" || ev.FinalState != "" {
		t.Fatalf("unexpected analysis fields: %+v", ev)
	}
}

func TestParsePostCallWebhook_UnwrapsBody(t *testing.T) {
	ev, err := ParsePostCallWebhook([]byte(`{"body": ` + postCallBody + `}`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.ConversationID != "conv-1" {
		t.Fatalf("expected wrapped event to parse")
	}
}

func TestParsePostCallWebhook_IgnoresOtherEvents(t *testing.T) {
	_, err := ParsePostCallWebhook([]byte(`{"type": "post_call_audio", "data": {}}`))
	if !errors.Is(err, ErrIgnoredEvent) {
		t.Fatalf("expected ErrIgnoredEvent, got %v", err)
	}
}

func TestParsePostCallWebhook_RequiresFields(t *testing.T) {
	cases := []string{
		`{"type": "post_call_transcription", "data": {"agent_id": "a", "transcript": "hi"}}`,
		`{"type": "post_call_transcription", "data": {"conversation_id": "c", "agent_id": "a"}}`,
		`{"type": "post_call_transcription", "data": {"conversation_id": "c", "transcript": "hi"}}`,
		`not json`,
	}
	for _, body := range cases {
		if _, err := ParsePostCallWebhook([]byte(body)); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("expected ErrInvalidEvent for %s, got %v", body, err)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1735725600, 0)
	body := []byte(postCallBody)
	ts := strconv.FormatInt(now.Unix(), 10)
	header := "t=" + ts + ",v0=" + hex.EncodeToString(Sign(ts, body, "secret"))

	if err := VerifySignature(header, body, "secret", now.Add(time.Minute), 0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := VerifySignature(header, body, "other", now, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if err := VerifySignature(header, []byte(`{}`), "secret", now, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for tampered body, got %v", err)
	}
	if err := VerifySignature(header, body, "secret", now.Add(31*time.Minute), 0); !errors.Is(err, ErrStaleWebhook) {
		t.Fatalf("expected ErrStaleWebhook, got %v", err)
	}
	if err := VerifySignature("garbage", body, "secret", now, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for malformed header, got %v", err)
	}
}
