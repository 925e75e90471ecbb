package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestElevenLabsClient_PlaceOutboundCall(t *testing.T) {
	var got outboundCallBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/sip-trunk/outbound-call" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"id": "conv-out-1"}`))
	}))
	defer srv.Close()

	c, err := NewElevenLabsClient(ElevenLabsConfig{BaseURL: srv.URL, APIKey: "key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := c.PlaceOutboundCall(context.Background(), OutboundCallRequest{
		AgentID:      "agent-1",
		FromNumberID: "pn-1",
		ToNumber:     "(415) 555-0100",
		Context:      []PriorConversation{{ConversationID: "conv-0", Summary: "asked about pricing"}},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.ConversationID != "conv-out-1" || res.Status != "initiated" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.ToNumber != "+14155550100" || got.FromNumber != "pn-1" || got.AgentPhoneNumberID != "pn-1" {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if len(got.CallData) != 1 {
		t.Fatalf("expected call data to be forwarded")
	}
}

func TestElevenLabsClient_SurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail": "invalid number"}`))
	}))
	defer srv.Close()

	c, _ := NewElevenLabsClient(ElevenLabsConfig{BaseURL: srv.URL, APIKey: "key"})
	_, err := c.PlaceOutboundCall(context.Background(), OutboundCallRequest{AgentID: "a", FromNumberID: "p", ToNumber: "+14155550100"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected APIError 422, got %v", err)
	}
}

func TestElevenLabsClient_ListPhoneNumbersShapes(t *testing.T) {
	bodies := []string{
		`[{"phone_number_id": "pn-1", "phone_number": "+14155550100"}]`,
		`{"phone_numbers": [{"phone_number_id": "pn-1", "phone_number": "+14155550100"}]}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		c, _ := NewElevenLabsClient(ElevenLabsConfig{BaseURL: srv.URL, APIKey: "key"})
		list, err := c.ListPhoneNumbers(context.Background())
		srv.Close()
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if len(list) != 1 || list[0].ID != "pn-1" {
			t.Fatalf("unexpected list for %s: %+v", body, list)
		}
	}
}

func TestNewElevenLabsClient_RequiresKey(t *testing.T) {
	if _, err := NewElevenLabsClient(ElevenLabsConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
