package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidateWebhookURL(t *testing.T) {
	if err := ValidateWebhookURL("https://hooks.example.com/abc"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, bad := range []string{"", "ftp://x", "hooks.example.com", "https://"} {
		if err := ValidateWebhookURL(bad); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("expected ErrInvalidURL for %q, got %v", bad, err)
		}
	}
}

func TestHTTPNotifier_Post(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(time.Second)
	if err := n.Post(context.Background(), srv.URL, map[string]string{"customerName": "Jane"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got["customerName"] != "Jane" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestHTTPNotifier_PostReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message": "workflow disabled"}`))
	}))
	defer srv.Close()

	err := NewHTTPNotifier(time.Second).Post(context.Background(), srv.URL, struct{}{})
	if err == nil || !strings.Contains(err.Error(), "502 - workflow disabled") {
		t.Fatalf("expected status error, got %v", err)
	}
}
