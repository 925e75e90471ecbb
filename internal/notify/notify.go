package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrInvalidURL = errors.New("notify: webhook url must be an absolute http(s) url")

// Notifier posts JSON payloads to a chat-automation webhook.
type Notifier interface {
	Post(ctx context.Context, webhookURL string, payload any) error
}

// ValidateWebhookURL rejects empty and non-http(s) URLs.
func ValidateWebhookURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: not configured", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

type HTTPNotifier struct {
	http *http.Client
}

func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPNotifier{http: &http.Client{Timeout: timeout}}
}

func (n *HTTPNotifier) Post(ctx context.Context, webhookURL string, payload any) error {
	if err := ValidateWebhookURL(webhookURL); err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: no response from webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &msg)
		if msg.Message == "" {
			msg.Message = "unknown error"
		}
		return fmt.Errorf("notify: webhook returned error: %d - %s", resp.StatusCode, msg.Message)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
