package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// WebhookSink posts alert payloads to a configured webhook URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a WebhookSink with a 10-second request timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a firing alert.
func (w *WebhookSink) Send(ctx context.Context, alert Alert) error {
	return w.post(ctx, "firing", alert)
}

// Resolve posts a resolution notification for a previously sent alert.
func (w *WebhookSink) Resolve(ctx context.Context, alert Alert) error {
	return w.post(ctx, "resolved", alert)
}

func (w *WebhookSink) post(ctx context.Context, state string, alert Alert) error {
	payload := struct {
		State string `json:"state"`
		Alert
	}{State: state, Alert: alert}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal alert %s: %w", alert.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send alert %s: %w", alert.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: alert %s: unexpected status %d: %s",
			alert.ID, resp.StatusCode, string(respBody))
	}
	return nil
}

// Compile-time interface check.
var _ Sink = (*WebhookSink)(nil)
