package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier posts messages to a Discord-compatible webhook URL
// as {"content": message}. Delivery is best effort; callers treat
// failures as log-only.
type WebhookNotifier struct {
	resolveURL func() string
	client     *http.Client
}

// NewWebhookNotifier creates a notifier for a fixed webhook URL.
// An empty URL yields a notifier whose Send is a no-op.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return NewDynamicWebhookNotifier(func() string { return url })
}

// NewDynamicWebhookNotifier resolves the webhook URL on every send,
// so a long-running daemon honors settings changes without restart.
func NewDynamicWebhookNotifier(resolveURL func() string) *WebhookNotifier {
	return &WebhookNotifier{
		resolveURL: resolveURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type webhookPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Send posts the message. Non-2xx responses are errors.
func (n *WebhookNotifier) Send(ctx context.Context, message string) error {
	url := n.resolveURL()
	if url == "" {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Content:  message,
		Username: "accountd",
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
