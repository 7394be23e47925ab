package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Webhook POSTs notifications as JSON to a URL. Transport errors and 5xx
// responses are retried.
type Webhook struct {
	url    string
	client *retryablehttp.Client
}

// WebhookOptions tunes the retrying client. Zero values take the library
// defaults.
type WebhookOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

type webhookPayload struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	DedupeKey   string `json:"dedupe_key"`
	Fingerprint string `json:"fingerprint"`
}

// NewWebhook creates a webhook sink for url.
func NewWebhook(url string, opts WebhookOptions) *Webhook {
	client := retryablehttp.NewClient()
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	// *slog.Logger satisfies retryablehttp.LeveledLogger.
	if opts.Logger != nil {
		client.Logger = opts.Logger
	} else {
		client.Logger = nil
	}
	return &Webhook{url: url, client: client}
}

// Deliver sends the notification. The fingerprint doubles as the
// Idempotency-Key header so receivers can drop retries.
func (w *Webhook) Deliver(ctx context.Context, title, body, dedupeKey string) error {
	fp := Fingerprint(dedupeKey, title, body)
	data, err := json.Marshal(webhookPayload{
		Title:       title,
		Body:        body,
		DedupeKey:   dedupeKey,
		Fingerprint: fp,
	})
	if err != nil {
		return fmt.Errorf("webhook: encoding payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, data)
	if err != nil {
		return fmt.Errorf("webhook: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fp)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
