package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Webhook POSTs JSON envelopes to a URL with retry and exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay; it doubles each retry.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting the given URL.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, batch report.Batch) error {
	return w.post(ctx, "batch", batch)
}

func (w *Webhook) SendPass(ctx context.Context, p report.Pass) error {
	return w.post(ctx, "pass", p)
}

func (w *Webhook) SendLines(ctx context.Context, lines []report.Line) error {
	return w.post(ctx, "lines", lines)
}

func (w *Webhook) Close() error { return nil }

// EventHeader carries the envelope type so receivers can route without
// decoding the body.
const EventHeader = "X-Chatwatch-Event"

// permanentError is a response retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (w *Webhook) post(ctx context.Context, typ string, data any) error {
	body, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	delay := w.backoff
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries+1; attempt++ {
		lastErr = w.deliver(ctx, typ, body)
		if lastErr == nil {
			return nil
		}
		var perm permanentError
		if errors.As(lastErr, &perm) {
			return lastErr
		}
		w.logger.Warn("webhook: delivery failed", "type", typ, "attempt", attempt, "error", lastErr)
		if attempt > w.maxRetries {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("webhook: retries exhausted: %w", lastErr)
}

// deliver makes one POST. 4xx responses other than 408 and 429 are
// permanent.
func (w *Webhook) deliver(ctx context.Context, typ string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return permanentError{fmt.Errorf("webhook: new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, typ)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests:
		return permanentError{fmt.Errorf("webhook: status %d", code)}
	default:
		return fmt.Errorf("webhook: status %d", code)
	}
}
