// Package publish ships the finished report to an optional dashboard ingest
// endpoint. Transient failures are retried with jittered exponential backoff;
// running out of attempts is reported to the caller but is not fatal to the
// analysis pass.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/dagsentry/dagsentry/internal/report"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0

	sendTimeout = 10 * time.Second
	maxAttempts = 5
)

// Publisher posts report documents to a single ingest URL.
type Publisher struct {
	url    string
	client *http.Client
}

// New creates a Publisher for the given ingest URL. An empty URL yields a
// disabled Publisher whose Publish is a no-op.
func New(url string) *Publisher {
	return &Publisher{
		url:    url,
		client: &http.Client{Timeout: sendTimeout},
	}
}

// Enabled reports whether an ingest URL is configured.
func (p *Publisher) Enabled() bool { return p.url != "" }

// Publish posts the document as JSON, retrying transient failures until the
// attempt budget is spent or ctx is cancelled. A 4xx response is permanent:
// the document will not become acceptable on retry.
func (p *Publisher) Publish(ctx context.Context, doc *report.Document) error {
	if !p.Enabled() {
		return nil
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("publish: marshal report: %w", err)
	}

	bo := newBackoff()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.post(ctx, body)
		if lastErr == nil {
			slog.Info("publish: report delivered", "url", p.url, "run_id", doc.RunID)
			return nil
		}
		if permanent(lastErr) {
			return fmt.Errorf("publish: %w", lastErr)
		}

		wait := bo.next()
		slog.Warn("publish: delivery failed, will retry",
			"url", p.url,
			"attempt", attempt,
			"err", lastErr,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("publish: giving up after %d attempts: %w", maxAttempts, lastErr)
}

func (p *Publisher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// statusError carries the HTTP status of a rejected delivery.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ingest returned HTTP %d", e.code)
}

// permanent reports whether the error indicates the request itself is
// invalid and should not be retried.
func permanent(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code >= 400 && se.code < 500
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
