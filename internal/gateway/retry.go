package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryPolicy repeats outbound relay calls that failed for transient reasons.
// A 4xx other than 408/429 means the relay refused the message itself (bad
// number, malformed list) and is returned at once so the composer can fall
// back to plain text without waiting.
type retryPolicy struct {
	attempts int           // total tries, the first included
	unit     time.Duration // delay before the second try, doubled after
	maxDelay time.Duration
}

func newRetryPolicy(attempts int, unit time.Duration) retryPolicy {
	if attempts <= 0 {
		attempts = 3
	}
	if unit <= 0 {
		unit = time.Second
	}
	return retryPolicy{attempts: attempts, unit: unit, maxDelay: 8 * unit}
}

// StatusError is a non-2xx reply from the relay.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// delay is the wait before try number attempt (1-based, so attempt 1 never
// waits). A Retry-After in seconds from the relay wins when present.
func (p retryPolicy) delay(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, p.maxDelay)
	}
	d := min(p.unit<<min(attempt-2, 16), p.maxDelay)
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// post sends payload as JSON with the given headers. It returns the response
// of the first 2xx try; the caller closes its body.
func (p retryPolicy) post(ctx context.Context, client *http.Client, logger *slog.Logger, endpoint string, header http.Header, payload []byte) (*http.Response, error) {
	var lastErr error
	var retryAfter string
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			wait := p.delay(attempt, retryAfter)
			logger.Warn("retrying gateway request", "endpoint", endpoint, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header = header.Clone()
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr, retryAfter = err, ""
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		statusErr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if !retryableStatus(resp.StatusCode) {
			return nil, statusErr
		}
		lastErr, retryAfter = statusErr, resp.Header.Get("Retry-After")
	}
	return nil, fmt.Errorf("gave up after %d tries: %w", p.attempts, lastErr)
}
