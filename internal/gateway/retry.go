package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tickethub/monitoring"
)

// RetryPolicy bounds how long a caller can be stalled by gateway rate
// limiting: a 429 reply waits out the server-supplied Retry-After when
// present, otherwise an exponential delay doubling from InitialDelay, up
// to MaxAttempts total attempts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// APIError is a non-2xx gateway reply after any retrying is exhausted.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, e.Body)
}

// Do issues the request built by makeReq until it gets past rate
// limiting. Only 429 replies are retried; every other outcome, including
// transport errors, propagates immediately. An explicit loop with an
// attempt counter keeps cancellation handling predictable.
func (p RetryPolicy) Do(ctx context.Context, hc *http.Client, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backOff := p.InitialDelay
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		req, err := makeReq()
		if err != nil {
			return nil, err
		}

		resp, err := hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("RetryPolicy.Do: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		delay := backOff
		if after := retryAfter(resp); after > 0 {
			delay = after
		}

		rbody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(rbody)}
		monitoring.TrackGatewayRetry()

		// No point sleeping when there is no attempt left to spend.
		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			backOff *= 2
		}
	}

	return nil, lastErr
}

// retryAfter reads the Retry-After header, in whole seconds.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
