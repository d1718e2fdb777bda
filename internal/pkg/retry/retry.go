// Package retry provides a reusable retry-policy value object for
// calls to external providers. The policy is pure data plus a Do
// helper, so the attempt/delay schedule is independently testable
// instead of living in inline loops.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
)

// Policy describes how external calls are retried: exponential backoff
// from BaseDelay, doubled per attempt, capped at MaxDelay, with
// +/-Jitter fraction of randomization.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultPolicy returns the documented defaults: 3 attempts, 500ms
// base, 8s cap, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the backoff before the given retry attempt (1-based:
// attempt 1 is the delay before the first retry), without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// jittered spreads a delay by +/- the jitter fraction.
func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// Do invokes fn up to MaxAttempts times. Only transient errors
// (errs.Transient) are retried; auth failures and other permanent
// errors return immediately. Context cancellation stops the loop.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errs.ErrAuth) || !errs.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.jittered(p.Delay(attempt))):
		}
	}
	return lastErr
}

// NewHTTPClient builds a retryablehttp client shaped by the policy.
// Timeouts and 5xx responses are retried; 401/403 are surfaced as
// non-retryable auth failures by the callers' response handling.
func (p Policy) NewHTTPClient(logger *slog.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = p.MaxAttempts - 1
	if client.RetryMax < 0 {
		client.RetryMax = 0
	}
	client.RetryWaitMin = p.BaseDelay
	client.RetryWaitMax = p.MaxDelay
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	if logger != nil {
		client.Logger = slogAdapter{logger}
	}
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Auth failures are permanent.
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return client
}

// slogAdapter bridges retryablehttp's leveled logger to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Error(msg string, kv ...interface{}) { a.logger.Error(msg, kv...) }
func (a slogAdapter) Info(msg string, kv ...interface{})  { a.logger.Info(msg, kv...) }
func (a slogAdapter) Debug(msg string, kv ...interface{}) { a.logger.Debug(msg, kv...) }
func (a slogAdapter) Warn(msg string, kv ...interface{})  { a.logger.Warn(msg, kv...) }
