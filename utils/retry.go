package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("reached maximum number of retries")

type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// Retryable decides whether err is worth another attempt; nil uses IsRetryable.
	Retryable func(error) bool
}

func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     20 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Retry calls fn until it succeeds, fails with a non-retryable error, the
// context ends, or MaxAttempts is reached. fn receives the 1-based attempt.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(NextBackoffDelay(policy, attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w (%d): %w", ErrRetriesExhausted, attempts, lastErr)
}

// NextBackoffDelay returns the wait before retry N (1-based).
func NextBackoffDelay(policy RetryPolicy, retry int) time.Duration {
	if policy.InitialDelay <= 0 {
		return 0
	}
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(policy.InitialDelay) * math.Pow(multiplier, float64(retry-1))
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

// IsRetryable reports transient OpenAI failures: timeouts, conflicts, rate
// limits, server errors and network errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if status, ok := HTTPStatus(err); ok {
		switch {
		case status == http.StatusRequestTimeout,
			status == http.StatusConflict,
			status == http.StatusTooManyRequests,
			status >= 500:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRateLimited reports an HTTP 429 from the OpenAI API.
func IsRateLimited(err error) bool {
	status, ok := HTTPStatus(err)
	return ok && status == http.StatusTooManyRequests
}

func HTTPStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}
