package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// StatusError is a non-2xx answer from a provider's HTTP API
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// retrySleepFunc waits between attempts (injectable for tests)
var retrySleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryingProvider retries transient failures with exponential backoff
type retryingProvider struct {
	Provider
	maxAttempts int
	baseDelay   time.Duration
}

// WithRetry wraps a provider so Extract retries 429, 5xx and transient
// network errors. maxAttempts <= 1 returns the provider unchanged.
func WithRetry(p Provider, maxAttempts int) Provider {
	if maxAttempts <= 1 {
		return p
	}
	return &retryingProvider{
		Provider:    p,
		maxAttempts: maxAttempts,
		baseDelay:   time.Second,
	}
}

// Extract retries the wrapped provider's Extract
func (r *retryingProvider) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		resp, err := r.Provider.Extract(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == r.maxAttempts-1 {
			break
		}

		backoff := r.baseDelay * time.Duration(1<<uint(attempt))
		zap.L().Warn("llm: transient provider error, retrying",
			zap.String("provider", r.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := retrySleepFunc(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// IsRetryable reports whether err indicates a transient failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return isRetryableNetworkError(err.Error())
}

func retryableStatus(code int) bool {
	return code == 429 || (code >= 500 && code < 600)
}

// isRetryableNetworkError checks error strings for transient network failures
func isRetryableNetworkError(errMsg string) bool {
	s := strings.ToLower(errMsg)
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "eof")
}
