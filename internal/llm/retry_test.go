package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockProvider implements the Provider interface for testing
type MockProvider struct {
	name      string
	available bool
	responses []*ExtractResponse
	errs      []error
	calls     int
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return &ExtractResponse{Content: "{}"}, nil
}

func (m *MockProvider) IsAvailable(ctx context.Context) bool {
	return m.available
}

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := retrySleepFunc
	retrySleepFunc = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	t.Cleanup(func() { retrySleepFunc = orig })
	return &slept
}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	slept := stubSleep(t)
	mock := &MockProvider{
		name: "mock",
		errs: []error{
			&StatusError{Provider: "mock", StatusCode: 503, Message: "overloaded"},
			&StatusError{Provider: "mock", StatusCode: 429, Message: "slow down"},
		},
		responses: []*ExtractResponse{nil, nil, {Content: `{"success": true}`}},
	}

	resp, err := WithRetry(mock, 3).Extract(context.Background(), ExtractRequest{})
	require.NoError(t, err)

	assert.Equal(t, `{"success": true}`, resp.Content)
	assert.Equal(t, 3, mock.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	slept := stubSleep(t)
	mock := &MockProvider{
		name: "mock",
		errs: []error{&StatusError{Provider: "mock", StatusCode: 400, Message: "bad image"}},
	}

	_, err := WithRetry(mock, 3).Extract(context.Background(), ExtractRequest{})
	require.Error(t, err)

	assert.Equal(t, 1, mock.calls)
	assert.Empty(t, *slept)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	stubSleep(t)
	transient := &StatusError{Provider: "mock", StatusCode: 502, Message: "bad gateway"}
	mock := &MockProvider{name: "mock", errs: []error{transient, transient, transient, transient}}

	_, err := WithRetry(mock, 3).Extract(context.Background(), ExtractRequest{})

	require.Error(t, err)
	assert.Equal(t, 3, mock.calls)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 502, statusErr.StatusCode)
}

func TestWithRetry_HonoursCancelledContext(t *testing.T) {
	stubSleep(t)
	mock := &MockProvider{
		name: "mock",
		errs: []error{&StatusError{Provider: "mock", StatusCode: 500}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRetry(mock, 5).Extract(ctx, ExtractRequest{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.calls)
}

func TestWithRetry_SingleAttemptReturnsProvider(t *testing.T) {
	mock := &MockProvider{name: "mock"}
	assert.Same(t, mock, WithRetry(mock, 1).(*MockProvider))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		desc string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 500", &StatusError{StatusCode: 500}, true},
		{"status 429", &StatusError{StatusCode: 429}, true},
		{"status 401", &StatusError{StatusCode: 401}, false},
		{"wrapped status", eris.Wrap(&StatusError{StatusCode: 503}, "llm: call"), true},
		{"openai api 429", &openai.APIError{HTTPStatusCode: 429}, true},
		{"openai api 400", &openai.APIError{HTTPStatusCode: 400}, false},
		{"openai request 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), true},
		{"other", errors.New("invalid character '<' looking for beginning of value"), false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
