package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{name: "nil error", err: nil, expected: ErrorUnknown},
		{name: "generic error", err: errors.New("something went wrong"), expected: ErrorUnknown},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), expected: ErrorTransient},
		{name: "429 in message", err: errors.New("HTTP 429: rate limit exceeded"), expected: ErrorQuota},
		{name: "quota in message", err: errors.New("quota exceeded"), expected: ErrorQuota},
		{name: "500 in message", err: errors.New("HTTP 500: internal server error"), expected: ErrorTransient},
		{name: "overloaded", err: errors.New("529 overloaded_error"), expected: ErrorTransient},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), expected: ErrorTransient},
		{name: "401 in message", err: errors.New("HTTP 401: invalid x-api-key"), expected: ErrorNonRetriable},
		{name: "sdk 429", err: &anthropic.Error{StatusCode: 429}, expected: ErrorQuota},
		{name: "sdk 503", err: &anthropic.Error{StatusCode: 503}, expected: ErrorTransient},
		{name: "sdk 400", err: &anthropic.Error{StatusCode: 400}, expected: ErrorNonRetriable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyError(tt.err))
		})
	}
}

func TestIsRetriableError(t *testing.T) {
	assert.True(t, isRetriableError(errors.New("503 service unavailable")))
	assert.True(t, isRetriableError(errors.New("429 rate limit")))
	assert.False(t, isRetriableError(errors.New("403 forbidden")))
	assert.False(t, isRetriableError(nil))
}

func TestErrorTypeStringer(t *testing.T) {
	assert.Equal(t, "TRANSIENT", ErrorTransient.String())
	assert.Equal(t, "QUOTA", ErrorQuota.String())
	assert.Equal(t, "NON_RETRIABLE", ErrorNonRetriable.String())
	assert.Equal(t, "UNKNOWN", ErrorUnknown.String())
}

func TestCircuitBreakerQuotaWeighting(t *testing.T) {
	cb := NewCircuitBreaker(5, 2, 30*time.Second, nil)

	cb.recordFailureWithType(ErrorQuota)
	state, failures, _ := cb.GetMetrics()
	assert.Equal(t, CircuitClosed, state)
	assert.Equal(t, 3, failures, "quota error counts as 3 failures")

	cb.recordFailureWithType(ErrorQuota)
	state, failures, _ = cb.GetMetrics()
	assert.Equal(t, CircuitOpen, state)
	assert.Equal(t, 6, failures)
}

func TestCircuitBreakerTransitions(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 50*time.Millisecond, nil)
	assert.Equal(t, CircuitClosed, cb.GetState())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	_, failures, _ := cb.GetMetrics()
	assert.Equal(t, 0, failures, "success resets the failure count")

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState(), "failure in half-open reopens")

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreakerThreadSafety(t *testing.T) {
	cb := NewCircuitBreaker(1000, 2, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Allow()
			cb.RecordFailure()
		}()
	}
	wg.Wait()

	_, failures, _ := cb.GetMetrics()
	assert.Equal(t, 50, failures)
}

func testSupervisor(cfg RetryConfig) *Supervisor {
	s := &Supervisor{retry: cfg, logger: zap.NewNop()}
	if cfg.CircuitBreakerEnabled {
		s.circuitBreaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout, nil)
	}
	return s
}

func fastRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

func TestRetryWithBackoff_RetriesTransientErrors(t *testing.T) {
	s := testSupervisor(fastRetryConfig())

	calls := 0
	err := s.retryWithBackoff(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, CircuitClosed, s.circuitBreaker.GetState())
}

func TestRetryWithBackoff_NonRetriableStopsImmediately(t *testing.T) {
	s := testSupervisor(fastRetryConfig())

	calls := 0
	err := s.retryWithBackoff(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("401 unauthorized")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	_, failures, _ := s.circuitBreaker.GetMetrics()
	assert.Equal(t, 0, failures, "non-retriable errors do not count against the circuit")
}

func TestRetryWithBackoff_ExhaustsAndOpensCircuit(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.FailureThreshold = 4
	s := testSupervisor(cfg)

	calls := 0
	err := s.retryWithBackoff(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("502 bad gateway")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test failed after 4 attempts")
	assert.Equal(t, 4, calls)
	assert.Equal(t, CircuitOpen, s.circuitBreaker.GetState())

	err = s.retryWithBackoff(context.Background(), "test", func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 4, calls, "open circuit fails fast")
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.True(t, cfg.CircuitBreakerEnabled)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 2, cfg.SuccessThreshold)
	assert.Equal(t, 30*time.Second, cfg.OpenTimeout)
}

func TestNewSupervisor_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewSupervisor(&Config{})
	assert.Error(t, err)

	s, err := NewSupervisor(&Config{APIKey: "test-key", Model: "m", RequestsPerMinute: 60})
	require.NoError(t, err)
	assert.Equal(t, "m", s.Model())
	assert.NotNil(t, s.limiter)
	assert.NotNil(t, s.circuitBreaker)
	assert.NoError(t, s.HealthCheck(context.Background()))
}
