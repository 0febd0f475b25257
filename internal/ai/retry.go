package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

// RetryConfig holds retry configuration for API calls
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`        // Maximum number of retries (default: 3)
	InitialBackoff    time.Duration `yaml:"initial_backoff"`    // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration `yaml:"max_backoff"`        // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       `yaml:"backoff_multiplier"` // Backoff multiplier (default: 2.0)
	Timeout           time.Duration `yaml:"timeout"`            // Per-request timeout (default: 120s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          `yaml:"circuit_breaker"`   // Enable circuit breaker (default: true)
	FailureThreshold      int           `yaml:"failure_threshold"` // Failures before opening circuit (default: 5)
	SuccessThreshold      int           `yaml:"success_threshold"` // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration `yaml:"open_timeout"`      // How long to keep circuit open (default: 30s)

	MaxConcurrentCalls int `yaml:"max_concurrent_calls"` // Maximum concurrent AI API calls (default: 4, 0 = unlimited)
}

// ErrorType classifies API errors for retry and circuit breaker decisions
type ErrorType int

const (
	ErrorUnknown      ErrorType = iota // Not recognized; not retried
	ErrorTransient                     // 5xx, timeouts, connection failures
	ErrorQuota                         // 429 and quota exhaustion
	ErrorNonRetriable                  // 4xx client errors such as auth failures
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTransient:
		return "TRANSIENT"
	case ErrorQuota:
		return "QUOTA"
	case ErrorNonRetriable:
		return "NON_RETRIABLE"
	default:
		return "UNKNOWN"
	}
}

// quotaFailureWeight is how many failures a quota error counts as in the circuit breaker
const quotaFailureWeight = 3

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker implements the circuit breaker pattern to prevent cascading failures
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *zap.Logger
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               120 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    4,
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
// A nil logger disables state transition logging.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		lastStateChange:  time.Now(),
		logger:           logger,
	}
}

// Allow checks if a request should be allowed through the circuit breaker
// Returns an error if the circuit is open and hasn't timed out yet
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transitionToHalfOpen()
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		// In half-open state, allow requests through to probe
		return nil

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0

	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transitionToClosed()
		}
	}
}

// RecordFailure records a failed request of unknown type
func (cb *CircuitBreaker) RecordFailure() {
	cb.recordFailureWithType(ErrorUnknown)
}

func (cb *CircuitBreaker) recordFailureWithType(errType ErrorType) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	weight := 1
	if errType == ErrorQuota {
		weight = quotaFailureWeight
	}

	switch cb.state {
	case CircuitClosed:
		cb.failureCount += weight
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionToOpen()
		}

	case CircuitHalfOpen:
		// Any failure in half-open immediately opens the circuit
		cb.transitionToOpen()
	}
}

// GetState returns the current state (for testing/monitoring)
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns current metrics (for monitoring/logging)
func (cb *CircuitBreaker) GetMetrics() (state CircuitState, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.successCount
}

// transitionToClosed moves the circuit to closed state (must be called with lock held)
func (cb *CircuitBreaker) transitionToClosed() {
	oldState := cb.state
	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastStateChange = time.Now()
	cb.logger.Info("circuit breaker state transition",
		zap.Stringer("from", oldState), zap.Stringer("to", cb.state))
}

// transitionToOpen moves the circuit to open state (must be called with lock held)
func (cb *CircuitBreaker) transitionToOpen() {
	oldState := cb.state
	cb.state = CircuitOpen
	cb.successCount = 0
	cb.lastStateChange = time.Now()
	cb.logger.Warn("circuit breaker state transition",
		zap.Stringer("from", oldState), zap.Stringer("to", cb.state),
		zap.Int("failures", cb.failureCount), zap.Duration("reopen_in", cb.openTimeout))
}

// transitionToHalfOpen moves the circuit to half-open state (must be called with lock held)
func (cb *CircuitBreaker) transitionToHalfOpen() {
	oldState := cb.state
	cb.state = CircuitHalfOpen
	cb.successCount = 0
	cb.lastStateChange = time.Now()
	cb.logger.Info("circuit breaker state transition",
		zap.Stringer("from", oldState), zap.Stringer("to", cb.state))
}

// retryWithBackoff executes an operation with retry and exponential backoff
func (s *Supervisor) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	if s.concurrencySem != nil {
		if err := s.concurrencySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer s.concurrencySem.Release(1)
	}

	var lastErr error
	backoff := s.retry.InitialBackoff

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if s.circuitBreaker != nil {
			if err := s.circuitBreaker.Allow(); err != nil {
				state, failures, _ := s.circuitBreaker.GetMetrics()
				s.logger.Warn("AI call blocked by circuit breaker",
					zap.String("operation", operation),
					zap.Stringer("state", state),
					zap.Int("failures", failures))
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if s.circuitBreaker != nil {
				s.circuitBreaker.RecordSuccess()
			}
			if attempt > 0 {
				s.logger.Info("AI call succeeded after retries",
					zap.String("operation", operation), zap.Int("retries", attempt))
			}
			return nil
		}

		lastErr = err
		errType := classifyError(err)

		// Non-retriable errors (like auth failures) shouldn't count against circuit breaker
		if s.circuitBreaker != nil && isRetriableType(errType) {
			s.circuitBreaker.recordFailureWithType(errType)
		}

		if !isRetriableType(errType) {
			s.logger.Error("AI call failed with non-retriable error",
				zap.String("operation", operation),
				zap.Stringer("error_type", errType),
				zap.Error(err))
			return err
		}

		if attempt == s.retry.MaxRetries {
			break
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: context canceled: %w", operation, ctx.Err())
		}

		s.logger.Warn("AI call failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.retry.MaxRetries+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * s.retry.BackoffMultiplier)
			if backoff > s.retry.MaxBackoff {
				backoff = s.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, s.retry.MaxRetries+1, lastErr)
}

// classifyError determines the retry class of an API error.
// SDK errors are classified by status code, anything else by message text.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return ErrorQuota
		case apiErr.StatusCode >= 500:
			return ErrorTransient
		case apiErr.StatusCode >= 400:
			return ErrorNonRetriable
		}
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "quota") {
		return ErrorQuota
	}

	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "529") || strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return ErrorTransient
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return ErrorTransient
	}

	// 4xx client errors (except rate limits) indicate bad requests that won't succeed on retry
	if strings.Contains(errStr, "400") || strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") || strings.Contains(errStr, "404") {
		return ErrorNonRetriable
	}

	return ErrorUnknown
}

func isRetriableType(t ErrorType) bool {
	return t == ErrorTransient || t == ErrorQuota
}

// isRetriableError determines if an error is retriable (transient)
func isRetriableError(err error) bool {
	return isRetriableType(classifyError(err))
}
