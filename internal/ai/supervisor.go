package ai

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// AI Model Constants
//
// buildfix uses a tiered approach to model selection:
// - Sonnet: fix generation and refinement, where reasoning quality matters
// - Haiku: critic scoring, judging and dependency assessment
//
// Environment variable overrides:
// - BUILDFIX_MODEL: Override default model (default: Sonnet)
// - BUILDFIX_MODEL_SIMPLE: Override model for simple tasks (default: Haiku)
const (
	// ModelSonnet is the high-end model for complex reasoning tasks
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for simple tasks
	ModelHaiku = "claude-3-5-haiku-20241022"

	defaultMaxTokens = 4096
)

// GetDefaultModel returns the default model, checking BUILDFIX_MODEL env var first
func GetDefaultModel() string {
	if model := os.Getenv("BUILDFIX_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// GetSimpleTaskModel returns the model for simple tasks, checking BUILDFIX_MODEL_SIMPLE env var first
func GetSimpleTaskModel() string {
	if model := os.Getenv("BUILDFIX_MODEL_SIMPLE"); model != "" {
		return model
	}
	return ModelHaiku
}

// Request is a single completion request
type Request struct {
	Operation   string   // Short name used in logs and retry messages
	Model       string   // Empty means the caller's default model
	System      string   // Optional system prompt
	Prompt      string   // User prompt
	Temperature *float64 // Nil leaves the API default
	MaxTokens   int      // 0 means 4096
}

// Caller performs one completion and returns the response text.
// Supervisor is the production implementation; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, req Request) (string, error)
}

// Supervisor wraps the Anthropic client with retries, a circuit breaker,
// a concurrency limit and a request rate limit.
//
// The Supervisor's responsibilities are distributed across multiple files:
// - supervisor.go: Core struct, constructor and Call
// - retry.go: Circuit breaker and retry logic
// - structured.go: Schema-validated completions with feedback retries
// - consistency.go: Self-consistency sampling and refinement
// - critic.go: Patch critic
// - dependencies.go: Missing-package assessment
// - fixes.go: Fix generation prompt and response parsing
type Supervisor struct {
	client         *anthropic.Client
	model          string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter
	logger         *zap.Logger
}

var _ Caller = (*Supervisor)(nil)

// Config holds supervisor configuration
type Config struct {
	APIKey            string      // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model             string      // Default model (default: GetDefaultModel())
	Retry             RetryConfig // Retry configuration (uses defaults if not specified)
	RequestsPerMinute int         // 0 disables rate limiting
	Logger            *zap.Logger
}

// NewSupervisor creates a new AI supervisor
func NewSupervisor(cfg *Config) (*Supervisor, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	s := &Supervisor{
		client: &client,
		model:  model,
		retry:  retry,
		logger: logger.Named("ai"),
	}

	if retry.CircuitBreakerEnabled {
		s.circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout, s.logger)
		s.logger.Debug("circuit breaker initialized",
			zap.Int("failure_threshold", retry.FailureThreshold),
			zap.Int("success_threshold", retry.SuccessThreshold),
			zap.Duration("open_timeout", retry.OpenTimeout))
	}

	if retry.MaxConcurrentCalls > 0 {
		s.concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	if cfg.RequestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return s, nil
}

// Model returns the supervisor's default model
func (s *Supervisor) Model() string { return s.model }

// HealthCheck returns an error if the circuit breaker is open
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if s.circuitBreaker != nil {
		state, failures, _ := s.circuitBreaker.GetMetrics()
		if state == CircuitOpen {
			return fmt.Errorf("AI supervisor unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, s.retry.OpenTimeout)
		}
	}
	return nil
}

// Call makes one completion request with retry and circuit breaker protection
func (s *Supervisor) Call(ctx context.Context, req Request) (string, error) {
	startTime := time.Now()

	model := req.Model
	if model == "" {
		model = s.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	operation := req.Operation
	if operation == "" {
		operation = "completion"
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	var response *anthropic.Message
	err := s.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(attemptCtx); err != nil {
				return err
			}
		}
		resp, apiErr := s.client.Messages.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	s.logger.Debug("AI call completed",
		zap.String("operation", operation),
		zap.String("model", model),
		zap.Int64("input_tokens", response.Usage.InputTokens),
		zap.Int64("output_tokens", response.Usage.OutputTokens),
		zap.Duration("duration", time.Since(startTime)))

	return text.String(), nil
}
