package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrStructuredExhausted is returned when no attempt produced a valid response
var ErrStructuredExhausted = errors.New("structured completion exhausted retries")

// DefaultStructuredAttempts bounds schema-validation retries
const DefaultStructuredAttempts = 3

// CompleteStructured asks for a JSON response, parses it into T and validates it.
// A parse or validation failure is fed back to the model in the next attempt.
// After maxAttempts failures it returns an error wrapping ErrStructuredExhausted;
// transport errors are returned immediately.
func CompleteStructured[T any](ctx context.Context, c Caller, req Request, validate func(*T) error, maxAttempts int) (*T, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultStructuredAttempts
	}

	basePrompt := req.Prompt
	var lastProblem string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastProblem != "" {
			req.Prompt = fmt.Sprintf(`%s

Your previous response could not be used: %s
Respond again with ONLY a valid JSON object matching the requested format.`, basePrompt, lastProblem)
		}

		text, err := c.Call(ctx, req)
		if err != nil {
			return nil, err
		}

		result, err := DecodeJSON[T](text)
		if err != nil {
			lastProblem = err.Error()
			continue
		}
		if validate != nil {
			if err := validate(&result); err != nil {
				lastProblem = fmt.Sprintf("validation failed: %v", err)
				continue
			}
		}
		return &result, nil
	}

	return nil, fmt.Errorf("%s: %w after %d attempts (last problem: %s)",
		req.Operation, ErrStructuredExhausted, maxAttempts, truncate(lastProblem, 300))
}
