package ai

import (
	"context"
	"sync"
)

// fakeCaller answers requests with a user-supplied function and records them
type fakeCaller struct {
	mu       sync.Mutex
	requests []Request
	respond  func(n int, req Request) (string, error)
}

func (f *fakeCaller) Call(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.respond(n, req)
}

func (f *fakeCaller) byOperation(op string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, r := range f.requests {
		if r.Operation == op {
			out = append(out, r)
		}
	}
	return out
}

// scripted returns the responses in order, repeating the last one
func scripted(responses ...string) func(int, Request) (string, error) {
	return func(n int, _ Request) (string, error) {
		if n >= len(responses) {
			n = len(responses) - 1
		}
		return responses[n], nil
	}
}
