package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/buildfix/internal/types"
)

// EvaluationFunc produces a critic evaluation for one (file, patch) pair
type EvaluationFunc func(ctx context.Context) (*types.CriticEvaluation, error)

// CacheStats reports evaluation cache usage
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// EvaluationCache memoizes critic evaluations by (file path, patch text) for the
// lifetime of one resolution run. It is safe for concurrent use; concurrent
// lookups of the same key share a single critic call.
type EvaluationCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*types.CriticEvaluation
	flight  singleflight.Group

	hits   int64
	misses int64
}

type cacheKey struct {
	file  string
	patch string
}

// NewEvaluationCache creates an empty cache
func NewEvaluationCache() *EvaluationCache {
	return &EvaluationCache{entries: make(map[cacheKey]*types.CriticEvaluation)}
}

// Get returns the cached evaluation for (file, patch)
func (c *EvaluationCache) Get(file, patch string) (*types.CriticEvaluation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eval, ok := c.entries[cacheKey{file, patch}]
	return eval, ok
}

// Put stores an evaluation. Nil evaluations are not cached.
func (c *EvaluationCache) Put(file, patch string, eval *types.CriticEvaluation) {
	if eval == nil {
		return
	}
	c.mu.Lock()
	c.entries[cacheKey{file, patch}] = eval
	c.mu.Unlock()
}

// Evaluate returns the cached evaluation or computes it with fn.
// Errors are returned to the caller and never cached, so a later attempt may retry.
func (c *EvaluationCache) Evaluate(ctx context.Context, file, patch string, fn EvaluationFunc) (*types.CriticEvaluation, error) {
	if eval, ok := c.Get(file, patch); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return eval, nil
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	// NUL cannot appear in a path, so the flight key is unambiguous
	v, err, _ := c.flight.Do(file+"\x00"+patch, func() (interface{}, error) {
		if eval, ok := c.Get(file, patch); ok {
			return eval, nil
		}
		eval, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(file, patch, eval)
		return eval, nil
	})
	if err != nil {
		return nil, err
	}
	eval, _ := v.(*types.CriticEvaluation)
	return eval, nil
}

// Stats returns a snapshot of cache usage
func (c *EvaluationCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
