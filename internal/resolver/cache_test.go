package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/steveyegge/buildfix/internal/types"
)

func TestEvaluationCache_HitAfterMiss(t *testing.T) {
	ctx := context.Background()
	cache := NewEvaluationCache()
	calls := 0
	fn := func(ctx context.Context) (*types.CriticEvaluation, error) {
		calls++
		return &types.CriticEvaluation{Summary: "adds import", Rating: 4}, nil
	}

	first, err := cache.Evaluate(ctx, "src/a.ts", "patch-1", fn)
	require.NoError(t, err)
	second, err := cache.Evaluate(ctx, "src/a.ts", "patch-1", fn)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CacheStats{Entries: 1, Hits: 1, Misses: 1}, cache.Stats())

	// Same patch text for another file is a different key
	_, err = cache.Evaluate(ctx, "src/b.ts", "patch-1", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestEvaluationCache_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	cache := NewEvaluationCache()
	fail := true
	fn := func(ctx context.Context) (*types.CriticEvaluation, error) {
		if fail {
			return nil, errors.New("oracle unavailable")
		}
		return &types.CriticEvaluation{Summary: "ok", Rating: 5}, nil
	}

	_, err := cache.Evaluate(ctx, "f", "p", fn)
	require.Error(t, err)
	_, ok := cache.Get("f", "p")
	assert.False(t, ok)

	fail = false
	eval, err := cache.Evaluate(ctx, "f", "p", fn)
	require.NoError(t, err)
	assert.Equal(t, 5, eval.Rating)
}

func TestEvaluationCache_PutIgnoresNil(t *testing.T) {
	cache := NewEvaluationCache()
	cache.Put("f", "p", nil)
	_, ok := cache.Get("f", "p")
	assert.False(t, ok)
	assert.Zero(t, cache.Stats().Entries)
}

func TestEvaluationCache_ConcurrentLookupsShareOneCall(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	cache := NewEvaluationCache()
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (*types.CriticEvaluation, error) {
		calls.Add(1)
		<-release
		return &types.CriticEvaluation{Summary: "shared", Rating: 3}, nil
	}

	var wg sync.WaitGroup
	results := make([]*types.CriticEvaluation, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eval, err := cache.Evaluate(ctx, "src/a.ts", "patch", fn)
			assert.NoError(t, err)
			results[i] = eval
		}()
	}

	// Let every goroutine reach the flight before the critic answers
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, eval := range results {
		require.NotNil(t, eval)
		assert.Equal(t, "shared", eval.Summary)
	}
}
