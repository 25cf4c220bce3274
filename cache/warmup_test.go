package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingLoader(calls *int32) LoaderFunc {
	return func(ctx context.Context, key string) (interface{}, error) {
		atomic.AddInt32(calls, 1)
		return "loaded:" + key, nil
	}
}

func TestWarmup_PopulatesCache(t *testing.T) {
	c, _ := setupCoordinator(t, nil)
	ctx := context.Background()

	var calls int32
	keys := []string{"k1", "k2", "k3"}
	require.NoError(t, c.Warmup(ctx, keys, countingLoader(&calls)))

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	for _, key := range keys {
		value, found := c.Get(ctx, key)
		require.True(t, found, key)
		assert.Equal(t, "loaded:"+key, value)
	}
}

func TestWarmup_Idempotent(t *testing.T) {
	c, _ := setupCoordinator(t, nil)
	ctx := context.Background()

	var calls int32
	loader := countingLoader(&calls)

	require.NoError(t, c.Warmup(ctx, []string{"k1"}, loader))
	require.NoError(t, c.Warmup(ctx, []string{"k1"}, loader))

	// The second run sees k1 cached and skips the loader entirely.
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWarmup_LoaderFailureIsIsolated(t *testing.T) {
	c, _ := setupCoordinator(t, nil)
	ctx := context.Background()

	loader := func(ctx context.Context, key string) (interface{}, error) {
		if key == "bad" {
			return nil, assert.AnError
		}
		return "ok", nil
	}

	require.NoError(t, c.Warmup(ctx, []string{"good1", "bad", "good2"}, loader))

	_, found := c.Get(ctx, "good1")
	assert.True(t, found)
	_, found = c.Get(ctx, "good2")
	assert.True(t, found)
	_, found = c.Get(ctx, "bad")
	assert.False(t, found)
}

func TestWarmup_BatchConcurrencyBound(t *testing.T) {
	c, _ := setupCoordinator(t, nil)
	ctx := context.Background()

	var inFlight, peak int32
	loader := func(ctx context.Context, key string) (interface{}, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "v", nil
	}

	keys := make([]string, 9)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}

	require.NoError(t, c.Warmup(ctx, keys, loader, WithBatchSize(3)))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestWarmup_ContextCancellation(t *testing.T) {
	c, _ := setupCoordinator(t, nil)

	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	loader := func(ctx context.Context, key string) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
		}
		return "v", nil
	}

	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}

	err := c.Warmup(ctx, keys, loader, WithBatchSize(1))
	require.Error(t, err)
	// Cancellation stops between batches, well short of all 20 keys.
	assert.Less(t, atomic.LoadInt32(&calls), int32(20))
}

func TestWarmup_EmptyKeys(t *testing.T) {
	c, _ := setupCoordinator(t, nil)

	var calls int32
	require.NoError(t, c.Warmup(context.Background(), nil, countingLoader(&calls)))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestScheduleWarmup(t *testing.T) {
	c, _ := setupCoordinator(t, nil)

	t.Run("invalid spec", func(t *testing.T) {
		_, err := c.ScheduleWarmup("not a cron spec", []string{"k"}, countingLoader(new(int32)))
		assert.Error(t, err)
	})

	t.Run("recurring run", func(t *testing.T) {
		var calls int32
		loader := func(ctx context.Context, key string) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			// Never cache, so every scheduled run invokes the loader again.
			return nil, assert.AnError
		}

		id, err := c.ScheduleWarmup("@every 50ms", []string{"k"}, loader)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			return atomic.LoadInt32(&calls) >= 2
		}, 2*time.Second, 10*time.Millisecond)

		c.UnscheduleWarmup(id)
		settled := atomic.LoadInt32(&calls)
		time.Sleep(150 * time.Millisecond)
		assert.LessOrEqual(t, atomic.LoadInt32(&calls), settled+1)
	})
}
