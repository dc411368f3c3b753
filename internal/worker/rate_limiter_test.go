package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limiterWithRedis(t *testing.T, perMinute int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, "sendgrid", perMinute), mr
}

func TestWaitAllowsWithinBudget(t *testing.T) {
	limiter, _ := limiterWithRedis(t, 10)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, 4))
	require.NoError(t, limiter.Wait(ctx, 4))
	require.NoError(t, limiter.Wait(ctx, 2))
}

func TestWaitBlocksWhenExhausted(t *testing.T) {
	limiter, _ := limiterWithRedis(t, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, limiter.Wait(ctx, 5))

	err := limiter.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitClampsOversizedBatch(t *testing.T) {
	limiter, _ := limiterWithRedis(t, 3)

	// A batch bigger than the whole ceiling still makes progress.
	require.NoError(t, limiter.Wait(context.Background(), 50))
}

func TestWaitCounterKeyedByMinuteBucket(t *testing.T) {
	limiter, mr := limiterWithRedis(t, 5)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, 5))

	key := fmt.Sprintf("ratelimit:sendgrid:min:%d", time.Now().Unix()/60)
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "5", got)
	assert.Greater(t, mr.TTL(key), time.Duration(0))
}

func TestWaitSharedBudgetAcrossLimiters(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := NewRateLimiter(client, "mailgun", 6)
	b := NewRateLimiter(client, "mailgun", 6)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, a.Wait(ctx, 4))
	require.NoError(t, b.Wait(ctx, 2))

	// Both workers drained the shared minute budget.
	err := a.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalFallbackWithoutRedis(t *testing.T) {
	limiter := NewRateLimiter(nil, "smtp", 4)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, limiter.Wait(ctx, 4))
	err := limiter.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalFallbackConcurrentUse(t *testing.T) {
	limiter := NewRateLimiter(nil, "smtp", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Wait(ctx, 10))
		}()
	}
	wg.Wait()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Equal(t, 100, limiter.localCount)
}
