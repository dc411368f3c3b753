// Package worker runs the background side of the delivery subsystem: the
// scheduled-campaign poller and the provider send-rate governor.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
)

// RateLimiter enforces the provider's messages-per-minute ceiling. Counters
// live in Redis so several worker processes share one budget; without Redis
// it degrades to a process-local counter, which is still correct for a
// single-worker deployment.
type RateLimiter struct {
	redis       *redis.Client
	limitScript *redis.Script
	provider    string
	perMinute   int

	mu          sync.Mutex
	localBucket int64
	localCount  int
}

// Atomically checks the minute counter and increments only when the whole
// batch fits, so a GET/check/INCR race can never oversend.
const minuteLimitLuaScript = `
local key = KEYS[1]
local increment = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")
if current + increment > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, increment)
if newVal == increment then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`

// NewRateLimiter creates a limiter for one provider. redisClient may be nil.
func NewRateLimiter(redisClient *redis.Client, provider string, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 600
	}
	return &RateLimiter{
		redis:       redisClient,
		limitScript: redis.NewScript(minuteLimitLuaScript),
		provider:    provider,
		perMinute:   perMinute,
	}
}

// Wait blocks until n more messages fit under the per-minute ceiling or the
// context is done. n larger than the whole ceiling is clamped to one minute
// window's worth of waiting per attempt rather than rejected, since batch
// size and rate limit are configured independently.
func (l *RateLimiter) Wait(ctx context.Context, n int) error {
	if n > l.perMinute {
		n = l.perMinute
	}
	for {
		allowed, wait, err := l.tryAcquire(ctx, n)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		logger.Debug("rate limit reached, waiting",
			"provider", l.provider, "wait", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RateLimiter) tryAcquire(ctx context.Context, n int) (bool, time.Duration, error) {
	now := time.Now()
	if l.redis == nil {
		return l.tryAcquireLocal(now, n), untilNextMinute(now), nil
	}

	key := fmt.Sprintf("ratelimit:%s:min:%d", l.provider, now.Unix()/60)
	result, err := l.limitScript.Run(ctx, l.redis, []string{key}, n, l.perMinute, 120).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check: %w", err)
	}
	if result[0].(int64) == 1 {
		return true, 0, nil
	}
	return false, untilNextMinute(now), nil
}

func (l *RateLimiter) tryAcquireLocal(now time.Time, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := now.Unix() / 60
	if bucket != l.localBucket {
		l.localBucket = bucket
		l.localCount = 0
	}
	if l.localCount+n > l.perMinute {
		return false
	}
	l.localCount += n
	return true
}

func untilNextMinute(now time.Time) time.Duration {
	wait := time.Duration(60-now.Second()) * time.Second
	if wait <= 0 {
		wait = time.Second
	}
	return wait
}
