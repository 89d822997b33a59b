// Package ratelimit provides a Redis-backed sliding-window rate limiter used
// to cap outbound request and websocket-send rates against the exchange.
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// redisClient is the subset of *redis.Client the Limiter depends on, letting
// callers pass either a raw client or an already-configured wrapper's
// Underlying().
type redisClient interface {
	redis.Scripter
}

// Limiter implements a sliding-window rate limit using a Redis sorted set and
// an atomic Lua script, so the check-and-record step is race-free across any
// number of process instances sharing the same Redis.
type Limiter struct {
	rdb           redisClient
	slidingWindow *redis.Script
}

// New creates a Limiter backed by the given Redis client.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{
		rdb:           rdb,
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func limiterKey(key string) string {
	return "ratelimit:" + key
}

// Allow reports whether a request for key is permitted under a sliding window
// of the given size admitting at most limit requests. If allowed, the request
// is counted atomically as part of the same call.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()

	result, err := l.slidingWindow.Run(
		ctx,
		l.rdb,
		[]string{limiterKey(key)},
		now,
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("ratelimit: allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("ratelimit: allow %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, nil
}

// Wait blocks, polling at a fixed interval, until a request for key is
// permitted under the given limit/window, or the context is cancelled.
//
// This backs the outbound websocket send limiter (5 msg/s, one budget under
// the "ws_send" key shared by every exchange connection using the same
// Redis): callers call Wait before writing to the socket rather than
// buffering sends themselves.
func (l *Limiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ratelimit: wait %s: %w", key, ctx.Err())
		default:
		}

		allowed, err := l.Allow(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
