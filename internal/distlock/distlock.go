// Package distlock provides a Redis-backed distributed mutex used to elect a
// single leader among redundant processor instances sharing one journal.
package distlock

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock key only if its value still matches the
// caller's token, so a holder never releases a lock it no longer owns (e.g.
// after its TTL already expired and someone else acquired it).
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker implements distributed mutual exclusion using Redis SETNX with a
// TTL and a Lua-based conditional unlock.
type Locker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// New creates a Locker backed by the given Redis client.
func New(rdb *redis.Client) *Locker {
	return &Locker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain the named lock for ttl. On success it returns an
// unlock function that releases the lock; the function is idempotent and
// safe to call multiple times or defer unconditionally.
//
// It returns domain.ErrLockHeld if another holder currently owns the lock.
// Callers (e.g. the Trader's TradeMode/FullMode, run as a leader-elected
// singleton across redundant instances) should retry after a short backoff.
func (lk *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	rk := lockKey(key)

	ok, err := lk.rdb.SetNX(ctx, rk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("distlock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lk.unlockSc.Run(unlockCtx, lk.rdb, []string{rk}, token).Err()
	}

	return unlock, nil
}

// Extend refreshes the TTL of a held lock, used by long-running leaders to
// renew their hold before it expires. It returns domain.ErrLockHeld if the
// lock key no longer exists (its TTL already expired). It does not check
// which holder's token the key carries: a key that expired and was
// re-acquired by another holder is extended like the caller's own.
func (lk *Locker) Extend(ctx context.Context, key string, ttl time.Duration) error {
	rk := lockKey(key)
	ok, err := lk.rdb.Expire(ctx, rk, ttl).Result()
	if err != nil {
		return fmt.Errorf("distlock: extend %s: %w", key, err)
	}
	if !ok {
		return domain.ErrLockHeld
	}
	return nil
}
