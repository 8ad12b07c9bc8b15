package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another instance owns the lock.
var ErrLockHeld = errors.New("redis: lock held by another instance")

// ErrLockLost is returned by Refresh when the lock expired or was taken.
var ErrLockLost = errors.New("redis: lock lost")

// Deletes or extends the key only while it still carries our token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LeaderLock guarantees one engine writes the log at a time.
type LeaderLock struct {
	rdb       *redis.Client
	key       string
	token     string
	ttl       time.Duration
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

func NewLeaderLock(c *Client, name string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{
		rdb:       c.rdb,
		key:       "plp:lock:" + name,
		token:     uuid.NewString(),
		ttl:       ttl,
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

// Acquire takes the lock or returns ErrLockHeld.
func (l *LeaderLock) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Refresh extends the TTL; ErrLockLost means another instance may now run.
func (l *LeaderLock) Refresh(ctx context.Context) error {
	n, err := l.refreshSc.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Keep refreshes at a third of the TTL until ctx is done. It returns
// ErrLockLost as soon as ownership is gone.
func (l *LeaderLock) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				return err
			}
		}
	}
}

// Release drops the lock if we still hold it. Safe to call more than once.
func (l *LeaderLock) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.unlockSc.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
