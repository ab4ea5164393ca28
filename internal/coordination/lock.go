package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by AcquireLock when the key already has a holder.
var ErrLockHeld = errors.New("coordination: lock held")

// ErrNotHolder is returned by ReleaseLock when the caller's token no longer
// matches the stored holder — someone else's lock, or it already expired.
var ErrNotHolder = errors.New("coordination: caller is not the current holder")

// releaseScript deletes a key only if its current value matches the
// caller's token, the same get-and-delete-conditioned-on-holder pattern
// BaSui01-agentflow's llm/cache/prompt_cache.go uses for atomic counter
// updates, adapted here to a lock release instead of a hit count.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Lock is a held distributed lock. Token is the caller's private proof of
// ownership; it must be presented to Release.
type Lock struct {
	Key   string
	Token string
}

// AcquireLock attempts "set if absent with time-to-live" against keyName.
// On success it returns a Lock carrying a random token only this caller
// knows, so a later Release cannot be satisfied by a different holder that
// acquired the same key after this lock expired (the release-after-takeover
// race the queue and scheduler both need closed).
func (c *Client) AcquireLock(ctx context.Context, keyName string, ttl time.Duration) (*Lock, error) {
	fullKey := c.key("lock", keyName)
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("coordination: acquire lock %q: %w", keyName, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{Key: fullKey, Token: token}, nil
}

// ReleaseLock releases l only if its token is still the stored value.
func (c *Client) ReleaseLock(ctx context.Context, l *Lock) error {
	res, err := releaseScript.Run(ctx, c.rdb, []string{l.Key}, l.Token).Int64()
	if err != nil {
		return fmt.Errorf("coordination: release lock %q: %w", l.Key, err)
	}
	if res == 0 {
		return ErrNotHolder
	}
	return nil
}

// renewScript extends a lock's TTL only if its token still matches the
// stored value, the same ownership check releaseScript performs.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RenewLock extends l's TTL, used by long-running holders (the scheduler's
// per-schedule lock during dispatch) to avoid losing ownership mid-fire.
func (c *Client) RenewLock(ctx context.Context, l *Lock, ttl time.Duration) error {
	res, err := renewScript.Run(ctx, c.rdb, []string{l.Key}, l.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("coordination: renew lock %q: %w", l.Key, err)
	}
	if res == 0 {
		return ErrNotHolder
	}
	return nil
}

// LockHolder reports the opaque token currently holding keyName, or ("",
// false) if unheld. Used for diagnostics, not for correctness decisions.
func (c *Client) LockHolder(ctx context.Context, keyName string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, c.key("lock", keyName)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("coordination: lock holder %q: %w", keyName, err)
	}
	return val, true, nil
}
