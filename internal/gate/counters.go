package gate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds counter operations; a slow counter store must not stall logins.
const opTimeout = 500 * time.Millisecond

// CounterStore keeps the windowed attempt counters and lockout flags. Counters
// are ephemeral: they expire with their window and survive nothing.
type CounterStore interface {
	// Incr bumps the counter, starting its expiry window on first increment,
	// and returns the new value.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Count returns the counter's current value without touching it; zero if
	// the counter does not exist.
	Count(ctx context.Context, key string) (int64, error)
	// TTL returns how long until the counter's window resets; zero if the
	// counter does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Reset removes the counter.
	Reset(ctx context.Context, key string) error
	// Lock sets a lockout flag that clears itself after d.
	Lock(ctx context.Context, key string, d time.Duration) error
	// Locked returns the remaining lockout, or zero if the key is not locked.
	Locked(ctx context.Context, key string) (time.Duration, error)
}

// RedisCounters implements CounterStore on Redis.
type RedisCounters struct {
	rdb *redis.Client
}

// NewRedisCounters returns a CounterStore backed by the given client.
func NewRedisCounters(rdb *redis.Client) *RedisCounters {
	return &RedisCounters{rdb: rdb}
}

func (c *RedisCounters) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX: only the first increment arms the window, so it never slides.
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCounters) Count(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (c *RedisCounters) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (c *RedisCounters) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisCounters) Lock(ctx context.Context, key string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rdb.Set(ctx, key, "1", d).Err()
}

func (c *RedisCounters) Locked(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
