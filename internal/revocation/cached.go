package revocation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fastOpTimeout = 500 * time.Millisecond
	keyPrefix     = "sv:revoked:"
)

// CachedLedger fronts a durable ledger with a Redis fast path. Writes go
// durable-first; the Redis key is best-effort and expires with the original
// credential, so a Redis restart only costs extra durable lookups.
type CachedLedger struct {
	durable Ledger
	rdb     *redis.Client
}

// NewCachedLedger wraps durable with a Redis fast path.
func NewCachedLedger(durable Ledger, rdb *redis.Client) *CachedLedger {
	return &CachedLedger{durable: durable, rdb: rdb}
}

// Add writes durably, then marks the fast path. A fast-path failure is logged
// and swallowed; correctness rests on the durable record.
func (l *CachedLedger) Add(ctx context.Context, e *Entry) error {
	if err := l.durable.Add(ctx, e); err != nil {
		return err
	}
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return nil // already past its natural expiry; nothing to fast-path
	}
	fastCtx, cancel := context.WithTimeout(ctx, fastOpTimeout)
	defer cancel()
	if err := l.rdb.Set(fastCtx, keyPrefix+e.Fingerprint, e.Reason, ttl).Err(); err != nil {
		log.Printf("revocation: fast-path set failed for %s: %v", e.SessionID, err)
	}
	return nil
}

// Contains checks the fast path first and falls back to the durable ledger on
// a miss or Redis failure, backfilling the fast path on a durable hit.
func (l *CachedLedger) Contains(ctx context.Context, fingerprint string) (bool, error) {
	fastCtx, cancel := context.WithTimeout(ctx, fastOpTimeout)
	n, err := l.rdb.Exists(fastCtx, keyPrefix+fingerprint).Result()
	cancel()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("revocation: fast-path lookup failed: %v", err)
	}
	hit, err := l.durable.Contains(ctx, fingerprint)
	if err != nil || !hit {
		return hit, err
	}
	backCtx, cancel := context.WithTimeout(ctx, fastOpTimeout)
	defer cancel()
	// TTL is unknown here; a short one is enough to absorb a burst of replays.
	_ = l.rdb.Set(backCtx, keyPrefix+fingerprint, "backfill", time.Hour).Err()
	return true, nil
}

// PurgeExpired delegates to the durable ledger; Redis keys expire on their own.
func (l *CachedLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return l.durable.PurgeExpired(ctx, now)
}
