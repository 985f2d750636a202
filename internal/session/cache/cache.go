// Package cache is the fast, ephemeral projection of active sessions.
//
// Entries live in Redis with a TTL equal to the inactivity timeout and are
// rewritten on every touch. A missing entry for a session the durable store
// still marks active means the inactivity window elapsed; the durable row's
// last activity settles whether it was idle-out or cache loss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds cache operations; a slow cache must not stall request validation.
const opTimeout = 500 * time.Millisecond

const keyPrefix = "sv:session:"

// Entry is the cached projection of a session.
type Entry struct {
	SessionID   string    `json:"sid"`
	IdentityID  string    `json:"iid"`
	FamilyID    string    `json:"fid"`
	Fingerprint string    `json:"fp"`
	ExpiresAt   time.Time `json:"exp"`
}

// Cache stores session projections in Redis.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a Cache whose entries expire after ttl (the inactivity timeout).
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get returns the cached entry, or nil on a miss.
func (c *Cache) Get(ctx context.Context, sessionID string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := c.rdb.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// A corrupt entry is indistinguishable from a miss; the durable store decides.
		return nil, nil
	}
	return &e, nil
}

// Put writes the entry with the inactivity TTL. Called on create, rotate, and touch.
func (c *Cache) Put(ctx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ttl := c.ttl
	if remaining := time.Until(e.ExpiresAt); remaining > 0 && remaining < ttl {
		// Never cache past the absolute expiry.
		ttl = remaining
	}
	return c.rdb.Set(ctx, keyPrefix+e.SessionID, raw, ttl).Err()
}

// Del removes the entry. Called on every revocation path.
func (c *Cache) Del(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rdb.Del(ctx, keyPrefix+sessionID).Err()
}

// Ping verifies Redis connectivity, for readiness checks.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
