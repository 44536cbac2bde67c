// Package store persists per-user state: a short-lived keyed cache used for
// staged tag edits and the work queue, and a durable property store used for
// user configuration and the memoized tag catalog.
package store

import (
	"context"
	"time"
)

// Cache is a keyed store whose values expire after a per-write TTL.
// There is no cross-key transactionality.
type Cache interface {
	GetCache(ctx context.Context, user, key string) (string, bool, error)
	PutCache(ctx context.Context, user, key, value string, ttl time.Duration) error
	RemoveCache(ctx context.Context, user, key string) error
}

// Properties is a durable per-user key/value store.
type Properties interface {
	GetProperty(ctx context.Context, user, key string) (string, bool, error)
	SetProperty(ctx context.Context, user, key, value string) error
	DeleteProperty(ctx context.Context, user, key string) error
}

// Backend is a store providing both halves plus the cross-user queries used
// by background jobs.
type Backend interface {
	Cache
	Properties
	// UsersWithCache lists users holding a live cache value under key.
	UsersWithCache(ctx context.Context, key string) ([]string, error)
	// DeletePropertyAll removes key from every user's properties.
	DeletePropertyAll(ctx context.Context, key string) error
	Close() error
}
