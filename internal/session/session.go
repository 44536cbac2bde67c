// Package session carries the per-user context every component operates in.
package session

import (
	"context"
	"time"

	"tagcal/internal/store"
)

// Session scopes the shared stores to one user. Nothing is shared across
// users: every read and write is namespaced by User.
type Session struct {
	User  string
	cache store.Cache
	props store.Properties
}

// New returns a session for user over the given stores.
func New(user string, cache store.Cache, props store.Properties) *Session {
	return &Session{User: user, cache: cache, props: props}
}

// FromBackend returns a session whose cache and properties both live in b.
func FromBackend(user string, b store.Backend) *Session {
	return New(user, b, b)
}

// GetCache returns the user's live value under key.
func (s *Session) GetCache(ctx context.Context, key string) (string, bool, error) {
	return s.cache.GetCache(ctx, s.User, key)
}

// PutCache stores value under key until ttl elapses.
func (s *Session) PutCache(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.cache.PutCache(ctx, s.User, key, value, ttl)
}

// RemoveCache deletes key from the cache.
func (s *Session) RemoveCache(ctx context.Context, key string) error {
	return s.cache.RemoveCache(ctx, s.User, key)
}

// GetProperty returns the user's property value.
func (s *Session) GetProperty(ctx context.Context, key string) (string, bool, error) {
	return s.props.GetProperty(ctx, s.User, key)
}

// SetProperty stores a property value.
func (s *Session) SetProperty(ctx context.Context, key, value string) error {
	return s.props.SetProperty(ctx, s.User, key, value)
}

// DeleteProperty removes a property.
func (s *Session) DeleteProperty(ctx context.Context, key string) error {
	return s.props.DeleteProperty(ctx, s.User, key)
}

// Property returns key's value or "" when unset or unreadable.
func (s *Session) Property(ctx context.Context, key string) string {
	v, ok, err := s.GetProperty(ctx, key)
	if err != nil || !ok {
		return ""
	}
	return v
}
