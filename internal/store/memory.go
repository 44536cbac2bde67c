package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memKey struct {
	user string
	key  string
}

type memValue struct {
	value   string
	expires time.Time
}

// MemoryStore is an in-process Backend. It is used by tests and by `serve`
// when no database path is configured.
type MemoryStore struct {
	mu    sync.Mutex
	cache map[memKey]memValue
	props map[memKey]string
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		cache: make(map[memKey]memValue),
		props: make(map[memKey]string),
		now:   now,
	}
}

// GetCache returns the live value under key.
func (m *MemoryStore) GetCache(_ context.Context, user, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{user, key}
	v, ok := m.cache[k]
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(v.expires) {
		delete(m.cache, k)
		return "", false, nil
	}
	return v.value, true, nil
}

// PutCache stores value under key until ttl elapses.
func (m *MemoryStore) PutCache(_ context.Context, user, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[memKey{user, key}] = memValue{value: value, expires: m.now().Add(ttl)}
	return nil
}

// RemoveCache deletes key from the cache.
func (m *MemoryStore) RemoveCache(_ context.Context, user, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, memKey{user, key})
	return nil
}

// GetProperty returns the stored property value.
func (m *MemoryStore) GetProperty(_ context.Context, user, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.props[memKey{user, key}]
	return v, ok, nil
}

// SetProperty stores a property value.
func (m *MemoryStore) SetProperty(_ context.Context, user, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[memKey{user, key}] = value
	return nil
}

// DeleteProperty removes a property.
func (m *MemoryStore) DeleteProperty(_ context.Context, user, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.props, memKey{user, key})
	return nil
}

// UsersWithCache lists, sorted, the users holding a live value under key.
func (m *MemoryStore) UsersWithCache(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var users []string
	for k, v := range m.cache {
		if k.key == key && now.Before(v.expires) {
			users = append(users, k.user)
		}
	}
	sort.Strings(users)
	return users, nil
}

// DeletePropertyAll removes key from every user.
func (m *MemoryStore) DeletePropertyAll(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.props {
		if k.key == key {
			delete(m.props, k)
		}
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
