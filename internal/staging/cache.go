package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tagcal/internal/session"
	"tagcal/internal/tags"
)

// ErrKeyMissing is returned when a key has no live staged entry.
var ErrKeyMissing = errors.New("staging key missing or expired")

// Cache is the sliding-expiration buffer of staged tag sets.
type Cache struct {
	logger *slog.Logger
	ttl    time.Duration
	index  *DirtyIndex
}

// NewCache creates a Cache whose entries expire ttl after their last write.
func NewCache(logger *slog.Logger, ttl time.Duration, index *DirtyIndex) *Cache {
	return &Cache{logger: logger, ttl: ttl, index: index}
}

// Index returns the dirty index the cache marks on toggle.
func (c *Cache) Index() *DirtyIndex { return c.index }

// Get reads key. Read errors are logged and reported as absent.
func (c *Cache) Get(ctx context.Context, sess *session.Session, key Key) Entry {
	raw, ok, err := sess.GetCache(ctx, string(key))
	if err != nil {
		c.logger.Warn("Could not read staged entry", "user", sess.User, "key", key, "error", err)
		return Entry{Kind: EntryAbsent}
	}
	if !ok {
		return Entry{Kind: EntryAbsent}
	}
	e := decodeEntry(raw)
	if e.Kind == EntryMalformed {
		c.logger.Warn("Staged entry is malformed", "user", sess.User, "key", key)
	}
	return e
}

// Put overwrites key with rec and renews its TTL.
func (c *Cache) Put(ctx context.Context, sess *session.Session, key Key, rec Record) error {
	if rec.Tags == nil {
		rec.Tags = tags.Set{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal staged entry: %w", err)
	}
	if err := sess.PutCache(ctx, string(key), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	return nil
}

// Remove drops key's staged entry.
func (c *Cache) Remove(ctx context.Context, sess *session.Session, key Key) error {
	return sess.RemoveCache(ctx, string(key))
}

// Toggle flips tag's membership in key's entry, renews the entry and marks
// the key Dirty. It returns ErrKeyMissing when there is nothing to toggle.
func (c *Cache) Toggle(ctx context.Context, sess *session.Session, key Key, tag string) (Record, error) {
	e := c.Get(ctx, sess, key)
	if !e.Ok() {
		return Record{}, fmt.Errorf("%w: %s (%s)", ErrKeyMissing, key, e.Kind)
	}
	rec := e.Record
	rec.Tags = rec.Tags.Toggle(tag)
	if err := c.Put(ctx, sess, key, rec); err != nil {
		return Record{}, err
	}
	if err := c.index.Mark(ctx, sess, key, Dirty, rec); err != nil {
		return Record{}, fmt.Errorf("failed to mark %s dirty: %w", key, err)
	}
	c.logger.Debug("Toggled tag", "user", sess.User, "key", key, "tag", tag, "count", len(rec.Tags))
	return rec, nil
}
