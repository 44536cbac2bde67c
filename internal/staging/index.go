package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"tagcal/internal/session"
)

// IndexKey is the cache key of a user's dirty index.
const IndexKey = "dirty-index"

// Status is the flush state of a staged key.
type Status string

const (
	Dirty Status = "dirty"
	Clean Status = "clean"
)

// IndexRecord is one work-queue entry. The owning calendar is stored per
// key so a flush never depends on whichever calendar was opened last.
type IndexRecord struct {
	Status     Status `json:"status"`
	CalendarID string `json:"calendarId,omitempty"`
	EventID    string `json:"eventId,omitempty"`
	Seq        int64  `json:"seq"`
}

// Index maps staging keys to their flush state.
type Index map[Key]IndexRecord

// Keys returns the keys in insertion order.
func (idx Index) Keys() []Key {
	keys := make([]Key, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := idx[keys[i]], idx[keys[j]]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return keys[i] < keys[j]
	})
	return keys
}

// DirtyKeys returns the keys whose status is Dirty, in insertion order.
func (idx Index) DirtyKeys() []Key {
	var out []Key
	for _, k := range idx.Keys() {
		if idx[k].Status == Dirty {
			out = append(out, k)
		}
	}
	return out
}

func (idx Index) nextSeq() int64 {
	var max int64
	for _, r := range idx {
		if r.Seq > max {
			max = r.Seq
		}
	}
	return max + 1
}

// DirtyIndex persists a user's Index in the cache with its own TTL.
type DirtyIndex struct {
	logger *slog.Logger
	ttl    time.Duration
}

// NewDirtyIndex creates a DirtyIndex whose value lives for ttl after each write.
func NewDirtyIndex(logger *slog.Logger, ttl time.Duration) *DirtyIndex {
	return &DirtyIndex{logger: logger, ttl: ttl}
}

// Load reads the user's index. Missing, expired and malformed values all
// read as an empty index.
func (d *DirtyIndex) Load(ctx context.Context, sess *session.Session) (Index, error) {
	raw, ok, err := sess.GetCache(ctx, IndexKey)
	if err != nil {
		return Index{}, fmt.Errorf("failed to read dirty index: %w", err)
	}
	if !ok {
		return Index{}, nil
	}
	idx := Index{}
	if err := json.Unmarshal([]byte(raw), &idx); err != nil {
		d.logger.Warn("Discarding malformed dirty index", "user", sess.User, "error", err)
		return Index{}, nil
	}
	return idx, nil
}

// Save writes idx back, renewing its TTL. An empty index is removed.
func (d *DirtyIndex) Save(ctx context.Context, sess *session.Session, idx Index) error {
	if len(idx) == 0 {
		return sess.RemoveCache(ctx, IndexKey)
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to marshal dirty index: %w", err)
	}
	if err := sess.PutCache(ctx, IndexKey, string(data), d.ttl); err != nil {
		return fmt.Errorf("failed to write dirty index: %w", err)
	}
	return nil
}

// Mark sets key's status, keeping its original position in the queue.
func (d *DirtyIndex) Mark(ctx context.Context, sess *session.Session, key Key, status Status, rec Record) error {
	idx, err := d.Load(ctx, sess)
	if err != nil {
		return err
	}
	next := IndexRecord{Status: status, CalendarID: rec.CalendarID, EventID: rec.EventID}
	if prev, ok := idx[key]; ok {
		next.Seq = prev.Seq
	} else {
		next.Seq = idx.nextSeq()
	}
	idx[key] = next
	return d.Save(ctx, sess, idx)
}

// Retire removes keys from the user's index together with any Clean
// records. The index is reloaded first so keys marked during a flush pass
// survive. Nothing is written when nothing was removed.
func (d *DirtyIndex) Retire(ctx context.Context, sess *session.Session, keys []Key) error {
	idx, err := d.Load(ctx, sess)
	if err != nil {
		return err
	}
	before := len(idx)
	for _, k := range keys {
		delete(idx, k)
	}
	for k, rec := range idx {
		if rec.Status != Dirty {
			delete(idx, k)
		}
	}
	if len(idx) == before {
		return nil
	}
	return d.Save(ctx, sess, idx)
}
