package tags

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"tagcal/internal/session"
)

// PropCatalog is the property key holding the memoized catalog.
const PropCatalog = "catalog"

// Resolver produces a user's tag catalog: the defaults followed by the tags
// listed in the user's sheet, memoized until Invalidate.
type Resolver struct {
	logger *slog.Logger
	source SheetSource

	mu       sync.RWMutex
	defaults []string

	group singleflight.Group
}

// NewResolver creates a Resolver. An empty defaults list means DefaultTags.
func NewResolver(logger *slog.Logger, source SheetSource, defaults []string) *Resolver {
	r := &Resolver{logger: logger, source: source}
	r.SetDefaults(defaults)
	return r
}

// SetDefaults replaces the static default tags. Memoized catalogs are not
// touched; callers invalidate them as needed.
func (r *Resolver) SetDefaults(defaults []string) {
	norm := make([]string, 0, len(defaults))
	for _, t := range defaults {
		norm = append(norm, Normalize(t))
	}
	if len(Union(norm)) == 0 {
		norm = DefaultTags
	}
	r.mu.Lock()
	r.defaults = Union(norm)
	r.mu.Unlock()
}

// Defaults returns a copy of the static default tags.
func (r *Resolver) Defaults() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.defaults...)
}

// Resolve returns the user's catalog. It never fails: when the sheet cannot
// be read the defaults are returned and nothing is memoized.
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session) []string {
	if cached, ok := r.memoized(ctx, sess); ok {
		return cached
	}

	v, _, _ := r.group.Do(sess.User, func() (any, error) {
		catalog, _ := r.load(ctx, sess)
		return catalog, nil
	})
	return append([]string(nil), v.([]string)...)
}

// Refresh drops the memo and reloads the catalog. The returned error
// reports why the sheet could not be read; the catalog is then the
// defaults and is still usable.
func (r *Resolver) Refresh(ctx context.Context, sess *session.Session) ([]string, error) {
	if err := r.Invalidate(ctx, sess); err != nil {
		return r.Defaults(), fmt.Errorf("failed to invalidate catalog: %w", err)
	}
	return r.load(ctx, sess)
}

func (r *Resolver) memoized(ctx context.Context, sess *session.Session) ([]string, bool) {
	raw, ok, err := sess.GetProperty(ctx, PropCatalog)
	if err != nil {
		r.logger.Warn("Could not read memoized catalog", "user", sess.User, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		r.logger.Warn("Discarding malformed memoized catalog", "user", sess.User, "error", err)
		return nil, false
	}
	return list, true
}

func (r *Resolver) load(ctx context.Context, sess *session.Session) ([]string, error) {
	defaults := r.Defaults()

	cfg := LoadSourceConfig(ctx, sess)
	if err := cfg.CheckTagSource(); err != nil {
		r.logger.Debug("Using default tags", "user", sess.User, "reason", err)
		return defaults, nil
	}
	if r.source == nil {
		r.logger.Debug("No sheet source available, using defaults", "user", sess.User)
		return defaults, nil
	}

	values, err := r.source.ReadColumn(ctx, cfg.SheetID, cfg.SheetName, cfg.TagColumn)
	if err != nil {
		r.logger.Warn("Could not read tags from sheet, using defaults", "user", sess.User, "sheetId", cfg.SheetID, "error", err)
		return defaults, fmt.Errorf("failed to read tag sheet: %w", err)
	}

	sheetTags := make([]string, 0, len(values))
	for _, v := range values {
		sheetTags = append(sheetTags, Normalize(v))
	}
	catalog := []string(Union(defaults, sheetTags))

	data, err := json.Marshal(catalog)
	if err == nil {
		err = sess.SetProperty(ctx, PropCatalog, string(data))
	}
	if err != nil {
		r.logger.Warn("Could not memoize catalog", "user", sess.User, "error", err)
	}
	r.logger.Info("Resolved tag catalog", "user", sess.User, "count", len(catalog))
	return catalog, nil
}

// Invalidate drops the user's memoized catalog. The sheet is untouched.
func (r *Resolver) Invalidate(ctx context.Context, sess *session.Session) error {
	return sess.DeleteProperty(ctx, PropCatalog)
}
