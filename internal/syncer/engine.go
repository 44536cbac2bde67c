package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tagcal/internal/models"
	"tagcal/internal/session"
	"tagcal/internal/staging"
	"tagcal/internal/tags"
)

// Report summarizes one flush pass.
type Report struct {
	Flushed int // written to the remote store and retired
	Failed  int // left dirty for the next pass
	Skipped int // drafts and keys with no live staged entry
}

// Engine writes dirty staged tag sets back to the remote calendar.
type Engine struct {
	logger *slog.Logger
	remote models.RemoteStore
	cache  *staging.Cache
	index  *staging.DirtyIndex
	dryRun bool
}

// NewEngine creates an Engine. In dry-run mode nothing is written and no
// staged state changes.
func NewEngine(logger *slog.Logger, remote models.RemoteStore, cache *staging.Cache, dryRun bool) *Engine {
	return &Engine{
		logger: logger,
		remote: remote,
		cache:  cache,
		index:  cache.Index(),
		dryRun: dryRun,
	}
}

var errNoTarget = errors.New("no calendar for key")

// Flush performs one pass over the user's dirty keys. A failing key never
// stops the pass; it stays dirty and is counted in the report. Flushed keys
// and keys without a live staged entry leave the work queue.
func (e *Engine) Flush(ctx context.Context, sess *session.Session) (Report, error) {
	var report Report

	idx, err := e.index.Load(ctx, sess)
	if err != nil {
		return report, err
	}
	dirty := idx.DirtyKeys()
	if len(dirty) == 0 {
		if len(idx) > 0 && !e.dryRun {
			return report, e.retire(ctx, sess, nil)
		}
		return report, nil
	}

	e.logger.Info("Starting flush pass.", "user", sess.User, "dirty", len(dirty))
	lastCalendar := sess.Property(ctx, staging.PropLastCalendar)

	var retired []staging.Key
	for _, key := range dirty {
		entry := e.cache.Get(ctx, sess, key)
		if !entry.Ok() {
			e.logger.Debug("No live staged entry, dropping from queue", "user", sess.User, "key", key, "entry", entry.Kind)
			retired = append(retired, key)
			report.Skipped++
			continue
		}

		if key.IsDraft() {
			e.logger.Debug("Unsaved event, nothing to flush", "user", sess.User, "key", key)
			report.Skipped++
			continue
		}

		calendarID, eventID, err := target(key, idx[key], entry.Record, lastCalendar)
		if err != nil {
			e.logger.Error("Failed to resolve flush target", "user", sess.User, "key", key, "error", err)
			report.Failed++
			continue
		}

		if e.dryRun {
			e.logger.Info("[DRY RUN] Would write tags", "calendarID", calendarID, "eventID", eventID, "tags", entry.Record.Tags)
			report.Skipped++
			continue
		}

		if err := e.flushKey(ctx, calendarID, eventID, entry.Record.Tags); err != nil {
			e.logger.Error("Failed to flush event", "user", sess.User, "key", key, "eventID", eventID, "error", err)
			report.Failed++
			// Continue with the next key even if one fails.
			continue
		}

		if err := e.cache.Remove(ctx, sess, key); err != nil {
			e.logger.Warn("Could not evict flushed entry", "user", sess.User, "key", key, "error", err)
		}
		retired = append(retired, key)
		report.Flushed++
	}

	if !e.dryRun {
		if err := e.retire(ctx, sess, retired); err != nil {
			return report, err
		}
	}

	e.logger.Info("Flush pass finished.", "user", sess.User, "flushed", report.Flushed, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

func (e *Engine) retire(ctx context.Context, sess *session.Session, keys []staging.Key) error {
	if err := e.index.Retire(ctx, sess, keys); err != nil {
		return fmt.Errorf("failed to save dirty index: %w", err)
	}
	return nil
}

// flushKey overwrites the event's tag payload with staged.
func (e *Engine) flushKey(ctx context.Context, calendarID, eventID string, staged tags.Set) error {
	event, err := e.remote.GetEvent(ctx, calendarID, eventID)
	if err != nil {
		return err
	}
	event.CalendarID, event.ID = calendarID, eventID
	event.SetPrivate(tags.PrivateKey, tags.EncodePayload(staged))

	if _, err := e.remote.UpdateEvent(ctx, event); err != nil {
		return err
	}
	return nil
}

// target picks the calendar and event a key flushes to: the work-queue
// record first, then the staged record, then the key itself. The shared
// last-calendar value is only a fallback for the calendar.
func target(key staging.Key, rec staging.IndexRecord, staged staging.Record, lastCalendar string) (string, string, error) {
	calendarID, eventID := rec.CalendarID, rec.EventID
	if calendarID == "" {
		calendarID = staged.CalendarID
	}
	if eventID == "" {
		eventID = staged.EventID
	}
	if keyCal, keyEvent, ok := key.Target(); ok {
		if calendarID == "" {
			calendarID = keyCal
		}
		if eventID == "" {
			eventID = keyEvent
		}
	}
	if calendarID == "" {
		calendarID = lastCalendar
	}
	if calendarID == "" || eventID == "" {
		return "", "", fmt.Errorf("%w %s", errNoTarget, key)
	}
	return calendarID, eventID, nil
}
