package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tagcal/internal/models"
	"tagcal/internal/session"
	"tagcal/internal/staging"
	"tagcal/internal/store"
)

// fakeRemote is an in-memory models.RemoteStore.
type fakeRemote struct {
	mu      sync.Mutex
	events  map[string]*models.Event
	failing map[string]bool
	updates int
	// onUpdate runs after a successful update, outside the lock.
	onUpdate func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{events: map[string]*models.Event{}, failing: map[string]bool{}}
}

func (f *fakeRemote) add(calendarID, eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[calendarID+"/"+eventID] = &models.Event{ID: eventID, CalendarID: calendarID, Private: map[string]string{"other": "kept"}}
}

func (f *fakeRemote) GetEvent(_ context.Context, calendarID, eventID string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[calendarID+"/"+eventID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", eventID, models.ErrEventNotFound)
	}
	cp := *ev
	cp.Private = map[string]string{}
	for k, v := range ev.Private {
		cp.Private[k] = v
	}
	return &cp, nil
}

func (f *fakeRemote) UpdateEvent(_ context.Context, event *models.Event) (*models.Event, error) {
	f.mu.Lock()
	if f.failing[event.ID] {
		f.mu.Unlock()
		return nil, errors.New("backend unavailable")
	}
	f.updates++
	f.events[event.CalendarID+"/"+event.ID] = event
	hook := f.onUpdate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return event, nil
}

func (f *fakeRemote) payload(calendarID, eventID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.events[calendarID+"/"+eventID]; ok {
		return ev.Private["tags"]
	}
	return ""
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	backend *store.MemoryStore
	remote  *fakeRemote
	cache   *staging.Cache
	engine  *Engine
	clock   *fakeClock
	logger  *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := store.NewMemoryStore(clock.Now)
	cache := staging.NewCache(logger, 120*time.Second, staging.NewDirtyIndex(logger, 90*time.Second))
	remote := newFakeRemote()
	return &harness{
		backend: backend,
		remote:  remote,
		cache:   cache,
		engine:  NewEngine(logger, remote, cache, false),
		clock:   clock,
		logger:  logger,
	}
}

func (h *harness) session(user string) *session.Session {
	return session.FromBackend(user, h.backend)
}
