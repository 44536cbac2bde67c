package panel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tagcal/internal/models"
	"tagcal/internal/session"
	"tagcal/internal/staging"
	"tagcal/internal/store"
	"tagcal/internal/tags"
)

type fakeRemote struct {
	mu     sync.Mutex
	events map[string]*models.Event
	err    error
	gets   int
}

func (f *fakeRemote) GetEvent(_ context.Context, calendarID, eventID string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	ev, ok := f.events[calendarID+"/"+eventID]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeRemote) UpdateEvent(_ context.Context, event *models.Event) (*models.Event, error) {
	return nil, errors.New("not used by the panel")
}

type fakeSheet struct {
	columns map[string][]string
	err     error
}

func (f *fakeSheet) ReadColumn(_ context.Context, _, _, column string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.columns[column], nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	ctl     *Controller
	remote  *fakeRemote
	sheet   *fakeSheet
	cache   *staging.Cache
	backend *store.MemoryStore
	sess    *session.Session
	clock   *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := store.NewMemoryStore(clock.Now)
	sheet := &fakeSheet{columns: map[string][]string{
		"A": {"Sales"},
		"B": {"example.com"},
	}}
	remote := &fakeRemote{events: map[string]*models.Event{}}
	cache := staging.NewCache(logger, 120*time.Second, staging.NewDirtyIndex(logger, 90*time.Second))
	ctl := NewController(logger, remote,
		tags.NewResolver(logger, sheet, []string{"#Work", "#Personal"}),
		tags.NewDeriver(logger, sheet),
		cache)
	return &harness{
		ctl:     ctl,
		remote:  remote,
		sheet:   sheet,
		cache:   cache,
		backend: backend,
		sess:    session.FromBackend("alice", backend),
		clock:   clock,
	}
}

func (h *harness) configureSheet(t *testing.T) {
	t.Helper()
	_, err := h.ctl.Dispatch(context.Background(), h.sess, SaveConfig{SourceConfig: tags.SourceConfig{
		SheetID: "s1", SheetName: "Tags", TagColumn: "A", DomainColumn: "B",
	}})
	if err != nil {
		t.Fatalf("save config: %v", err)
	}
}
