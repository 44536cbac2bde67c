package tags

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"tagcal/internal/session"
	"tagcal/internal/store"
)

// fakeSheet serves columns keyed by column letter.
type fakeSheet struct {
	mu      sync.Mutex
	columns map[string][]string
	err     error
	reads   int
}

func (f *fakeSheet) ReadColumn(_ context.Context, _, _, column string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.columns[column], nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSession(t *testing.T) *session.Session {
	t.Helper()
	return session.FromBackend("alice", store.NewMemoryStore(nil))
}

func configure(t *testing.T, sess *session.Session, cfg SourceConfig) {
	t.Helper()
	if err := SaveSourceConfig(context.Background(), sess, cfg); err != nil {
		t.Fatalf("SaveSourceConfig: %v", err)
	}
}
