package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"tagcal/internal/session"
	"tagcal/internal/staging"
	"tagcal/internal/store"
)

// DefaultSchedule runs a flush pass once a minute.
const DefaultSchedule = "@every 1m"

// purger is implemented by stores that reclaim expired cache rows.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler runs the Engine for every user with a work queue on a cron
// schedule. Passes never overlap.
type Scheduler struct {
	logger   *slog.Logger
	engine   *Engine
	backend  store.Backend
	parallel int

	cron *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// NewScheduler registers the flush job on spec (robfig/cron syntax,
// descriptors such as "@every 1m" included). parallel bounds how many users
// are flushed at once.
func NewScheduler(logger *slog.Logger, engine *Engine, backend store.Backend, spec string, parallel int) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if parallel < 1 {
		parallel = 1
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		logger:   logger,
		engine:   engine,
		backend:  backend,
		parallel: parallel,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid flush schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling. Jobs run with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.logger.Info("Starting flush scheduler.", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts scheduling and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Flush scheduler stopped.")
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Flush cycle failed", "error", err)
	}
}

// RunOnce flushes every user that currently has a work queue.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if p, ok := s.backend.(purger); ok {
		if n, err := p.PurgeExpired(ctx); err != nil {
			s.logger.Warn("Could not purge expired cache rows", "error", err)
		} else if n > 0 {
			s.logger.Debug("Purged expired cache rows", "count", n)
		}
	}

	users, err := s.backend.UsersWithCache(ctx, staging.IndexKey)
	if err != nil {
		return fmt.Errorf("failed to list users with pending edits: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, user := range users {
		g.Go(func() error {
			sess := session.FromBackend(user, s.backend)
			if _, err := s.engine.Flush(gctx, sess); err != nil {
				// One user's failure must not cancel the others.
				s.logger.Error("Flush failed for user", "user", user, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
