package panel

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

var (
	// ErrKeyMissing means the panel referenced a key with no staged entry.
	ErrKeyMissing = staging.ErrKeyMissing
	// ErrContextMissing means a command lacked the event context it needs.
	ErrContextMissing = errors.New("event context missing")
	// ErrInvalidTag means a toggle named a blank tag.
	ErrInvalidTag = errors.New("invalid tag")
	// ErrConfigSave means the configuration could not be stored.
	ErrConfigSave = errors.New("could not save configuration")
	// ErrUnknownCommand is returned for a nil command.
	ErrUnknownCommand = errors.New("unknown command")
)

type handler func(ctx context.Context, sess *session.Session, cmd Command) (State, error)

// Controller seeds, reads and edits staged tag state on behalf of the panel.
type Controller struct {
	logger   *slog.Logger
	remote   models.RemoteStore
	resolver *tags.Resolver
	deriver  *tags.Deriver
	cache    *staging.Cache

	handlers map[CommandKind]handler
}

// NewController wires a Controller.
func NewController(logger *slog.Logger, remote models.RemoteStore, resolver *tags.Resolver, deriver *tags.Deriver, cache *staging.Cache) *Controller {
	c := &Controller{
		logger:   logger,
		remote:   remote,
		resolver: resolver,
		deriver:  deriver,
		cache:    cache,
	}
	c.handlers = map[CommandKind]handler{
		KindOpen:    func(ctx context.Context, s *session.Session, cmd Command) (State, error) { return c.open(ctx, s, cmd.(Open)) },
		KindToggle:  func(ctx context.Context, s *session.Session, cmd Command) (State, error) { return c.toggle(ctx, s, cmd.(Toggle)) },
		KindConfig:  func(ctx context.Context, s *session.Session, cmd Command) (State, error) { return c.saveConfig(ctx, s, cmd.(SaveConfig)) },
		KindRefresh: func(ctx context.Context, s *session.Session, _ Command) (State, error) { return c.refresh(ctx, s) },
	}
	return c
}

// Dispatch runs cmd for the session's user.
func (c *Controller) Dispatch(ctx context.Context, sess *session.Session, cmd Command) (State, error) {
	if cmd == nil {
		return State{}, ErrUnknownCommand
	}
	h, ok := c.handlers[cmd.Kind()]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind())
	}
	return h(ctx, sess, cmd)
}

func (c *Controller) open(ctx context.Context, sess *session.Session, cmd Open) (State, error) {
	if cmd.CalendarID == "" {
		return State{}, fmt.Errorf("%w: calendar id", ErrContextMissing)
	}
	if err := sess.SetProperty(ctx, staging.PropLastCalendar, cmd.CalendarID); err != nil {
		c.logger.Warn("Could not record last calendar", "user", sess.User, "error", err)
	}
	catalog := c.resolver.Resolve(ctx, sess)

	if cmd.EventID == "" {
		return c.openDraft(ctx, sess, cmd, catalog)
	}

	key := staging.EventKey(cmd.CalendarID, cmd.EventID)
	title := cmd.Title
	if entry := c.cache.Get(ctx, sess, key); entry.Ok() {
		c.logger.Debug("Resuming staged edits", "user", sess.User, "key", key)
		return State{Key: key, Title: title, Tags: tags.Present(entry.Record.Tags, catalog)}, nil
	}

	rec := staging.Record{Tags: tags.Set{}, CalendarID: cmd.CalendarID, EventID: cmd.EventID}
	attendees := cmd.Attendees
	ev, err := c.remote.GetEvent(ctx, cmd.CalendarID, cmd.EventID)
	if err != nil {
		// Not fetchable yet (or at all): continue as for a new event.
		c.logger.Warn("Could not load event, starting from derived tags", "user", sess.User, "eventID", cmd.EventID, "error", err)
	} else {
		if raw, ok := ev.Private[tags.PrivateKey]; ok {
			persisted, valid := tags.DecodePayload(raw)
			if !valid {
				c.logger.Warn("Persisted tags are malformed, ignoring", "user", sess.User, "eventID", cmd.EventID)
			}
			rec.Tags = persisted
		}
		if ev.Title != "" {
			title = ev.Title
		}
		if len(ev.Attendees) > 0 {
			attendees = ev.Attendees
		}
	}

	if len(rec.Tags) == 0 {
		rec.Tags = c.deriver.Seed(ctx, sess, title, attendees, catalog).Tags
	}
	if err := c.cache.Put(ctx, sess, key, rec); err != nil {
		return State{}, err
	}
	return State{Key: key, Title: title, Tags: tags.Present(rec.Tags, catalog)}, nil
}

func (c *Controller) openDraft(ctx context.Context, sess *session.Session, cmd Open, catalog []string) (State, error) {
	key := staging.NewDraftKey()
	seed := c.deriver.Seed(ctx, sess, cmd.Title, cmd.Attendees, catalog)
	rec := staging.Record{Tags: seed.Tags, CalendarID: cmd.CalendarID}
	if err := c.cache.Put(ctx, sess, key, rec); err != nil {
		return State{}, err
	}
	return State{Key: key, Title: seed.DisplayTitle(cmd.Title), Tags: tags.Present(rec.Tags, catalog)}, nil
}

func (c *Controller) toggle(ctx context.Context, sess *session.Session, cmd Toggle) (State, error) {
	if !cmd.Key.Valid() {
		return State{}, fmt.Errorf("%w: %q", ErrKeyMissing, cmd.Key)
	}
	tag := tags.Normalize(cmd.Tag)
	if tag == "" {
		return State{}, fmt.Errorf("%w: %q", ErrInvalidTag, cmd.Tag)
	}
	rec, err := c.cache.Toggle(ctx, sess, cmd.Key, tag)
	if err != nil {
		return State{}, err
	}
	return State{Key: cmd.Key, Tags: tags.Present(rec.Tags, c.resolver.Resolve(ctx, sess))}, nil
}

func (c *Controller) saveConfig(ctx context.Context, sess *session.Session, cmd SaveConfig) (State, error) {
	if err := tags.SaveSourceConfig(ctx, sess, cmd.SourceConfig); err != nil {
		c.logger.Error("Failed to save configuration", "user", sess.User, "error", err)
		return State{Notice: "Configuration was not saved: " + err.Error()}, fmt.Errorf("%w: %w", ErrConfigSave, err)
	}
	if err := c.resolver.Invalidate(ctx, sess); err != nil {
		c.logger.Warn("Could not invalidate catalog after config change", "user", sess.User, "error", err)
	}
	c.logger.Info("Saved tag source configuration", "user", sess.User, "sheetId", cmd.SheetID)
	return State{Tags: tags.Present(nil, c.resolver.Resolve(ctx, sess)), Notice: "Configuration saved"}, nil
}

func (c *Controller) refresh(ctx context.Context, sess *session.Session) (State, error) {
	catalog, err := c.resolver.Refresh(ctx, sess)
	if err != nil {
		c.logger.Warn("Catalog refresh fell back to defaults", "user", sess.User, "error", err)
		return State{Tags: tags.Present(nil, catalog), Notice: "Could not refresh tags from the sheet; showing defaults"}, nil
	}
	return State{Tags: tags.Present(nil, catalog), Notice: fmt.Sprintf("Loaded %d tags", len(catalog))}, nil
}
