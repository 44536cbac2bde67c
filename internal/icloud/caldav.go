package icloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"tagcal/internal/models"
)

const (
	// DefaultEndpoint is iCloud's CalDAV root.
	DefaultEndpoint = "https://caldav.icloud.com/"

	// privatePrefix namespaces private properties as iCalendar X- props.
	privatePrefix = "X-TAGCAL-"
)

// basicAuthTransport authenticates every request. iCloud requires an
// app-specific password here.
type basicAuthTransport struct {
	username, password string
	next               http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", "tagcal/1.0")
	return t.next.RoundTrip(req)
}

// CalDAVClient is a models.RemoteStore over a CalDAV server. Calendar ids
// are collection paths and event ids are object UIDs; private properties
// are stored on the VEVENT as X-TAGCAL-* properties.
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
}

// NewClient creates a CalDAVClient and resolves calendarName to its
// collection path, used when an event does not name its calendar.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	transport := &basicAuthTransport{username: username, password: password, next: http.DefaultTransport}
	c, err := newClient(logger, &http.Client{Transport: transport}, endpoint)
	if err != nil {
		return nil, err
	}

	if calendarName != "" {
		logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
		calendarPath, err := c.findCalendar(ctx, calendarName)
		if err != nil {
			return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
		}
		c.calendarPath = calendarPath
		logger.Info("Successfully found CalDAV calendar", "path", calendarPath)
	}
	return c, nil
}

func newClient(logger *slog.Logger, httpClient webdav.HTTPClient, endpoint string) (*CalDAVClient, error) {
	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return &CalDAVClient{caldavClient: caldavClient, logger: logger}, nil
}

// GetEvent fetches the object holding eventID.
func (c *CalDAVClient) GetEvent(ctx context.Context, calendarID, eventID string) (*models.Event, error) {
	p := c.objectPath(calendarID, eventID)
	c.logger.Debug("Fetching CalDAV object", "path", p)

	obj, err := c.caldavClient.GetCalendarObject(ctx, p)
	if err != nil {
		return nil, classify(err, "failed to get event %s", eventID)
	}
	ve, err := firstEvent(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", eventID, err)
	}
	return toInternalEvent(ve, c.calendarOrDefault(calendarID), eventID), nil
}

// UpdateEvent rewrites the object with the event's private properties.
// The object is re-read first so other properties are kept as they are.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	p := c.objectPath(event.CalendarID, event.ID)
	obj, err := c.caldavClient.GetCalendarObject(ctx, p)
	if err != nil {
		return nil, classify(err, "failed to get event %s", event.ID)
	}
	ve, err := firstEvent(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", event.ID, err)
	}
	applyPrivate(ve, event.Private)

	if _, err := c.caldavClient.PutCalendarObject(ctx, p, obj.Data); err != nil {
		return nil, fmt.Errorf("failed to put event %s: %w", event.ID, err)
	}
	c.logger.Info("Updated event on CalDAV server", "path", p)
	return toInternalEvent(ve, c.calendarOrDefault(event.CalendarID), event.ID), nil
}

func (c *CalDAVClient) calendarOrDefault(calendarID string) string {
	if calendarID != "" {
		return calendarID
	}
	return c.calendarPath
}

func (c *CalDAVClient) objectPath(calendarID, eventID string) string {
	return path.Join(c.calendarOrDefault(calendarID), eventID+".ics")
}

// findCalendar walks principal, home set and collections to resolve a
// display name (or a collection path) to the collection path.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principal, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}
	homeSet, err := c.caldavClient.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	calendars, err := c.caldavClient.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	var names []string
	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, name) || cal.Path == name {
			return cal.Path, nil
		}
		names = append(names, cal.Name)
	}
	return "", fmt.Errorf("no calendar named %q (have %s)", name, strings.Join(names, ", "))
}

func firstEvent(cal *ical.Calendar) (*ical.Component, error) {
	if cal == nil {
		return nil, errors.New("empty calendar object")
	}
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			return child, nil
		}
	}
	return nil, errors.New("calendar object has no VEVENT")
}

// toInternalEvent converts a VEVENT to the internal Event model.
func toInternalEvent(ve *ical.Component, calendarID, eventID string) *models.Event {
	event := &models.Event{
		ID:         eventID,
		CalendarID: calendarID,
		Private:    map[string]string{},
	}
	if summary, err := ve.Props.Text(ical.PropSummary); err == nil {
		event.Title = summary
	}
	for _, p := range ve.Props.Values(ical.PropAttendee) {
		email := p.Value
		if len(email) >= len("mailto:") && strings.EqualFold(email[:len("mailto:")], "mailto:") {
			email = email[len("mailto:"):]
		}
		if email != "" {
			event.Attendees = append(event.Attendees, email)
		}
	}
	for name, props := range ve.Props {
		key, ok := strings.CutPrefix(name, privatePrefix)
		if !ok || len(props) == 0 {
			continue
		}
		if v, err := props[0].Text(); err == nil {
			event.Private[strings.ToLower(key)] = v
		}
	}
	return event
}

// applyPrivate replaces the VEVENT's X-TAGCAL-* properties with private.
func applyPrivate(ve *ical.Component, private map[string]string) {
	for name := range ve.Props {
		if strings.HasPrefix(name, privatePrefix) {
			ve.Props.Del(name)
		}
	}
	for k, v := range private {
		ve.Props.SetText(privatePrefix+strings.ToUpper(k), v)
	}
}

func classify(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if isNotFound(err) {
		return fmt.Errorf("%s: %w: %w", msg, models.ErrEventNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// isNotFound matches the status line go-webdav puts in non-2xx errors.
func isNotFound(err error) bool {
	text := err.Error()
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		if strings.Contains(text, fmt.Sprintf("%d %s", code, http.StatusText(code))) {
			return true
		}
	}
	return false
}
