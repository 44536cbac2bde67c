package models

import (
	"context"
	"errors"
)

// ErrEventNotFound is returned by a RemoteStore when the event does not exist
// (never created, deleted upstream, or not yet visible).
var ErrEventNotFound = errors.New("event not found")

// Event is the slice of a remote calendar event this service reads and writes.
// It is independent of any specific calendar provider.
type Event struct {
	ID         string            // Provider event identifier (UID for CalDAV)
	CalendarID string            // Owning calendar (calendar id or collection path)
	Title      string            // Summary or title of the event
	Attendees  []string          // List of attendee emails
	Private    map[string]string // Event-scoped private extension properties
}

// SetPrivate sets a private extension property, allocating the map if needed.
func (e *Event) SetPrivate(key, value string) {
	if e.Private == nil {
		e.Private = make(map[string]string)
	}
	e.Private[key] = value
}

// RemoteStore is the system of record for events.
type RemoteStore interface {
	GetEvent(ctx context.Context, calendarID, eventID string) (*Event, error)
	UpdateEvent(ctx context.Context, event *Event) (*Event, error)
}
