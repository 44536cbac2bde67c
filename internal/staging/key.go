// Package staging buffers in-progress tag edits per event and tracks which
// ones still need to be written back to the remote calendar.
package staging

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

const (
	eventPrefix = "event:"
	draftPrefix = "draft:"
)

// Key addresses a staged entry. Existing events get a deterministic key
// built from (calendar, event); unsaved events get a random one per open.
type Key string

var b64 = base64.RawURLEncoding

// EventKey returns the staging key of an existing event.
func EventKey(calendarID, eventID string) Key {
	return Key(eventPrefix + b64.EncodeToString([]byte(calendarID)) + ":" + b64.EncodeToString([]byte(eventID)))
}

// NewDraftKey returns a fresh key for an event that has no identifier yet.
func NewDraftKey() Key {
	return Key(draftPrefix + uuid.NewString())
}

// IsDraft reports whether k addresses an unsaved event.
func (k Key) IsDraft() bool { return strings.HasPrefix(string(k), draftPrefix) }

// Valid reports whether k carries a known prefix.
func (k Key) Valid() bool {
	if k.IsDraft() {
		return len(k) > len(draftPrefix)
	}
	_, _, ok := k.Target()
	return ok
}

// Target decodes the calendar and event of an existing-event key.
func (k Key) Target() (calendarID, eventID string, ok bool) {
	rest, found := strings.CutPrefix(string(k), eventPrefix)
	if !found {
		return "", "", false
	}
	calPart, evPart, found := strings.Cut(rest, ":")
	if !found {
		return "", "", false
	}
	cal, err := b64.DecodeString(calPart)
	if err != nil {
		return "", "", false
	}
	ev, err := b64.DecodeString(evPart)
	if err != nil || len(ev) == 0 {
		return "", "", false
	}
	return string(cal), string(ev), true
}

func (k Key) String() string { return string(k) }

// PropLastCalendar records the calendar of the most recently opened event.
// Flushes fall back to it only for work-queue records without a calendar.
const PropLastCalendar = "lastCalendar"
