package staging

import (
	"encoding/json"

	"tagcal/internal/tags"
)

// Record is the staged state of one event.
type Record struct {
	Tags       tags.Set `json:"tags"`
	CalendarID string   `json:"calendarId,omitempty"`
	EventID    string   `json:"eventId,omitempty"`
}

// EntryKind discriminates the outcomes of reading a staged value.
type EntryKind int

const (
	// EntryAbsent means the key was never set or has expired.
	EntryAbsent EntryKind = iota
	// EntryTags means a well-formed record was found.
	EntryTags
	// EntryMalformed means a value was found but did not decode.
	EntryMalformed
)

func (k EntryKind) String() string {
	switch k {
	case EntryTags:
		return "tags"
	case EntryMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Entry is the result of a staged read. Record is only meaningful when
// Kind is EntryTags.
type Entry struct {
	Kind   EntryKind
	Record Record
}

// Ok reports whether the entry holds usable tags.
func (e Entry) Ok() bool { return e.Kind == EntryTags }

func decodeEntry(raw string) Entry {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Entry{Kind: EntryMalformed}
	}
	if r.Tags == nil {
		r.Tags = tags.Set{}
	}
	return Entry{Kind: EntryTags, Record: r}
}
