// Package panel is the boundary the tag panel UI talks to: a closed set of
// commands, each handled by one entry of a typed handler table.
package panel

import (
	"tagcal/internal/staging"
	"tagcal/internal/tags"
)

// CommandKind names a panel command.
type CommandKind string

const (
	KindOpen    CommandKind = "open"
	KindToggle  CommandKind = "toggle"
	KindConfig  CommandKind = "config"
	KindRefresh CommandKind = "refresh"
)

// Command is implemented only by the command types in this package.
type Command interface {
	Kind() CommandKind
	sealed()
}

// Open is sent when the panel is opened on an event. EventID is empty for
// an event that has not been saved yet.
type Open struct {
	CalendarID string   `json:"calendarId"`
	EventID    string   `json:"eventId,omitempty"`
	Title      string   `json:"title"`
	Attendees  []string `json:"attendees,omitempty"`
}

// Toggle flips one tag on a staged entry.
type Toggle struct {
	Key staging.Key `json:"key"`
	Tag string      `json:"tag"`
}

// SaveConfig replaces the user's tag sheet configuration.
type SaveConfig struct {
	tags.SourceConfig
}

// Refresh reloads the user's catalog.
type Refresh struct{}

func (Open) Kind() CommandKind       { return KindOpen }
func (Toggle) Kind() CommandKind     { return KindToggle }
func (SaveConfig) Kind() CommandKind { return KindConfig }
func (Refresh) Kind() CommandKind    { return KindRefresh }

func (Open) sealed()       {}
func (Toggle) sealed()     {}
func (SaveConfig) sealed() {}
func (Refresh) sealed()    {}

// State is what the panel renders after a command.
type State struct {
	Key    staging.Key `json:"key,omitempty"`
	Title  string      `json:"title,omitempty"`
	Tags   []tags.Item `json:"tags"`
	Notice string      `json:"notice,omitempty"`
}
