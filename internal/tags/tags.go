// Package tags holds the tag vocabulary: tag sets, the per-user catalog and
// the rules that derive tags from an event's title and attendees.
package tags

import "strings"

// Sigil prefixes every tag.
const Sigil = "#"

// DefaultTags is the built-in catalog used when nothing else is configured.
var DefaultTags = []string{"#Work", "#Personal", "#Meeting", "#Focus"}

// Normalize trims tag and prepends the sigil when missing. It returns ""
// for blank input.
func Normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == Sigil {
		return ""
	}
	if !strings.HasPrefix(tag, Sigil) {
		tag = Sigil + tag
	}
	return tag
}

// Set is an ordered collection of unique tags. Order is insertion order.
type Set []string

// Union concatenates lists keeping the first occurrence of every tag.
// Blank entries are dropped; entries are not otherwise normalized.
func Union(lists ...[]string) Set {
	seen := make(map[string]struct{})
	out := Set{}
	for _, list := range lists {
		for _, t := range list {
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Has reports whether tag is a member.
func (s Set) Has(tag string) bool {
	for _, t := range s {
		if t == tag {
			return true
		}
	}
	return false
}

// Toggle returns a copy of s with tag removed if present, appended otherwise.
func (s Set) Toggle(tag string) Set {
	out := make(Set, 0, len(s)+1)
	removed := false
	for _, t := range s {
		if t == tag {
			removed = true
			continue
		}
		out = append(out, t)
	}
	if !removed {
		out = append(out, tag)
	}
	return out
}

// Item is one row of the tag panel.
type Item struct {
	Tag      string `json:"tag"`
	Selected bool   `json:"selected"`
}

// Present orders tags for display: selected tags first in their own order,
// then catalog tags that are not selected in catalog order. Selected tags
// that are not in the catalog are still listed, and no tag appears twice.
func Present(selected Set, catalog []string) []Item {
	items := make([]Item, 0, len(selected)+len(catalog))
	for _, t := range Union(selected) {
		items = append(items, Item{Tag: t, Selected: true})
	}
	for _, t := range Union(catalog) {
		if selected.Has(t) {
			continue
		}
		items = append(items, Item{Tag: t})
	}
	return items
}
