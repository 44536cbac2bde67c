package tags

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"tagcal/internal/session"
)

var titleToken = regexp.MustCompile(`#\w+`)

// FromTitle returns every catalog tag named by a #token in title, compared
// case-insensitively, in catalog order. Unknown tokens are ignored.
func FromTitle(title string, catalog []string) []string {
	tokens := titleToken.FindAllString(title, -1)
	if len(tokens) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		want[strings.ToLower(tok)] = struct{}{}
	}

	var out []string
	for _, t := range Union(catalog) {
		if _, ok := want[strings.ToLower(t)]; ok {
			out = append(out, t)
		}
	}
	return out
}

// EmailDomain returns the lower-cased part of email after the last '@'.
func EmailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[i+1:]))
}

// Deriver proposes tags for an event from its title and attendees.
type Deriver struct {
	logger *slog.Logger
	source SheetSource
}

// NewDeriver creates a Deriver reading the domain table from source.
func NewDeriver(logger *slog.Logger, source SheetSource) *Deriver {
	return &Deriver{logger: logger, source: source}
}

// FromAttendees looks up each attendee's domain in the user's domain column
// and returns the tag of the first matching row. Attendees are tried in
// order. Missing configuration, lookup errors and misses all yield false.
func (d *Deriver) FromAttendees(ctx context.Context, sess *session.Session, emails []string) (string, bool) {
	if len(emails) == 0 || d.source == nil {
		return "", false
	}
	cfg := LoadSourceConfig(ctx, sess)
	if err := cfg.CheckDomainSource(); err != nil {
		d.logger.Debug("Domain lookup disabled", "user", sess.User, "reason", err)
		return "", false
	}

	tagCol, err := d.source.ReadColumn(ctx, cfg.SheetID, cfg.SheetName, cfg.TagColumn)
	if err != nil {
		d.logger.Warn("Could not read tag column for domain lookup", "user", sess.User, "error", err)
		return "", false
	}
	domainCol, err := d.source.ReadColumn(ctx, cfg.SheetID, cfg.SheetName, cfg.DomainColumn)
	if err != nil {
		d.logger.Warn("Could not read domain column", "user", sess.User, "error", err)
		return "", false
	}

	for _, email := range emails {
		domain := EmailDomain(email)
		if domain == "" {
			continue
		}
		for row, cell := range domainCol {
			cell = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cell), "@"))
			if cell != domain || row >= len(tagCol) {
				continue
			}
			if tag := Normalize(tagCol[row]); tag != "" {
				return tag, true
			}
		}
	}
	return "", false
}

// Seed is the initial tag state derived for an event.
type Seed struct {
	Tags      Set
	DomainTag string // empty when no attendee matched
}

// Seed applies both derivation strategies and unions the results.
func (d *Deriver) Seed(ctx context.Context, sess *session.Session, title string, emails, catalog []string) Seed {
	fromTitle := FromTitle(title, catalog)
	tag, ok := d.FromAttendees(ctx, sess, emails)
	if !ok {
		return Seed{Tags: Union(fromTitle)}
	}
	return Seed{Tags: Union(fromTitle, []string{tag}), DomainTag: tag}
}

// DisplayTitle prepends the seed's domain tag to title unless the title
// already names it.
func (s Seed) DisplayTitle(title string) string {
	if s.DomainTag == "" {
		return title
	}
	for _, tok := range titleToken.FindAllString(title, -1) {
		if strings.EqualFold(tok, s.DomainTag) {
			return title
		}
	}
	if title == "" {
		return s.DomainTag
	}
	return s.DomainTag + " " + title
}
