package tags

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tagcal/internal/session"
)

// Property keys for the per-user tabular source configuration.
const (
	PropSheetID      = "sheetId"
	PropSheetName    = "sheetName"
	PropTagColumn    = "tagColumn"
	PropDomainColumn = "domainColumn"
)

// ErrNotConfigured reports that a required source field is missing.
var ErrNotConfigured = errors.New("tag source not configured")

// SheetSource reads a single column of a sheet starting below the header
// row. A missing sheet yields no values and no error.
type SheetSource interface {
	ReadColumn(ctx context.Context, sheetID, sheetName, column string) ([]string, error)
}

// SourceConfig locates the user's tag spreadsheet.
type SourceConfig struct {
	SheetID      string `json:"sheetId"`
	SheetName    string `json:"sheetName"`
	TagColumn    string `json:"tagColumn"`
	DomainColumn string `json:"domainColumn"`
}

// CheckTagSource returns an ErrNotConfigured naming the fields missing to
// read the catalog from the sheet, or nil.
func (c SourceConfig) CheckTagSource() error {
	return c.missing(false)
}

// CheckDomainSource is CheckTagSource plus the domain column.
func (c SourceConfig) CheckDomainSource() error {
	return c.missing(true)
}

// HasTagSource reports whether the catalog can be read from the sheet.
func (c SourceConfig) HasTagSource() bool { return c.CheckTagSource() == nil }

// HasDomainSource reports whether attendee-domain lookup is enabled.
func (c SourceConfig) HasDomainSource() bool { return c.CheckDomainSource() == nil }

func (c SourceConfig) missing(domain bool) error {
	var fields []string
	for _, f := range []struct{ name, value string }{
		{PropSheetID, c.SheetID},
		{PropSheetName, c.SheetName},
		{PropTagColumn, c.TagColumn},
	} {
		if f.value == "" {
			fields = append(fields, f.name)
		}
	}
	if domain && c.DomainColumn == "" {
		fields = append(fields, PropDomainColumn)
	}
	if len(fields) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(fields, ", "))
}

// Validate checks column names are plain A1 column letters.
func (c SourceConfig) Validate() error {
	for name, col := range map[string]string{"tag column": c.TagColumn, "domain column": c.DomainColumn} {
		if col == "" {
			continue
		}
		for _, r := range col {
			if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
				return fmt.Errorf("invalid %s %q: expected column letters", name, col)
			}
		}
	}
	return nil
}

func (c SourceConfig) normalized() SourceConfig {
	return SourceConfig{
		SheetID:      strings.TrimSpace(c.SheetID),
		SheetName:    strings.TrimSpace(c.SheetName),
		TagColumn:    strings.ToUpper(strings.TrimSpace(c.TagColumn)),
		DomainColumn: strings.ToUpper(strings.TrimSpace(c.DomainColumn)),
	}
}

// LoadSourceConfig reads the configuration from the user's properties.
// Unreadable fields are treated as unset.
func LoadSourceConfig(ctx context.Context, sess *session.Session) SourceConfig {
	return SourceConfig{
		SheetID:      sess.Property(ctx, PropSheetID),
		SheetName:    sess.Property(ctx, PropSheetName),
		TagColumn:    sess.Property(ctx, PropTagColumn),
		DomainColumn: sess.Property(ctx, PropDomainColumn),
	}.normalized()
}

// SaveSourceConfig writes cfg to the user's properties. Empty fields are
// deleted rather than stored.
func SaveSourceConfig(ctx context.Context, sess *session.Session, cfg SourceConfig) error {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	fields := []struct{ key, value string }{
		{PropSheetID, cfg.SheetID},
		{PropSheetName, cfg.SheetName},
		{PropTagColumn, cfg.TagColumn},
		{PropDomainColumn, cfg.DomainColumn},
	}
	for _, f := range fields {
		var err error
		if f.value == "" {
			err = sess.DeleteProperty(ctx, f.key)
		} else {
			err = sess.SetProperty(ctx, f.key, f.value)
		}
		if err != nil {
			return fmt.Errorf("failed to save %s: %w", f.key, err)
		}
	}
	return nil
}
