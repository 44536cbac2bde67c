package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsClient reads tag tables from Google Sheets.
type SheetsClient struct {
	service *sheets.Service
	logger  *slog.Logger
}

// NewSheetsClient creates a Google Sheets client over an authenticated HTTP client.
func NewSheetsClient(ctx context.Context, logger *slog.Logger, client *http.Client, opts ...option.ClientOption) (*SheetsClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &SheetsClient{service: service, logger: logger}, nil
}

// ReadColumn returns the values of column from row 2 down. Row 1 is the
// header. A sheet that does not exist yields no values and no error.
func (s *SheetsClient) ReadColumn(ctx context.Context, sheetID, sheetName, column string) ([]string, error) {
	ok, err := s.hasSheet(ctx, sheetID, sheetName)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("Sheet not found in spreadsheet", "sheetId", sheetID, "sheetName", sheetName)
		return nil, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(sheetID, ColumnRange(sheetName, column)).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read column %s of %s: %w", column, sheetName, err)
	}

	values := make([]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			values = append(values, "")
			continue
		}
		values = append(values, strings.TrimSpace(fmt.Sprint(row[0])))
	}
	s.logger.Debug("Read sheet column", "sheetId", sheetID, "sheetName", sheetName, "column", column, "rows", len(values))
	return values, nil
}

func (s *SheetsClient) hasSheet(ctx context.Context, sheetID, sheetName string) (bool, error) {
	doc, err := s.service.Spreadsheets.Get(sheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("failed to open spreadsheet %s: %w", sheetID, err)
	}
	for _, sh := range doc.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheetName {
			return true, nil
		}
	}
	return false, nil
}

// ColumnRange builds the A1 range covering column below the header row.
func ColumnRange(sheetName, column string) string {
	quoted := "'" + strings.ReplaceAll(sheetName, "'", "''") + "'"
	return fmt.Sprintf("%s!%s2:%s", quoted, column, column)
}
