package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tagcal/internal/models"
)

// CalendarClient is a models.RemoteStore backed by the Google Calendar API.
// Tags live in the event's private extended properties.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewCalendarClient creates a Google Calendar client over an authenticated
// HTTP client. Extra options (endpoint overrides in tests) are appended.
func NewCalendarClient(ctx context.Context, logger *slog.Logger, client *http.Client, opts ...option.ClientOption) (*CalendarClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger}, nil
}

// GetEvent fetches the fields of an event this service cares about.
func (c *CalendarClient) GetEvent(ctx context.Context, calendarID, eventID string) (*models.Event, error) {
	c.logger.Debug("Fetching event", "calendarID", calendarID, "eventID", eventID)
	item, err := c.service.Events.Get(calendarID, eventID).
		Fields("id", "summary", "attendees(email)", "extendedProperties").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err, "failed to get event %s", eventID)
	}
	return toInternalEvent(item, calendarID), nil
}

// UpdateEvent writes the event's private extended properties. It patches
// rather than replaces so fields this service never read are preserved.
func (c *CalendarClient) UpdateEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	patch := &calendar.Event{
		ExtendedProperties: &calendar.EventExtendedProperties{Private: event.Private},
	}
	item, err := c.service.Events.Patch(event.CalendarID, event.ID, patch).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err, "failed to update event %s", event.ID)
	}
	c.logger.Info("Updated event in Google Calendar", "calendarID", event.CalendarID, "eventID", event.ID)
	return toInternalEvent(item, event.CalendarID), nil
}

// ListCalendars returns the ids of all calendars the account can see.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]string, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendarIDs []string
	for _, item := range list.Items {
		calendarIDs = append(calendarIDs, item.Id)
	}
	return calendarIDs, nil
}

// toInternalEvent converts a Google Calendar event to the internal Event model.
func toInternalEvent(item *calendar.Event, calendarID string) *models.Event {
	event := &models.Event{
		ID:         item.Id,
		CalendarID: calendarID,
		Title:      item.Summary,
		Private:    map[string]string{},
	}
	for _, a := range item.Attendees {
		if a != nil && a.Email != "" {
			event.Attendees = append(event.Attendees, a.Email)
		}
	}
	if item.ExtendedProperties != nil {
		for k, v := range item.ExtendedProperties.Private {
			event.Private[k] = v
		}
	}
	return event
}

// IsNotFound reports whether err is a Google API 404/410.
func IsNotFound(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

func classify(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if IsNotFound(err) {
		return fmt.Errorf("%s: %w: %w", msg, models.ErrEventNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
