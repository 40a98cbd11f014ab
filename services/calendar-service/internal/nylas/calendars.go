package nylas

import (
	"context"
	"net/http"
	"net/url"
)

// Calendar is a calendar as reported by the provider
type Calendar struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	ReadOnly    bool   `json:"read_only"`
	IsPrimary   bool   `json:"is_primary"`
}

// CreateCalendarRequest is the request to create a calendar
type CreateCalendarRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// ListCalendars returns every calendar of the account
func (c *Client) ListCalendars(ctx context.Context, accessToken string) ([]Calendar, error) {
	var calendars []Calendar
	if err := c.call(ctx, http.MethodGet, "/calendars", bearer(accessToken), nil, &calendars); err != nil {
		return nil, err
	}
	return calendars, nil
}

// GetCalendar retrieves one calendar by its provider id
func (c *Client) GetCalendar(ctx context.Context, accessToken, calendarID string) (*Calendar, error) {
	var calendar Calendar
	if err := c.call(ctx, http.MethodGet, "/calendars/"+url.PathEscape(calendarID), bearer(accessToken), nil, &calendar); err != nil {
		return nil, err
	}
	return &calendar, nil
}

// CreateCalendar creates a calendar and returns it with its provider id
func (c *Client) CreateCalendar(ctx context.Context, accessToken string, req *CreateCalendarRequest) (*Calendar, error) {
	var calendar Calendar
	if err := c.call(ctx, http.MethodPost, "/calendars", bearer(accessToken), req, &calendar); err != nil {
		return nil, err
	}
	return &calendar, nil
}
