package nylas

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const eventsPageSize = 100

// When is a timespan in unix seconds
type When struct {
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

// Event is an event as reported by the provider
type Event struct {
	ID         string `json:"id,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
	CalendarID string `json:"calendar_id"`
	Title      string `json:"title"`
	Status     string `json:"status,omitempty"`
	ReadOnly   bool   `json:"read_only,omitempty"`
	When       When   `json:"when"`
}

func (e *Event) Start() time.Time {
	return time.Unix(e.When.StartTime, 0).UTC()
}

func (e *Event) End() time.Time {
	return time.Unix(e.When.EndTime, 0).UTC()
}

// ListEventsParams filters an event listing
type ListEventsParams struct {
	CalendarID  string
	StartsAfter time.Time
}

// ListEvents returns every event of a calendar matching params, following
// pagination until the provider returns a short page.
func (c *Client) ListEvents(ctx context.Context, accessToken string, params ListEventsParams) ([]Event, error) {
	var all []Event
	for offset := 0; ; offset += eventsPageSize {
		q := url.Values{}
		q.Set("calendar_id", params.CalendarID)
		q.Set("limit", strconv.Itoa(eventsPageSize))
		q.Set("offset", strconv.Itoa(offset))
		if !params.StartsAfter.IsZero() {
			q.Set("starts_after", strconv.FormatInt(params.StartsAfter.Unix(), 10))
		}

		var page []Event
		if err := c.call(ctx, http.MethodGet, "/events?"+q.Encode(), bearer(accessToken), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < eventsPageSize {
			return all, nil
		}
	}
}

// GetEvent retrieves one event by its provider id
func (c *Client) GetEvent(ctx context.Context, accessToken, eventID string) (*Event, error) {
	var event Event
	if err := c.call(ctx, http.MethodGet, "/events/"+url.PathEscape(eventID), bearer(accessToken), nil, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// CreateOrUpdateEvent creates the event when it has no provider id and
// replaces it otherwise.
func (c *Client) CreateOrUpdateEvent(ctx context.Context, accessToken string, event *Event) (*Event, error) {
	if event.CalendarID == "" {
		return nil, fmt.Errorf("event has no calendar id")
	}

	method, path := http.MethodPost, "/events"
	if event.ID != "" {
		method, path = http.MethodPut, "/events/"+url.PathEscape(event.ID)
	}

	var out Event
	if err := c.call(ctx, method, path, bearer(accessToken), event, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
