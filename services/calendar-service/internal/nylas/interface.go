package nylas

import "context"

// SyncClient defines the sync provider operations used by the service
type SyncClient interface {
	// Accounts
	AuthAccount(ctx context.Context, creds Credentials, name, email string) (*AuthResponse, error)
	AuthSubaccount(ctx context.Context, creds Credentials, name, email string) (*AuthResponse, error)
	GetAccount(ctx context.Context, accessToken string) (*Account, error)
	DeleteAccount(ctx context.Context, accountID string) error

	// Calendars
	ListCalendars(ctx context.Context, accessToken string) ([]Calendar, error)
	GetCalendar(ctx context.Context, accessToken, calendarID string) (*Calendar, error)
	CreateCalendar(ctx context.Context, accessToken string, req *CreateCalendarRequest) (*Calendar, error)

	// Events
	ListEvents(ctx context.Context, accessToken string, params ListEventsParams) ([]Event, error)
	GetEvent(ctx context.Context, accessToken, eventID string) (*Event, error)
	CreateOrUpdateEvent(ctx context.Context, accessToken string, event *Event) (*Event, error)
}

// Ensure Client and MockClient implement SyncClient
var _ SyncClient = (*Client)(nil)
var _ SyncClient = (*MockClient)(nil)
