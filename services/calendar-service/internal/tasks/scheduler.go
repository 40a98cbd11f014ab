// Package tasks holds every unit of asynchronous work: the Scheduler
// contract, its Kafka dispatcher, the consumers and their handlers.
package tasks

import "context"

// Scheduler is the single place background work is requested. Each method
// hands one task to the broker and returns once it is accepted.
type Scheduler interface {
	ImportAllCalendarsFromProvider(ctx context.Context, p ImportAllCalendarsParams) error
	ImportCalendarFromProvider(ctx context.Context, p ChangeCalendarParams) error
	DeleteCalendarFromProvider(ctx context.Context, p ChangeCalendarParams) error
	ExportCalendarsToProvider(ctx context.Context, p ExportCalendarsParams) error
	SyncAllEventsForCalendar(ctx context.Context, p SyncAllEventsParams) error
	ImportEventFromProvider(ctx context.Context, p ChangeEventParams) error
	DeleteEventFromProvider(ctx context.Context, p ChangeEventParams) error
	ExportEventToProvider(ctx context.Context, p ExportEventParams) error
	DeleteAccountFromProvider(ctx context.Context, p DeleteAccountParams) error
	UpdateAllSubaccountTokens(ctx context.Context, p UpdateAllSubaccountTokensParams) error
	UpdateSubaccountToken(ctx context.Context, p UpdateSubaccountTokenParams) error
	UpdateAccountSyncState(ctx context.Context, p UpdateAccountSyncStateParams) error
	AdvanceActivePeriod(ctx context.Context) error
	RefreshExpiredTokens(ctx context.Context) error
	RunDiagnostics(ctx context.Context, p DiagnosticsParams) error
}

// ImportAllCalendarsParams requests a full import of an account.
type ImportAllCalendarsParams struct {
	AccountID string `json:"account_id"`
}

// ChangeCalendarParams names one calendar at the provider.
type ChangeCalendarParams struct {
	AccountID          string `json:"account_id"`
	ExternalCalendarID string `json:"external_calendar_id"`
	// FromProviderNotification marks changes reported by the provider's
	// webhook. They are skipped while a full import of the account runs.
	FromProviderNotification bool `json:"from_provider_notification,omitempty"`
}

// ExportCalendarsParams lists internal calendars to create at the provider.
type ExportCalendarsParams struct {
	CalendarIDs []string `json:"calendar_ids"`
}

type SyncAllEventsParams struct {
	CalendarID string `json:"calendar_id"`
}

// ChangeEventParams names one event at the provider.
type ChangeEventParams struct {
	AccountID                string `json:"account_id"`
	ExternalEventID          string `json:"external_event_id"`
	FromProviderNotification bool   `json:"from_provider_notification,omitempty"`
}

// ExportEventParams names an internal event to create or update at the
// provider.
type ExportEventParams struct {
	EventID string `json:"event_id"`
}

type DeleteAccountParams struct {
	AccountID string `json:"account_id"`
}

type UpdateAllSubaccountTokensParams struct {
	ServiceAccountID string `json:"service_account_id"`
}

type UpdateSubaccountTokenParams struct {
	AccountID string `json:"account_id"`
}

type UpdateAccountSyncStateParams struct {
	AccountID string `json:"account_id"`
}

// DiagnosticsParams compares one calendar with the provider. The report is
// stored under RunID.
type DiagnosticsParams struct {
	RunID      string `json:"run_id"`
	CalendarID string `json:"calendar_id"`
}
