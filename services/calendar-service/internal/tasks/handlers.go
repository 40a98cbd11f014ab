package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/pkg/metrics"
	"github.com/Rohianon/uou/services/calendar-service/internal/nylas"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// AccountStore is the account persistence the handlers need
type AccountStore interface {
	// GetByID returns ErrAccountNotFound when the account is absent.
	GetByID(ctx context.Context, id string) (*types.Account, error)
	Update(ctx context.Context, req types.UpdateAccountRequest) error
	// Delete is a no-op when the account is absent.
	Delete(ctx context.Context, id string) error
	ListByServiceAccount(ctx context.Context, serviceAccountID string) ([]types.Account, error)
	CreateError(ctx context.Context, e *types.AccountError) error
	AdvanceActivePeriod(ctx context.Context, start time.Time) (int64, error)

	AcquireInboundSyncLock(ctx context.Context, id, token string, until time.Time) error
	HoldsInboundSyncLock(ctx context.Context, id, token string) (bool, error)
	// ReleaseInboundSyncLock clears the lock only while token still owns it.
	ReleaseInboundSyncLock(ctx context.Context, id, token string) error
}

// CalendarStore is the calendar persistence the handlers need
type CalendarStore interface {
	// GetByID returns ErrCalendarNotFound when the calendar is absent.
	GetByID(ctx context.Context, id string) (*types.Calendar, error)
	TryGetByExternalID(ctx context.Context, accountID, externalID string) (*types.Calendar, bool, error)
	// Upsert inserts or updates by (account id, external id) and sets the
	// internal id on cal.
	Upsert(ctx context.Context, cal *types.Calendar) error
	SetExternalID(ctx context.Context, id, externalID string) error
	ListByAccount(ctx context.Context, accountID string) ([]types.Calendar, error)
	// DeleteByExternalID is a no-op when the calendar is absent.
	DeleteByExternalID(ctx context.Context, accountID, externalID string) error
}

// EventStore is the event persistence the handlers need
type EventStore interface {
	// GetByID returns ErrEventNotFound when the event is absent.
	GetByID(ctx context.Context, id string) (*types.Event, error)
	// Upsert inserts or updates by (calendar id, external id).
	Upsert(ctx context.Context, ev *types.Event) error
	SetExternalID(ctx context.Context, id, externalID string) error
	// DeleteByExternalID is a no-op when the event is absent.
	DeleteByExternalID(ctx context.Context, accountID, externalID string) error
	// DeleteMissing removes imported events of a calendar whose external
	// id is not in keep.
	DeleteMissing(ctx context.Context, calendarID string, keep []string) (int64, error)
	DeleteEndedBefore(ctx context.Context, before time.Time) (int64, error)
	CountByCalendar(ctx context.Context, calendarID string) (int, error)
}

// ServiceAccountStore lists service accounts whose tokens need a refresh
type ServiceAccountStore interface {
	ListExpiring(ctx context.Context, before time.Time) ([]types.ServiceAccount, error)
}

// Authenticator re-authenticates against the sync provider. It is
// implemented by the auth service.
type Authenticator interface {
	UpdateSubaccountToken(ctx context.Context, accountID string) error
	UpdateServiceAccountRefreshToken(ctx context.Context, serviceAccountID string) error
}

// HandlerConfig tunes the task handlers
type HandlerConfig struct {
	LockTTL             time.Duration
	ActivePeriodDays    int
	TokenRefreshHorizon time.Duration
}

// Handlers executes tasks. Every handler is idempotent: a redelivered task
// converges to the same state.
type Handlers struct {
	accounts        AccountStore
	calendars       CalendarStore
	events          EventStore
	serviceAccounts ServiceAccountStore
	provider        nylas.SyncClient
	auth            Authenticator
	scheduler       Scheduler
	diagnostics     DiagnosticsStore
	config          HandlerConfig
	now             func() time.Time
}

func NewHandlers(
	accounts AccountStore,
	calendars CalendarStore,
	events EventStore,
	serviceAccounts ServiceAccountStore,
	provider nylas.SyncClient,
	authenticator Authenticator,
	scheduler Scheduler,
	diagnostics DiagnosticsStore,
	cfg HandlerConfig,
) *Handlers {
	return &Handlers{
		accounts:        accounts,
		calendars:       calendars,
		events:          events,
		serviceAccounts: serviceAccounts,
		provider:        provider,
		auth:            authenticator,
		scheduler:       scheduler,
		diagnostics:     diagnostics,
		config:          cfg,
		now:             time.Now,
	}
}

// ImportAllCalendars replaces the account's calendars and events with the
// provider's. It stops early once a newer import takes over the lock.
func (h *Handlers) ImportAllCalendars(ctx context.Context, p ImportAllCalendarsParams, lockToken string) error {
	l := logger.WithContext(ctx).With().Str("account_id", p.AccountID).Logger()

	account, err := h.accounts.GetByID(ctx, p.AccountID)
	if err != nil {
		return err
	}
	if lockToken == "" {
		lockToken = uuid.New().String()
	}

	if err := h.accounts.AcquireInboundSyncLock(ctx, account.ID, lockToken, h.now().Add(h.config.LockTTL)); err != nil {
		return fmt.Errorf("failed to acquire inbound sync lock: %w", err)
	}

	remote, err := h.provider.ListCalendars(ctx, account.AccessToken)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(remote))
	for _, rc := range remote {
		owned, err := h.accounts.HoldsInboundSyncLock(ctx, account.ID, lockToken)
		if err != nil {
			return err
		}
		if !owned {
			l.Info().Msg("full import superseded by a newer one, stopping")
			metrics.RecordTaskSkipped(TopicImportAllCalendars, "superseded")
			return nil
		}

		cal := calendarFromProvider(account.ID, rc)
		if err := h.calendars.Upsert(ctx, cal); err != nil {
			return err
		}
		seen[rc.ID] = true

		if err := h.importEvents(ctx, account, cal); err != nil {
			return err
		}
	}

	local, err := h.calendars.ListByAccount(ctx, account.ID)
	if err != nil {
		return err
	}
	for _, cal := range local {
		if cal.ExternalID == nil || seen[*cal.ExternalID] {
			continue
		}
		if err := h.calendars.DeleteByExternalID(ctx, account.ID, *cal.ExternalID); err != nil {
			return err
		}
	}

	if err := h.accounts.ReleaseInboundSyncLock(ctx, account.ID, lockToken); err != nil {
		return fmt.Errorf("failed to release inbound sync lock: %w", err)
	}

	l.Info().Int("calendars", len(remote)).Msg("full import finished")
	return nil
}

func (h *Handlers) importEvents(ctx context.Context, account *types.Account, cal *types.Calendar) error {
	params := nylas.ListEventsParams{CalendarID: *cal.ExternalID}
	if account.ActivePeriodStart != nil {
		params.StartsAfter = *account.ActivePeriodStart
	}

	remote, err := h.provider.ListEvents(ctx, account.AccessToken, params)
	if err != nil {
		return err
	}

	keep := make([]string, 0, len(remote))
	for _, re := range remote {
		if err := h.events.Upsert(ctx, eventFromProvider(cal.ID, re)); err != nil {
			return err
		}
		keep = append(keep, re.ID)
	}

	if _, err := h.events.DeleteMissing(ctx, cal.ID, keep); err != nil {
		return err
	}
	return nil
}

// skipNotification reports whether a provider notification for account is
// redundant because a full import is catching up.
func (h *Handlers) skipNotification(ctx context.Context, topic string, account *types.Account, fromNotification bool) bool {
	if !fromNotification || !account.HoldsInboundSyncLock(h.now()) {
		return false
	}
	logger.WithContext(ctx).Debug().
		Str("account_id", account.ID).
		Msg("skipping provider notification during full import")
	metrics.RecordTaskSkipped(topic, "import_in_progress")
	return true
}

// ImportCalendar upserts one calendar and schedules a sync of its events.
// A calendar gone at the provider is removed locally.
func (h *Handlers) ImportCalendar(ctx context.Context, p ChangeCalendarParams) error {
	account, err := h.accounts.GetByID(ctx, p.AccountID)
	if err != nil {
		return err
	}
	if h.skipNotification(ctx, TopicChangeCalendar, account, p.FromProviderNotification) {
		return nil
	}

	rc, err := h.provider.GetCalendar(ctx, account.AccessToken, p.ExternalCalendarID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return h.calendars.DeleteByExternalID(ctx, account.ID, p.ExternalCalendarID)
	}
	if err != nil {
		return err
	}

	cal := calendarFromProvider(account.ID, *rc)
	if err := h.calendars.Upsert(ctx, cal); err != nil {
		return err
	}
	return h.scheduler.SyncAllEventsForCalendar(ctx, SyncAllEventsParams{CalendarID: cal.ID})
}

func (h *Handlers) DeleteCalendar(ctx context.Context, p ChangeCalendarParams) error {
	return h.calendars.DeleteByExternalID(ctx, p.AccountID, p.ExternalCalendarID)
}

// ExportCalendars creates internal calendars at the provider. Calendars
// that already carry an external id are skipped.
func (h *Handlers) ExportCalendars(ctx context.Context, p ExportCalendarsParams) error {
	for _, id := range p.CalendarIDs {
		cal, err := h.calendars.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if cal.ExternalID != nil {
			continue
		}

		account, err := h.accounts.GetByID(ctx, cal.AccountID)
		if err != nil {
			return err
		}

		created, err := h.provider.CreateCalendar(ctx, account.AccessToken, &nylas.CreateCalendarRequest{
			Name:        cal.Name,
			Description: cal.Description,
			Timezone:    cal.Timezone,
		})
		if err != nil {
			return err
		}
		if err := h.calendars.SetExternalID(ctx, cal.ID, created.ID); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) SyncAllEvents(ctx context.Context, p SyncAllEventsParams) error {
	cal, err := h.calendars.GetByID(ctx, p.CalendarID)
	if err != nil {
		return err
	}
	if cal.ExternalID == nil {
		return apperrors.ErrDoNotRetry.Withf("calendar %s has not been exported", cal.ID)
	}

	account, err := h.accounts.GetByID(ctx, cal.AccountID)
	if err != nil {
		return err
	}
	return h.importEvents(ctx, account, cal)
}

// ImportEvent upserts one event. An event gone at the provider is removed
// locally.
func (h *Handlers) ImportEvent(ctx context.Context, p ChangeEventParams) error {
	account, err := h.accounts.GetByID(ctx, p.AccountID)
	if err != nil {
		return err
	}
	if h.skipNotification(ctx, TopicChangeEvent, account, p.FromProviderNotification) {
		return nil
	}

	re, err := h.provider.GetEvent(ctx, account.AccessToken, p.ExternalEventID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return h.events.DeleteByExternalID(ctx, account.ID, p.ExternalEventID)
	}
	if err != nil {
		return err
	}

	cal, ok, err := h.calendars.TryGetByExternalID(ctx, account.ID, re.CalendarID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrCalendarNotFound.WithError(fmt.Errorf("external calendar %s", re.CalendarID))
	}
	return h.events.Upsert(ctx, eventFromProvider(cal.ID, *re))
}

func (h *Handlers) DeleteEvent(ctx context.Context, p ChangeEventParams) error {
	return h.events.DeleteByExternalID(ctx, p.AccountID, p.ExternalEventID)
}

// ExportEvent creates or updates the event at the provider. It is keyed by
// the event id, so duplicate deliveries update instead of duplicating.
func (h *Handlers) ExportEvent(ctx context.Context, p ExportEventParams) error {
	ev, err := h.events.GetByID(ctx, p.EventID)
	if err != nil {
		return err
	}
	cal, err := h.calendars.GetByID(ctx, ev.CalendarID)
	if err != nil {
		return err
	}
	if cal.ReadOnly {
		return apperrors.ErrReadOnly.Withf("calendar %s is read-only", cal.ID)
	}
	if cal.ExternalID == nil {
		return fmt.Errorf("calendar %s has not been exported yet", cal.ID)
	}

	account, err := h.accounts.GetByID(ctx, cal.AccountID)
	if err != nil {
		return err
	}

	out := &nylas.Event{
		CalendarID: *cal.ExternalID,
		Title:      ev.Title,
		Status:     ev.Status,
		When: nylas.When{
			StartTime: ev.StartsAt.Unix(),
			EndTime:   ev.EndsAt.Unix(),
		},
	}
	if ev.ExternalID != nil {
		out.ID = *ev.ExternalID
	}

	saved, err := h.provider.CreateOrUpdateEvent(ctx, account.AccessToken, out)
	if err != nil {
		return err
	}
	if ev.ExternalID == nil {
		return h.events.SetExternalID(ctx, ev.ID, saved.ID)
	}
	return nil
}

// DeleteAccount removes the account at the provider, then locally.
func (h *Handlers) DeleteAccount(ctx context.Context, p DeleteAccountParams) error {
	if err := h.provider.DeleteAccount(ctx, p.AccountID); err != nil {
		return err
	}
	return h.accounts.Delete(ctx, p.AccountID)
}

// UpdateAllSubaccountTokens fans out one token update per linked account.
func (h *Handlers) UpdateAllSubaccountTokens(ctx context.Context, p UpdateAllSubaccountTokensParams) error {
	accounts, err := h.accounts.ListByServiceAccount(ctx, p.ServiceAccountID)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if err := h.scheduler.UpdateSubaccountToken(ctx, UpdateSubaccountTokenParams{AccountID: a.ID}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) UpdateSubaccountToken(ctx context.Context, p UpdateSubaccountTokenParams) error {
	return h.auth.UpdateSubaccountToken(ctx, p.AccountID)
}

// UpdateAccountSyncState copies the provider's sync state onto the account
// and records a sync error when the provider reports it invalid.
func (h *Handlers) UpdateAccountSyncState(ctx context.Context, p UpdateAccountSyncStateParams) error {
	account, err := h.accounts.GetByID(ctx, p.AccountID)
	if err != nil {
		return err
	}

	remote, err := h.provider.GetAccount(ctx, account.AccessToken)
	if err != nil {
		return err
	}
	if remote.SyncState == account.SyncState {
		return nil
	}

	if err := h.accounts.Update(ctx, types.NewSyncStateUpdate(account.ID, remote.SyncState)); err != nil {
		return err
	}
	if remote.SyncState == types.SyncStateInvalid {
		return h.accounts.CreateError(ctx, &types.AccountError{
			AccountID: account.ID,
			Type:      types.AccountErrorSync,
			Message:   "The sync provider can no longer access this account. Please reconnect it.",
			Details:   "sync_state=" + remote.SyncState,
		})
	}
	return nil
}

// AdvanceActivePeriod moves every account's synchronized window forward
// and drops events that ended before it.
func (h *Handlers) AdvanceActivePeriod(ctx context.Context) error {
	start := h.now().UTC().AddDate(0, 0, -h.config.ActivePeriodDays).Truncate(24 * time.Hour)

	moved, err := h.accounts.AdvanceActivePeriod(ctx, start)
	if err != nil {
		return err
	}
	dropped, err := h.events.DeleteEndedBefore(ctx, start)
	if err != nil {
		return err
	}

	logger.WithContext(ctx).Info().
		Time("active_period_start", start).
		Int64("accounts", moved).
		Int64("events_dropped", dropped).
		Msg("active period advanced")
	return nil
}

// RefreshExpiredTokens refreshes every service account whose token expires
// within the refresh horizon. Failures do not stop the others; they are
// returned together so the task is retried.
func (h *Handlers) RefreshExpiredTokens(ctx context.Context) error {
	expiring, err := h.serviceAccounts.ListExpiring(ctx, h.now().Add(h.config.TokenRefreshHorizon))
	if err != nil {
		return err
	}

	var errs []error
	for _, sa := range expiring {
		if err := h.auth.UpdateServiceAccountRefreshToken(ctx, sa.ID); err != nil {
			logger.WithContext(ctx).Error().Err(err).
				Str("service_account_id", sa.ID).
				Msg("failed to refresh service account token")
			if !apperrors.IsUserFacing(err) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RunDiagnostics compares a calendar's events with the provider's and
// stores the report.
func (h *Handlers) RunDiagnostics(ctx context.Context, p DiagnosticsParams) error {
	cal, err := h.calendars.GetByID(ctx, p.CalendarID)
	if err != nil {
		return err
	}

	report := DiagnosticsReport{
		RunID:      p.RunID,
		CalendarID: cal.ID,
		AccountID:  cal.AccountID,
		CheckedAt:  h.now().UTC(),
	}

	local, err := h.events.CountByCalendar(ctx, cal.ID)
	if err != nil {
		return err
	}
	report.LocalEvents = local

	if cal.ExternalID != nil {
		account, err := h.accounts.GetByID(ctx, cal.AccountID)
		if err != nil {
			return err
		}
		report.SyncState = account.SyncState

		params := nylas.ListEventsParams{CalendarID: *cal.ExternalID}
		if account.ActivePeriodStart != nil {
			params.StartsAfter = *account.ActivePeriodStart
		}
		remote, err := h.provider.ListEvents(ctx, account.AccessToken, params)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			report.Problems = append(report.Problems, "calendar no longer exists at the provider")
		case err != nil:
			return err
		default:
			report.ProviderCalendarFound = true
			report.ProviderEvents = len(remote)
		}
	} else {
		report.Problems = append(report.Problems, "calendar has not been exported")
	}

	if report.ProviderCalendarFound && report.ProviderEvents != report.LocalEvents {
		report.Problems = append(report.Problems,
			fmt.Sprintf("event count differs: provider %d, local %d", report.ProviderEvents, report.LocalEvents))
	}
	return h.diagnostics.Save(ctx, report)
}

func calendarFromProvider(accountID string, rc nylas.Calendar) *types.Calendar {
	externalID := rc.ID
	return &types.Calendar{
		AccountID:   accountID,
		ExternalID:  &externalID,
		Name:        rc.Name,
		Description: rc.Description,
		Timezone:    rc.Timezone,
		ReadOnly:    rc.ReadOnly,
		IsPrimary:   rc.IsPrimary,
	}
}

func eventFromProvider(calendarID string, re nylas.Event) *types.Event {
	externalID := re.ID
	return &types.Event{
		CalendarID: calendarID,
		ExternalID: &externalID,
		Title:      re.Title,
		StartsAt:   re.Start(),
		EndsAt:     re.End(),
		Status:     re.Status,
	}
}
