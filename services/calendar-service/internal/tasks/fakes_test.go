package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/events"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []events.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fakeAccounts struct {
	byID   map[string]*types.Account
	errors []types.AccountError
	// onHolds runs before every lock ownership check.
	onHolds func(a *types.Account)
}

func newFakeAccounts(accounts ...types.Account) *fakeAccounts {
	f := &fakeAccounts{byID: make(map[string]*types.Account)}
	for i := range accounts {
		a := accounts[i]
		f.byID[a.ID] = &a
	}
	return f
}

func (f *fakeAccounts) GetByID(_ context.Context, id string) (*types.Account, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ErrAccountNotFound
	}
	out := *a
	return &out, nil
}

func (f *fakeAccounts) Update(_ context.Context, req types.UpdateAccountRequest) error {
	a, ok := f.byID[req.ID]
	if !ok {
		return apperrors.ErrAccountNotFound
	}
	if req.Fields.Has(types.UpdateSyncState) {
		a.SyncState = req.SyncState
	}
	if req.Fields.Has(types.UpdateAccessToken) {
		a.AccessToken = req.AccessToken
	}
	if req.Fields.Has(types.UpdateActivePeriod) {
		start := req.ActivePeriodStart
		a.ActivePeriodStart = &start
	}
	return nil
}

func (f *fakeAccounts) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeAccounts) ListByServiceAccount(_ context.Context, serviceAccountID string) ([]types.Account, error) {
	var out []types.Account
	for _, a := range f.byID {
		if a.ServiceAccountID != nil && *a.ServiceAccountID == serviceAccountID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) CreateError(_ context.Context, e *types.AccountError) error {
	f.errors = append(f.errors, *e)
	return nil
}

func (f *fakeAccounts) AdvanceActivePeriod(_ context.Context, start time.Time) (int64, error) {
	for _, a := range f.byID {
		s := start
		a.ActivePeriodStart = &s
	}
	return int64(len(f.byID)), nil
}

func (f *fakeAccounts) AcquireInboundSyncLock(_ context.Context, id, token string, until time.Time) error {
	a, ok := f.byID[id]
	if !ok {
		return apperrors.ErrAccountNotFound
	}
	a.InboundSyncLockToken = &token
	a.InboundSyncLockUntil = &until
	return nil
}

func (f *fakeAccounts) HoldsInboundSyncLock(_ context.Context, id, token string) (bool, error) {
	a, ok := f.byID[id]
	if !ok {
		return false, apperrors.ErrAccountNotFound
	}
	if f.onHolds != nil {
		f.onHolds(a)
	}
	return a.InboundSyncLockToken != nil && *a.InboundSyncLockToken == token, nil
}

func (f *fakeAccounts) ReleaseInboundSyncLock(_ context.Context, id, token string) error {
	a, ok := f.byID[id]
	if !ok {
		return nil
	}
	if a.InboundSyncLockToken != nil && *a.InboundSyncLockToken == token {
		a.InboundSyncLockToken = nil
		a.InboundSyncLockUntil = nil
	}
	return nil
}

type fakeCalendars struct {
	byID map[string]*types.Calendar
}

func newFakeCalendars(cals ...types.Calendar) *fakeCalendars {
	f := &fakeCalendars{byID: make(map[string]*types.Calendar)}
	for i := range cals {
		c := cals[i]
		f.byID[c.ID] = &c
	}
	return f
}

func (f *fakeCalendars) GetByID(_ context.Context, id string) (*types.Calendar, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ErrCalendarNotFound
	}
	out := *c
	return &out, nil
}

func (f *fakeCalendars) TryGetByExternalID(_ context.Context, accountID, externalID string) (*types.Calendar, bool, error) {
	for _, c := range f.byID {
		if c.AccountID == accountID && c.ExternalID != nil && *c.ExternalID == externalID {
			out := *c
			return &out, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeCalendars) Upsert(ctx context.Context, cal *types.Calendar) error {
	if existing, ok, _ := f.TryGetByExternalID(ctx, cal.AccountID, *cal.ExternalID); ok {
		cal.ID = existing.ID
	} else {
		cal.ID = uuid.New().String()
	}
	stored := *cal
	f.byID[cal.ID] = &stored
	return nil
}

func (f *fakeCalendars) SetExternalID(_ context.Context, id, externalID string) error {
	c, ok := f.byID[id]
	if !ok {
		return apperrors.ErrCalendarNotFound
	}
	c.ExternalID = &externalID
	return nil
}

func (f *fakeCalendars) ListByAccount(_ context.Context, accountID string) ([]types.Calendar, error) {
	var out []types.Calendar
	for _, c := range f.byID {
		if c.AccountID == accountID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCalendars) DeleteByExternalID(_ context.Context, accountID, externalID string) error {
	for id, c := range f.byID {
		if c.AccountID == accountID && c.ExternalID != nil && *c.ExternalID == externalID {
			delete(f.byID, id)
		}
	}
	return nil
}

func (f *fakeCalendars) byExternalID(externalID string) *types.Calendar {
	for _, c := range f.byID {
		if c.ExternalID != nil && *c.ExternalID == externalID {
			return c
		}
	}
	return nil
}

type fakeEvents struct {
	byID      map[string]*types.Event
	calendars *fakeCalendars
}

func newFakeEvents(calendars *fakeCalendars, evs ...types.Event) *fakeEvents {
	f := &fakeEvents{byID: make(map[string]*types.Event), calendars: calendars}
	for i := range evs {
		e := evs[i]
		f.byID[e.ID] = &e
	}
	return f
}

func (f *fakeEvents) GetByID(_ context.Context, id string) (*types.Event, error) {
	e, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}
	out := *e
	return &out, nil
}

func (f *fakeEvents) Upsert(_ context.Context, ev *types.Event) error {
	for id, e := range f.byID {
		if e.CalendarID == ev.CalendarID && e.ExternalID != nil && *e.ExternalID == *ev.ExternalID {
			ev.ID = id
		}
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	stored := *ev
	f.byID[ev.ID] = &stored
	return nil
}

func (f *fakeEvents) SetExternalID(_ context.Context, id, externalID string) error {
	e, ok := f.byID[id]
	if !ok {
		return apperrors.ErrEventNotFound
	}
	e.ExternalID = &externalID
	return nil
}

func (f *fakeEvents) DeleteByExternalID(_ context.Context, accountID, externalID string) error {
	for id, e := range f.byID {
		cal, ok := f.calendars.byID[e.CalendarID]
		if !ok || cal.AccountID != accountID {
			continue
		}
		if e.ExternalID != nil && *e.ExternalID == externalID {
			delete(f.byID, id)
		}
	}
	return nil
}

func (f *fakeEvents) DeleteMissing(_ context.Context, calendarID string, keep []string) (int64, error) {
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}
	var n int64
	for id, e := range f.byID {
		if e.CalendarID == calendarID && e.ExternalID != nil && !kept[*e.ExternalID] {
			delete(f.byID, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) DeleteEndedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for id, e := range f.byID {
		if e.EndsAt.Before(before) {
			delete(f.byID, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) CountByCalendar(_ context.Context, calendarID string) (int, error) {
	n := 0
	for _, e := range f.byID {
		if e.CalendarID == calendarID {
			n++
		}
	}
	return n, nil
}

type fakeServiceAccounts struct {
	expiring []types.ServiceAccount
}

func (f *fakeServiceAccounts) ListExpiring(_ context.Context, _ time.Time) ([]types.ServiceAccount, error) {
	return f.expiring, nil
}

type fakeAuthenticator struct {
	subaccounts     []string
	serviceAccounts []string
	failFor         map[string]error
}

func (f *fakeAuthenticator) UpdateSubaccountToken(_ context.Context, accountID string) error {
	f.subaccounts = append(f.subaccounts, accountID)
	return f.failFor[accountID]
}

func (f *fakeAuthenticator) UpdateServiceAccountRefreshToken(_ context.Context, serviceAccountID string) error {
	f.serviceAccounts = append(f.serviceAccounts, serviceAccountID)
	return f.failFor[serviceAccountID]
}

// recordingScheduler records requested tasks instead of dispatching them.
type recordingScheduler struct {
	calls []string
}

func (s *recordingScheduler) record(format string, args ...any) error {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return nil
}

func (s *recordingScheduler) ImportAllCalendarsFromProvider(_ context.Context, p ImportAllCalendarsParams) error {
	return s.record("import-all %s", p.AccountID)
}

func (s *recordingScheduler) ImportCalendarFromProvider(_ context.Context, p ChangeCalendarParams) error {
	return s.record("import-calendar %s", p.ExternalCalendarID)
}

func (s *recordingScheduler) DeleteCalendarFromProvider(_ context.Context, p ChangeCalendarParams) error {
	return s.record("delete-calendar %s", p.ExternalCalendarID)
}

func (s *recordingScheduler) ExportCalendarsToProvider(_ context.Context, p ExportCalendarsParams) error {
	return s.record("export-calendars %v", p.CalendarIDs)
}

func (s *recordingScheduler) SyncAllEventsForCalendar(_ context.Context, p SyncAllEventsParams) error {
	return s.record("sync-all-events %s", p.CalendarID)
}

func (s *recordingScheduler) ImportEventFromProvider(_ context.Context, p ChangeEventParams) error {
	return s.record("import-event %s", p.ExternalEventID)
}

func (s *recordingScheduler) DeleteEventFromProvider(_ context.Context, p ChangeEventParams) error {
	return s.record("delete-event %s", p.ExternalEventID)
}

func (s *recordingScheduler) ExportEventToProvider(_ context.Context, p ExportEventParams) error {
	return s.record("export-event %s", p.EventID)
}

func (s *recordingScheduler) DeleteAccountFromProvider(_ context.Context, p DeleteAccountParams) error {
	return s.record("delete-account %s", p.AccountID)
}

func (s *recordingScheduler) UpdateAllSubaccountTokens(_ context.Context, p UpdateAllSubaccountTokensParams) error {
	return s.record("update-all-subaccount-tokens %s", p.ServiceAccountID)
}

func (s *recordingScheduler) UpdateSubaccountToken(_ context.Context, p UpdateSubaccountTokenParams) error {
	return s.record("update-subaccount-token %s", p.AccountID)
}

func (s *recordingScheduler) UpdateAccountSyncState(_ context.Context, p UpdateAccountSyncStateParams) error {
	return s.record("update-account-sync-state %s", p.AccountID)
}

func (s *recordingScheduler) AdvanceActivePeriod(_ context.Context) error {
	return s.record("advance-active-period")
}

func (s *recordingScheduler) RefreshExpiredTokens(_ context.Context) error {
	return s.record("refresh-expired-tokens")
}

func (s *recordingScheduler) RunDiagnostics(_ context.Context, p DiagnosticsParams) error {
	return s.record("diagnostics %s", p.CalendarID)
}

var _ Scheduler = (*recordingScheduler)(nil)

type memDiagnostics struct {
	reports map[string]DiagnosticsReport
}

func (m *memDiagnostics) Save(_ context.Context, report DiagnosticsReport) error {
	if m.reports == nil {
		m.reports = make(map[string]DiagnosticsReport)
	}
	m.reports[report.RunID] = report
	return nil
}

func (m *memDiagnostics) Get(_ context.Context, runID string) (*DiagnosticsReport, error) {
	r, ok := m.reports[runID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &r, nil
}

type fakeSubscriber struct {
	group  string
	topics []string
	err    error
	closed bool
}

func (s *fakeSubscriber) Subscribe(_ context.Context, topic string, _ events.RetryPolicy, _ events.Handler) error {
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topic)
	return nil
}

func (s *fakeSubscriber) Close() error {
	s.closed = true
	return nil
}

var errTransient = errors.New("connection reset by peer")
