package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/oauth"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/tasks"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

type memCodes struct {
	mu    sync.Mutex
	codes map[uuid.UUID]auth.AuthCode
}

func newMemCodes() *memCodes {
	return &memCodes{codes: make(map[uuid.UUID]auth.AuthCode)}
}

func (m *memCodes) Create(_ context.Context, code auth.AuthCode, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[code.Code] = code
	return nil
}

func (m *memCodes) TryGet(_ context.Context, code uuid.UUID) (*auth.AuthCode, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.codes[code]
	if !ok {
		return nil, false, nil
	}
	return &ac, true, nil
}

func (m *memCodes) TryDelete(_ context.Context, code uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, code)
	return nil
}

func (m *memCodes) has(code uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.codes[code]
	return ok
}

// fakeProvider is an OAuth server that signs in as identity for every code.
type fakeProvider struct {
	name      string
	identity  oauth.Result
	err       error
	refreshed *oauth.Result
	exchanges int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://login.example.com/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth.Result, error) {
	p.exchanges++
	if p.err != nil {
		return nil, p.err
	}
	res := p.identity
	return &res, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.refreshed == nil {
		return nil, fmt.Errorf("refresh token %s revoked", refreshToken)
	}
	res := *p.refreshed
	return &res, nil
}

type fakeAccounts struct {
	byID    map[string]*types.Account
	errors  []types.AccountError
	updates []types.UpdateAccountRequest
	cleared []string
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

func (f *fakeAccounts) TryGetByEmail(_ context.Context, email string) (*types.Account, bool, error) {
	for _, a := range f.byID {
		if strings.EqualFold(a.Email, email) {
			out := *a
			return &out, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeAccounts) Create(_ context.Context, a *types.Account) error {
	if _, ok := f.byID[a.ID]; ok {
		return apperrors.ErrConflict
	}
	stored := *a
	f.byID[a.ID] = &stored
	return nil
}

func (f *fakeAccounts) Update(_ context.Context, req types.UpdateAccountRequest) error {
	a, ok := f.byID[req.ID]
	if !ok {
		return apperrors.ErrAccountNotFound
	}
	f.updates = append(f.updates, req)
	if req.Fields.Has(types.UpdateName) {
		a.Name = req.Name
	}
	if req.Fields.Has(types.UpdateAuthMethod) {
		a.AuthMethod = req.AuthMethod
	}
	if req.Fields.Has(types.UpdateSettings) {
		a.Settings = req.Settings
	}
	if req.Fields.Has(types.UpdateAccessToken) {
		a.AccessToken = req.AccessToken
	}
	if req.Fields.Has(types.UpdateServiceAccount) {
		a.ServiceAccountID = req.ServiceAccountID
	}
	return nil
}

func (f *fakeAccounts) CreateError(_ context.Context, e *types.AccountError) error {
	f.errors = append(f.errors, *e)
	return nil
}

func (f *fakeAccounts) DeleteErrors(_ context.Context, accountID string, errType types.AccountErrorType) error {
	f.cleared = append(f.cleared, accountID+" "+string(errType))
	kept := f.errors[:0]
	for _, e := range f.errors {
		if e.AccountID != accountID || e.Type != errType {
			kept = append(kept, e)
		}
	}
	f.errors = kept
	return nil
}

func (f *fakeAccounts) only() *types.Account {
	for _, a := range f.byID {
		return a
	}
	return nil
}

type fakeServiceAccounts struct {
	byID    map[string]*types.ServiceAccount
	updated []string
}

func newFakeServiceAccounts(sas ...types.ServiceAccount) *fakeServiceAccounts {
	f := &fakeServiceAccounts{byID: make(map[string]*types.ServiceAccount)}
	for i := range sas {
		sa := sas[i]
		f.byID[sa.ID] = &sa
	}
	return f
}

func (f *fakeServiceAccounts) GetByID(_ context.Context, id string) (*types.ServiceAccount, error) {
	sa, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ErrServiceAccountNotFound
	}
	out := *sa
	return &out, nil
}

func (f *fakeServiceAccounts) TryGetByEmail(_ context.Context, email string) (*types.ServiceAccount, bool, error) {
	for _, sa := range f.byID {
		if strings.EqualFold(sa.Email, email) {
			out := *sa
			return &out, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeServiceAccounts) Create(_ context.Context, sa *types.ServiceAccount) error {
	if sa.ID == "" {
		return fmt.Errorf("service account %s has no id", sa.Email)
	}
	stored := *sa
	f.byID[sa.ID] = &stored
	return nil
}

func (f *fakeServiceAccounts) UpdateSettings(_ context.Context, id, name string, settings []byte, expiresAt *time.Time) error {
	sa, ok := f.byID[id]
	if !ok {
		return apperrors.ErrServiceAccountNotFound
	}
	f.updated = append(f.updated, id)
	sa.Name = name
	sa.Settings = settings
	sa.ExpiresAt = expiresAt
	return nil
}

type fakeConferencingUsers struct {
	byID map[string]*types.ConferencingUser
}

func newFakeConferencingUsers() *fakeConferencingUsers {
	return &fakeConferencingUsers{byID: make(map[string]*types.ConferencingUser)}
}

func (f *fakeConferencingUsers) TryGetByEmail(_ context.Context, email string) (*types.ConferencingUser, bool, error) {
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeConferencingUsers) Create(_ context.Context, u *types.ConferencingUser) error {
	u.ID = uuid.NewString()
	stored := *u
	f.byID[u.ID] = &stored
	return nil
}

func (f *fakeConferencingUsers) UpdateSettings(_ context.Context, id, name string, externalID *string, settings []byte, expiresAt *time.Time) error {
	u, ok := f.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	u.Name = name
	u.ExternalID = externalID
	u.Settings = settings
	u.ExpiresAt = expiresAt
	return nil
}

// recordingScheduler keeps one line per requested task.
type recordingScheduler struct {
	calls []string
}

func (s *recordingScheduler) record(format string, args ...any) error {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return nil
}

func (s *recordingScheduler) ImportAllCalendarsFromProvider(_ context.Context, p tasks.ImportAllCalendarsParams) error {
	return s.record("import-all-calendars %s", p.AccountID)
}

func (s *recordingScheduler) ImportCalendarFromProvider(_ context.Context, p tasks.ChangeCalendarParams) error {
	return s.record("import-calendar %s %s", p.AccountID, p.ExternalCalendarID)
}

func (s *recordingScheduler) DeleteCalendarFromProvider(_ context.Context, p tasks.ChangeCalendarParams) error {
	return s.record("delete-calendar %s %s", p.AccountID, p.ExternalCalendarID)
}

func (s *recordingScheduler) ExportCalendarsToProvider(_ context.Context, p tasks.ExportCalendarsParams) error {
	return s.record("export-calendars %s", strings.Join(p.CalendarIDs, ","))
}

func (s *recordingScheduler) SyncAllEventsForCalendar(_ context.Context, p tasks.SyncAllEventsParams) error {
	return s.record("sync-all-events %s", p.CalendarID)
}

func (s *recordingScheduler) ImportEventFromProvider(_ context.Context, p tasks.ChangeEventParams) error {
	return s.record("import-event %s %s", p.AccountID, p.ExternalEventID)
}

func (s *recordingScheduler) DeleteEventFromProvider(_ context.Context, p tasks.ChangeEventParams) error {
	return s.record("delete-event %s %s", p.AccountID, p.ExternalEventID)
}

func (s *recordingScheduler) ExportEventToProvider(_ context.Context, p tasks.ExportEventParams) error {
	return s.record("export-event %s", p.EventID)
}

func (s *recordingScheduler) DeleteAccountFromProvider(_ context.Context, p tasks.DeleteAccountParams) error {
	return s.record("delete-account %s", p.AccountID)
}

func (s *recordingScheduler) UpdateAllSubaccountTokens(_ context.Context, p tasks.UpdateAllSubaccountTokensParams) error {
	return s.record("update-all-subaccount-tokens %s", p.ServiceAccountID)
}

func (s *recordingScheduler) UpdateSubaccountToken(_ context.Context, p tasks.UpdateSubaccountTokenParams) error {
	return s.record("update-subaccount-token %s", p.AccountID)
}

func (s *recordingScheduler) UpdateAccountSyncState(_ context.Context, p tasks.UpdateAccountSyncStateParams) error {
	return s.record("update-account-sync-state %s", p.AccountID)
}

func (s *recordingScheduler) AdvanceActivePeriod(context.Context) error {
	return s.record("advance-active-period")
}

func (s *recordingScheduler) RefreshExpiredTokens(context.Context) error {
	return s.record("refresh-expired-tokens")
}

func (s *recordingScheduler) RunDiagnostics(_ context.Context, p tasks.DiagnosticsParams) error {
	return s.record("diagnostics %s %s", p.RunID, p.CalendarID)
}
