package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiauth "github.com/Rohianon/uou/pkg/auth"
	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/middleware"
	"github.com/Rohianon/uou/pkg/response"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/tasks"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

const (
	jwtSecret     = "test-jwt-secret"
	webhookSecret = "test-webhook-secret"
)

type fakeAuth struct {
	codeReq       *types.CreateAuthCodeRequest
	subaccountReq *types.AuthSubaccountRequest
	submitted     map[string]string
	redirect      string
	result        *auth.Result
	err           error
}

func (f *fakeAuth) CreateAuthCode(_ context.Context, req *types.CreateAuthCodeRequest) (*types.CreateAuthCodeResponse, error) {
	f.codeReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &types.CreateAuthCodeResponse{Code: "code-1", ExpiresAt: time.Date(2026, 3, 10, 9, 10, 0, 0, time.UTC)}, nil
}

func (f *fakeAuth) GetOAuthRedirectURL(_ context.Context, method auth.Method, code string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.redirect + "?state=" + auth.OAuthState{Method: method, Code: uuid.MustParse(code)}.Encode(), nil
}

func (f *fakeAuth) HandleOAuthCallback(_ context.Context, code, state string) (*auth.Result, error) {
	return f.result, f.err
}

func (f *fakeAuth) HandleDirectSubmissionAuth(_ context.Context, method auth.Method, code string, data map[string]string) (*auth.Result, error) {
	f.submitted = data
	return f.result, f.err
}

func (f *fakeAuth) AuthSubaccount(_ context.Context, req *types.AuthSubaccountRequest) (*types.AuthSubaccountResponse, error) {
	f.subaccountReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &types.AuthSubaccountResponse{AccountID: "acc-9"}, nil
}

type fakeLister struct {
	orgID         string
	limit, offset int
	total         int64
}

func (f *fakeLister) ListByOrg(_ context.Context, orgID string, limit, offset int) ([]types.AccountSummary, int64, error) {
	f.orgID, f.limit, f.offset = orgID, limit, offset
	return []types.AccountSummary{
		{ID: "acc-1", Email: "ann@example.com", AuthMethod: auth.MethodGoogleOAuth},
		{ID: "acc-2", Email: "bob@example.com"},
	}, f.total, nil
}

type fakeDiagnostics struct {
	reports map[string]*tasks.DiagnosticsReport
}

func (f *fakeDiagnostics) Get(_ context.Context, runID string) (*tasks.DiagnosticsReport, error) {
	r, ok := f.reports[runID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return r, nil
}

// recordingScheduler keeps one line per requested task.
type recordingScheduler struct {
	calls []string
	err   error
}

func (s *recordingScheduler) record(format string, args ...any) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return nil
}

func (s *recordingScheduler) ImportAllCalendarsFromProvider(_ context.Context, p tasks.ImportAllCalendarsParams) error {
	return s.record("import-all-calendars %s", p.AccountID)
}

func (s *recordingScheduler) ImportCalendarFromProvider(_ context.Context, p tasks.ChangeCalendarParams) error {
	return s.record("import-calendar %s %s %t", p.AccountID, p.ExternalCalendarID, p.FromProviderNotification)
}

func (s *recordingScheduler) DeleteCalendarFromProvider(_ context.Context, p tasks.ChangeCalendarParams) error {
	return s.record("delete-calendar %s %s %t", p.AccountID, p.ExternalCalendarID, p.FromProviderNotification)
}

func (s *recordingScheduler) ExportCalendarsToProvider(_ context.Context, p tasks.ExportCalendarsParams) error {
	return s.record("export-calendars %s", strings.Join(p.CalendarIDs, ","))
}

func (s *recordingScheduler) SyncAllEventsForCalendar(_ context.Context, p tasks.SyncAllEventsParams) error {
	return s.record("sync-all-events %s", p.CalendarID)
}

func (s *recordingScheduler) ImportEventFromProvider(_ context.Context, p tasks.ChangeEventParams) error {
	return s.record("import-event %s %s %t", p.AccountID, p.ExternalEventID, p.FromProviderNotification)
}

func (s *recordingScheduler) DeleteEventFromProvider(_ context.Context, p tasks.ChangeEventParams) error {
	return s.record("delete-event %s %s %t", p.AccountID, p.ExternalEventID, p.FromProviderNotification)
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
	return s.record("diagnostics %s", p.CalendarID)
}

type testServer struct {
	app       *fiber.App
	auth      *fakeAuth
	accounts  *fakeLister
	scheduler *recordingScheduler
	diag      *fakeDiagnostics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		auth:      &fakeAuth{redirect: "https://login.example.com/authorize"},
		accounts:  &fakeLister{},
		scheduler: &recordingScheduler{},
		diag:      &fakeDiagnostics{reports: map[string]*tasks.DiagnosticsReport{}},
	}
	s.app = fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	s.app.Use(middleware.RequestID())
	New(s.auth, s.accounts, s.scheduler, s.diag).Routes(s.app,
		middleware.Auth(jwtSecret),
		middleware.WebhookSignature(webhookSecret, "X-Nylas-Signature"),
	)
	return s
}

func bearer(t *testing.T, orgID string) string {
	t.Helper()
	token, err := apiauth.NewTokenManager(&apiauth.Config{Secret: jwtSecret}).Issue(orgID, "ops@example.com")
	require.NoError(t, err)
	return "Bearer " + token.Token
}

func (s *testServer) do(t *testing.T, method, target, body string, header map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) authed(t *testing.T, method, target, body string) *http.Response {
	t.Helper()
	return s.do(t, method, target, body, map[string]string{"Authorization": bearer(t, "org-1")})
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestCreateAuthCode(t *testing.T) {
	s := newTestServer(t)

	resp := s.authed(t, http.MethodPost, "/v1/auth/codes", `{"redirect_uri":"https://app.example.com/done","org_id":"spoofed"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NotNil(t, s.auth.codeReq)
	assert.Equal(t, "org-1", s.auth.codeReq.OrgID, "org comes from the token")
	assert.Equal(t, "https://app.example.com/done", s.auth.codeReq.RedirectURI)

	var got types.CreateAuthCodeResponse
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &got))
	assert.Equal(t, "code-1", got.Code)
}

func TestCreateAuthCode_EmptyBody(t *testing.T) {
	s := newTestServer(t)
	resp := s.authed(t, http.MethodPost, "/v1/auth/codes", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Empty(t, s.auth.codeReq.RedirectURI)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/v1/auth/codes"},
		{http.MethodPost, "/v1/auth/submit/EWS"},
		{http.MethodPost, "/v1/service-accounts/sa-1/subaccounts"},
		{http.MethodGet, "/v1/accounts"},
		{http.MethodGet, "/v1/auth/methods"},
		{http.MethodPost, "/v1/maintenance/advance-active-period"},
	} {
		resp := s.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, route.path)
	}
	assert.Empty(t, s.scheduler.calls)
}

func TestConnect(t *testing.T) {
	s := newTestServer(t)
	code := uuid.New()

	resp := s.do(t, http.MethodGet, "/v1/auth/connect/google_oauth?code="+code.String(), "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "login.example.com", u.Host)
	st, ok := auth.DecodeOAuthState(u.Query().Get("state"))
	require.True(t, ok)
	assert.Equal(t, auth.MethodGoogleOAuth, st.Method)
	assert.Equal(t, code, st.Code)
}

func TestConnect_Errors(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/v1/auth/connect/FACEBOOK?code="+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UNSUPPORTED_AUTH_METHOD", decode(t, resp).Error.Code)

	resp = s.do(t, http.MethodGet, "/v1/auth/connect/GOOGLE_OAUTH", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s.auth.err = apperrors.ErrAuthCodeNotFound
	resp = s.do(t, http.MethodGet, "/v1/auth/connect/GOOGLE_OAUTH?code="+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "AUTH_CODE_NOT_FOUND", decode(t, resp).Error.Code)
}

func TestOAuthCallback_RedirectsWithResult(t *testing.T) {
	s := newTestServer(t)
	code := uuid.New()
	s.auth.result = &auth.Result{
		Code:   auth.AuthCode{Code: code, OrgID: "org-1", RedirectURI: "https://app.example.com/done"},
		IDType: auth.IdentifierAccount,
		ID:     "acc-1",
	}

	resp := s.do(t, http.MethodGet, "/v1/auth/oauth/callback?code=pc&state=st", "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", u.Host)
	assert.Equal(t, code.String(), u.Query().Get("authCode"))
	assert.Equal(t, "acc-1", u.Query().Get("accountId"))
	assert.Equal(t, "ACCOUNT", u.Query().Get("idType"))
}

func TestOAuthCallback_RedirectsWithError(t *testing.T) {
	s := newTestServer(t)
	s.auth.result = &auth.Result{Code: auth.AuthCode{Code: uuid.New(), RedirectURI: "https://app.example.com/done"}}
	s.auth.err = apperrors.ErrInternalConsistency.WithError(errors.New("acc-1 vs acc-2"))

	resp := s.do(t, http.MethodGet, "/v1/auth/oauth/callback?code=pc&state=st", "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, apperrors.ErrInternal.Message, u.Query().Get("error"), "internal details stay server side")
	assert.False(t, u.Query().Has("accountId"))
}

func TestOAuthCallback_WithoutRedirectURI(t *testing.T) {
	s := newTestServer(t)
	s.auth.result = &auth.Result{Code: auth.AuthCode{Code: uuid.New()}, IDType: auth.IdentifierServiceAccount, ID: "sa-1"}

	resp := s.do(t, http.MethodGet, "/v1/auth/oauth/callback?code=pc&state=st", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got types.AuthResultResponse
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &got))
	assert.Equal(t, types.AuthResultResponse{IDType: "SERVICE_ACCOUNT", ID: "sa-1"}, got)
}

func TestOAuthCallback_ErrorWithoutCode(t *testing.T) {
	s := newTestServer(t)
	s.auth.err = apperrors.ErrInvalidAuthState

	resp := s.do(t, http.MethodGet, "/v1/auth/oauth/callback?code=pc&state=garbage", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decode(t, resp)
	assert.Equal(t, "INVALID_AUTH_STATE", env.Error.Code)
	assert.Equal(t, "Invalid auth state. Please try again.", env.Error.Message)
}

func TestSubmitCredentials(t *testing.T) {
	s := newTestServer(t)
	s.auth.result = &auth.Result{IDType: auth.IdentifierAccount, ID: "acc-2"}

	resp := s.authed(t, http.MethodPost, "/v1/auth/submit/EWS", `{"code":"c1","data":{"email":"ann@example.com","password":"p"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ann@example.com", s.auth.submitted["email"])

	resp = s.authed(t, http.MethodPost, "/v1/auth/submit/EWS", `{"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthSubaccount(t *testing.T) {
	s := newTestServer(t)

	resp := s.authed(t, http.MethodPost, "/v1/service-accounts/sa-1/subaccounts", `{"email":"bob@contoso.com","name":"Bob"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, &types.AuthSubaccountRequest{
		OrgID:            "org-1",
		ServiceAccountID: "sa-1",
		Email:            "bob@contoso.com",
		Name:             "Bob",
	}, s.auth.subaccountReq)

	s.auth.err = apperrors.ErrEmailConflict
	resp = s.authed(t, http.MethodPost, "/v1/service-accounts/sa-1/subaccounts", `{"email":"bob@contoso.com"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListAccounts(t *testing.T) {
	s := newTestServer(t)
	s.accounts.total = 25

	resp := s.authed(t, http.MethodGet, "/v1/accounts?page=2&per_page=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "org-1", s.accounts.orgID)
	assert.Equal(t, 10, s.accounts.limit)
	assert.Equal(t, 10, s.accounts.offset)

	var page response.PaginatedData
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &page))
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasMore)

	items, ok := page.Items.([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "GOOGLE_OAUTH", items[0].(map[string]any)["auth_method"])
	assert.Equal(t, "", items[1].(map[string]any)["auth_method"])
}

func TestListMethods(t *testing.T) {
	s := newTestServer(t)

	resp := s.authed(t, http.MethodGet, "/v1/auth/methods", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var methods []MethodInfo
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &methods))
	require.Len(t, methods, len(auth.Methods()))
	for _, m := range methods {
		if m.Method == "MS_OAUTH_SA" {
			assert.True(t, m.ServiceAccount)
			assert.Equal(t, "OAUTH_AUTH_CODE", m.Flow)
		}
	}
}

func TestWebhookChallenge(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/v1/webhooks/provider?challenge=abc123", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "abc123", string(body))

	resp = s.do(t, http.MethodGet, "/v1/webhooks/provider", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestProviderWebhook(t *testing.T) {
	s := newTestServer(t)
	body := `{"deltas":[
		{"type":"calendar.created","object_data":{"id":"cal-x","account_id":"acc-1"}},
		{"type":"calendar.deleted","object_data":{"id":"cal-y","account_id":"acc-1"}},
		{"type":"event.updated","object_data":{"id":"ev-x","account_id":"acc-1"}},
		{"type":"event.deleted","object_data":{"id":"ev-y","account_id":"acc-1"}},
		{"type":"account.invalid","object_data":{"id":"acc-1","account_id":"acc-1"}},
		{"type":"message.created","object_data":{"id":"m-1","account_id":"acc-1"}},
		{"type":"event.created","object_data":{"id":"ev-z"}}
	]}`

	resp := s.do(t, http.MethodPost, "/v1/webhooks/provider", body, map[string]string{"X-Nylas-Signature": sign(body)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{
		"import-calendar acc-1 cal-x true",
		"delete-calendar acc-1 cal-y true",
		"import-event acc-1 ev-x true",
		"delete-event acc-1 ev-y true",
		"update-account-sync-state acc-1",
	}, s.scheduler.calls)
}

func TestProviderWebhook_Rejected(t *testing.T) {
	s := newTestServer(t)
	body := `{"deltas":[{"type":"event.created","object_data":{"id":"ev-x","account_id":"acc-1"}}]}`

	resp := s.do(t, http.MethodPost, "/v1/webhooks/provider", body, map[string]string{"X-Nylas-Signature": sign(body + " ")})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/v1/webhooks/provider", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, s.scheduler.calls)
}

func TestProviderWebhook_SchedulerDown(t *testing.T) {
	s := newTestServer(t)
	s.scheduler.err = errors.New("broker unavailable")
	body := `{"deltas":[{"type":"event.created","object_data":{"id":"ev-x","account_id":"acc-1"}}]}`

	resp := s.do(t, http.MethodPost, "/v1/webhooks/provider", body, map[string]string{"X-Nylas-Signature": sign(body)})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "the provider redelivers")
}

func TestMaintenance(t *testing.T) {
	s := newTestServer(t)

	resp := s.authed(t, http.MethodPost, "/v1/maintenance/advance-active-period", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = s.authed(t, http.MethodPost, "/v1/maintenance/refresh-expired-tokens", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Equal(t, []string{"advance-active-period", "refresh-expired-tokens"}, s.scheduler.calls)
}

func TestDiagnostics(t *testing.T) {
	s := newTestServer(t)

	resp := s.authed(t, http.MethodPost, "/v1/diagnostics/calendars/cal-1", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var run struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &run))
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, []string{"diagnostics cal-1"}, s.scheduler.calls)

	resp = s.authed(t, http.MethodGet, "/v1/diagnostics/"+run.RunID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.diag.reports[run.RunID] = &tasks.DiagnosticsReport{RunID: run.RunID, CalendarID: "cal-1", ProviderCalendarFound: true}
	resp = s.authed(t, http.MethodGet, "/v1/diagnostics/"+run.RunID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report tasks.DiagnosticsReport
	require.NoError(t, json.Unmarshal(decode(t, resp).Data, &report))
	assert.Equal(t, "cal-1", report.CalendarID)
}
