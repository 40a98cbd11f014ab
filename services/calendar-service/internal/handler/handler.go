package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/pkg/middleware"
	"github.com/Rohianon/uou/pkg/response"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/service"
	"github.com/Rohianon/uou/services/calendar-service/internal/tasks"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// AuthService runs the auth flows behind the auth endpoints.
type AuthService interface {
	CreateAuthCode(ctx context.Context, req *types.CreateAuthCodeRequest) (*types.CreateAuthCodeResponse, error)
	GetOAuthRedirectURL(ctx context.Context, method auth.Method, code string) (string, error)
	HandleOAuthCallback(ctx context.Context, code, state string) (*auth.Result, error)
	HandleDirectSubmissionAuth(ctx context.Context, method auth.Method, code string, data map[string]string) (*auth.Result, error)
	AuthSubaccount(ctx context.Context, req *types.AuthSubaccountRequest) (*types.AuthSubaccountResponse, error)
}

type AccountLister interface {
	ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]types.AccountSummary, int64, error)
}

type DiagnosticsReader interface {
	Get(ctx context.Context, runID string) (*tasks.DiagnosticsReport, error)
}

type Handler struct {
	auth        AuthService
	accounts    AccountLister
	scheduler   tasks.Scheduler
	diagnostics DiagnosticsReader
}

func New(authService AuthService, accounts AccountLister, scheduler tasks.Scheduler, diagnostics DiagnosticsReader) *Handler {
	return &Handler{
		auth:        authService,
		accounts:    accounts,
		scheduler:   scheduler,
		diagnostics: diagnostics,
	}
}

// Routes wires every endpoint onto app. protect guards tenant endpoints and
// webhook guards the provider webhook.
func (h *Handler) Routes(app fiber.Router, protect fiber.Handler, webhook ...fiber.Handler) {
	v1 := app.Group("/v1")

	// Browser redirects and provider callbacks carry no bearer token.
	v1.Get("/auth/connect/:method", h.Connect)
	v1.Get("/auth/oauth/callback", h.OAuthCallback)

	v1.Get("/webhooks/provider", h.WebhookChallenge)
	v1.Post("/webhooks/provider", append(webhook, h.ProviderWebhook)...)

	v1.Get("/auth/methods", protect, h.ListMethods)
	v1.Post("/auth/codes", protect, h.CreateAuthCode)
	v1.Post("/auth/submit/:method", protect, h.SubmitCredentials)
	v1.Post("/service-accounts/:id/subaccounts", protect, h.AuthSubaccount)
	v1.Get("/accounts", protect, h.ListAccounts)

	v1.Post("/maintenance/advance-active-period", protect, h.AdvanceActivePeriod)
	v1.Post("/maintenance/refresh-expired-tokens", protect, h.RefreshExpiredTokens)
	v1.Post("/diagnostics/calendars/:id", protect, h.RunDiagnostics)
	v1.Get("/diagnostics/:runId", protect, h.GetDiagnostics)
}

func parseMethod(c *fiber.Ctx) (auth.Method, error) {
	method, ok := auth.ParseMethod(strings.ToUpper(c.Params("method")))
	if !ok {
		return "", apperrors.ErrUnsupportedAuthMethod.WithDetails("Unknown auth method: " + c.Params("method"))
	}
	return method, nil
}

// MethodInfo describes one auth method to API clients.
type MethodInfo struct {
	Method         string `json:"method"`
	Provider       string `json:"provider"`
	DataType       string `json:"data_type"`
	Flow           string `json:"flow"`
	ServiceAccount bool   `json:"service_account"`
}

// ListMethods returns every auth method and how it is used.
// GET /v1/auth/methods
func (h *Handler) ListMethods(c *fiber.Ctx) error {
	methods := auth.Methods()
	out := make([]MethodInfo, 0, len(methods))
	for _, m := range methods {
		out = append(out, MethodInfo{
			Method:         m.String(),
			Provider:       string(m.Provider()),
			DataType:       string(m.DataType()),
			Flow:           string(m.Flow()),
			ServiceAccount: m.IsServiceAccount(),
		})
	}
	return response.Success(c, out)
}

// CreateAuthCode starts an auth attempt for the caller's organization.
// POST /v1/auth/codes
func (h *Handler) CreateAuthCode(c *fiber.Ctx) error {
	var req types.CreateAuthCodeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.ErrValidation.WithDetails("Invalid request body")
		}
	}
	req.OrgID = middleware.GetOrgID(c)

	resp, err := h.auth.CreateAuthCode(c.UserContext(), &req)
	if err != nil {
		return err
	}
	return response.Created(c, resp)
}

// Connect sends the browser to the provider's consent page.
// GET /v1/auth/connect/:method?code=
func (h *Handler) Connect(c *fiber.Ctx) error {
	method, err := parseMethod(c)
	if err != nil {
		return err
	}
	code := c.Query("code")
	if code == "" {
		return apperrors.ErrValidation.WithDetails("code is required")
	}

	redirect, err := h.auth.GetOAuthRedirectURL(c.UserContext(), method, code)
	if err != nil {
		return err
	}
	return c.Redirect(redirect, fiber.StatusFound)
}

// OAuthCallback finishes an OAuth flow. When the auth code names a redirect
// URI the browser is sent back there with the outcome; otherwise the outcome
// is returned as JSON.
// GET /v1/auth/oauth/callback?code=&state=
func (h *Handler) OAuthCallback(c *fiber.Ctx) error {
	ctx := c.UserContext()

	// Providers report a denied consent as ?error= without a code.
	if providerErr := c.Query("error"); providerErr != "" && c.Query("code") == "" {
		logger.WithContext(ctx).Warn().
			Str("error", providerErr).
			Str("description", c.Query("error_description")).
			Msg("OAuth consent was not granted")
	}

	result, err := h.auth.HandleOAuthCallback(ctx, c.Query("code"), c.Query("state"))
	if result != nil && result.Code.RedirectURI != "" {
		target, urlErr := service.ResultRedirectURL(result.Code.RedirectURI, result, err)
		if urlErr != nil {
			logger.WithContext(ctx).Error().Err(urlErr).Msg("Failed to build auth redirect")
			return apperrors.ErrInternal.WithError(urlErr)
		}
		if err != nil {
			logger.WithContext(ctx).Warn().Err(err).Msg("OAuth callback failed")
		}
		return c.Redirect(target, fiber.StatusFound)
	}
	if err != nil {
		return err
	}
	return response.Success(c, types.AuthResultResponse{IDType: string(result.IDType), ID: result.ID})
}

// SubmitCredentials finishes a direct-submission auth attempt.
// POST /v1/auth/submit/:method
func (h *Handler) SubmitCredentials(c *fiber.Ctx) error {
	method, err := parseMethod(c)
	if err != nil {
		return err
	}

	var req types.SubmitAuthRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.ErrValidation.WithDetails("Invalid request body")
	}
	if req.Code == "" {
		return apperrors.ErrValidation.WithDetails("code is required")
	}

	result, err := h.auth.HandleDirectSubmissionAuth(c.UserContext(), method, req.Code, req.Data)
	if err != nil {
		return err
	}
	return response.Created(c, types.AuthResultResponse{IDType: string(result.IDType), ID: result.ID})
}

// AuthSubaccount connects an account through one of the caller's service
// accounts.
// POST /v1/service-accounts/:id/subaccounts
func (h *Handler) AuthSubaccount(c *fiber.Ctx) error {
	var req types.AuthSubaccountRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.ErrValidation.WithDetails("Invalid request body")
	}
	req.OrgID = middleware.GetOrgID(c)
	req.ServiceAccountID = c.Params("id")

	resp, err := h.auth.AuthSubaccount(c.UserContext(), &req)
	if err != nil {
		return err
	}
	return response.Created(c, resp)
}

// ListAccounts pages through the caller's accounts.
// GET /v1/accounts?page=&per_page=
func (h *Handler) ListAccounts(c *fiber.Ctx) error {
	page := max(c.QueryInt("page", 1), 1)
	perPage := min(max(c.QueryInt("per_page", 50), 1), 200)

	accounts, total, err := h.accounts.ListByOrg(c.UserContext(), middleware.GetOrgID(c), perPage, (page-1)*perPage)
	if err != nil {
		logger.WithContext(c.UserContext()).Error().Err(err).Msg("Failed to list accounts")
		return apperrors.ErrInternal
	}
	return response.Paginated(c, accounts, page, perPage, total)
}

// AdvanceActivePeriod requests the daily active period move now.
// POST /v1/maintenance/advance-active-period
func (h *Handler) AdvanceActivePeriod(c *fiber.Ctx) error {
	if err := h.scheduler.AdvanceActivePeriod(c.UserContext()); err != nil {
		return apperrors.ErrServiceUnavailable.WithError(err)
	}
	return response.Accepted(c, fiber.Map{"scheduled": "advance-active-period"})
}

// RefreshExpiredTokens requests a refresh of service account tokens that
// are about to expire.
// POST /v1/maintenance/refresh-expired-tokens
func (h *Handler) RefreshExpiredTokens(c *fiber.Ctx) error {
	if err := h.scheduler.RefreshExpiredTokens(c.UserContext()); err != nil {
		return apperrors.ErrServiceUnavailable.WithError(err)
	}
	return response.Accepted(c, fiber.Map{"scheduled": "refresh-expired-tokens"})
}

// RunDiagnostics compares a calendar with the provider in the background.
// The report is read back with GetDiagnostics.
// POST /v1/diagnostics/calendars/:id
func (h *Handler) RunDiagnostics(c *fiber.Ctx) error {
	runID := uuid.NewString()
	err := h.scheduler.RunDiagnostics(c.UserContext(), tasks.DiagnosticsParams{
		RunID:      runID,
		CalendarID: c.Params("id"),
	})
	if err != nil {
		return apperrors.ErrServiceUnavailable.WithError(err)
	}
	return response.Accepted(c, fiber.Map{"run_id": runID})
}

// GetDiagnostics returns a finished diagnostics report.
// GET /v1/diagnostics/:runId
func (h *Handler) GetDiagnostics(c *fiber.Ctx) error {
	report, err := h.diagnostics.Get(c.UserContext(), c.Params("runId"))
	if err != nil {
		return err
	}
	return response.Success(c, report)
}
