// Package service holds the auth orchestrator. It reconciles the identity
// returned by OAuth and credential-submission providers with stored
// accounts and schedules the work that keeps them synchronized.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/pkg/metrics"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/nylas"
	"github.com/Rohianon/uou/services/calendar-service/internal/settings"
	"github.com/Rohianon/uou/services/calendar-service/internal/tasks"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// AccountRepository persists calendar accounts
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
	TryGetByEmail(ctx context.Context, email string) (*types.Account, bool, error)
	Create(ctx context.Context, a *types.Account) error
	Update(ctx context.Context, req types.UpdateAccountRequest) error
	CreateError(ctx context.Context, e *types.AccountError) error
	DeleteErrors(ctx context.Context, accountID string, errType types.AccountErrorType) error
}

// ServiceAccountRepository persists service accounts
type ServiceAccountRepository interface {
	GetByID(ctx context.Context, id string) (*types.ServiceAccount, error)
	TryGetByEmail(ctx context.Context, email string) (*types.ServiceAccount, bool, error)
	Create(ctx context.Context, sa *types.ServiceAccount) error
	UpdateSettings(ctx context.Context, id, name string, settings []byte, expiresAt *time.Time) error
}

// ConferencingUserRepository persists conferencing users
type ConferencingUserRepository interface {
	TryGetByEmail(ctx context.Context, email string) (*types.ConferencingUser, bool, error)
	Create(ctx context.Context, u *types.ConferencingUser) error
	UpdateSettings(ctx context.Context, id, name string, externalID *string, settings []byte, expiresAt *time.Time) error
}

// AuthService runs every auth flow to completion
type AuthService struct {
	codes             auth.CodeStore
	oauth             *auth.HandlerRegistry
	settings          *settings.Registry
	provider          nylas.SyncClient
	accounts          AccountRepository
	serviceAccounts   ServiceAccountRepository
	conferencingUsers ConferencingUserRepository
	scheduler         tasks.Scheduler
	codeTTL           time.Duration
	now               func() time.Time
}

func NewAuthService(
	codes auth.CodeStore,
	oauthHandlers *auth.HandlerRegistry,
	settingsHandlers *settings.Registry,
	provider nylas.SyncClient,
	accounts AccountRepository,
	serviceAccounts ServiceAccountRepository,
	conferencingUsers ConferencingUserRepository,
	scheduler tasks.Scheduler,
	codeTTL time.Duration,
) *AuthService {
	return &AuthService{
		codes:             codes,
		oauth:             oauthHandlers,
		settings:          settingsHandlers,
		provider:          provider,
		accounts:          accounts,
		serviceAccounts:   serviceAccounts,
		conferencingUsers: conferencingUsers,
		scheduler:         scheduler,
		codeTTL:           codeTTL,
		now:               time.Now,
	}
}

// CreateAuthCode starts an auth attempt for an organization.
func (s *AuthService) CreateAuthCode(ctx context.Context, req *types.CreateAuthCodeRequest) (*types.CreateAuthCodeResponse, error) {
	orgID := strings.TrimSpace(req.OrgID)
	if orgID == "" {
		return nil, apperrors.ErrValidation.WithDetails(map[string]string{"org_id": "Organization is required"})
	}
	if req.RedirectURI != "" {
		if err := validateRedirectURI(req.RedirectURI); err != nil {
			return nil, err
		}
	}

	code := auth.AuthCode{
		Code:        uuid.New(),
		OrgID:       orgID,
		RedirectURI: req.RedirectURI,
		ExpiresAt:   s.now().Add(s.codeTTL).UTC(),
	}
	if err := s.codes.Create(ctx, code, s.codeTTL); err != nil {
		return nil, err
	}

	return &types.CreateAuthCodeResponse{Code: code.Code.String(), ExpiresAt: code.ExpiresAt}, nil
}

func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.ErrValidation.WithDetails(map[string]string{"redirect_uri": "Must be an absolute http or https URL"})
	}
	return nil
}

// GetOAuthRedirectURL returns the provider authorization URL for an OAuth
// method. The state round-trips the method and the auth code.
func (s *AuthService) GetOAuthRedirectURL(ctx context.Context, method auth.Method, code string) (string, error) {
	if method.Flow() != auth.FlowOAuthAuthCode {
		return "", apperrors.ErrUnsupportedAuthMethod
	}
	handler, ok := s.oauth.Get(method)
	if !ok {
		return "", apperrors.ErrUnsupportedAuthMethod
	}

	ac, err := s.lookupCode(ctx, code)
	if err != nil {
		return "", err
	}
	return handler.RedirectURL(auth.OAuthState{Method: method, Code: ac.Code}), nil
}

func (s *AuthService) lookupCode(ctx context.Context, raw string) (*auth.AuthCode, error) {
	code, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperrors.ErrAuthCodeNotFound
	}
	ac, ok, err := s.codes.TryGet(ctx, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrAuthCodeNotFound
	}
	return ac, nil
}

// HandleOAuthCallback completes an OAuth authorization code flow. The auth
// code is consumed before the provider is called, so a replayed callback
// fails with ErrAuthCodeNotFound.
//
// Once the auth code has been found the returned result carries it, even on
// failure, so the caller can redirect back to the code's redirect URI.
func (s *AuthService) HandleOAuthCallback(ctx context.Context, code, state string) (*auth.Result, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return nil, apperrors.ErrInternal.WithError(errors.New("oauth callback requires both code and state"))
	}

	st, ok := auth.DecodeOAuthState(state)
	if !ok || st.Method.Flow() != auth.FlowOAuthAuthCode {
		return nil, apperrors.ErrInvalidAuthState
	}

	ac, ok, err := s.codes.TryGet(ctx, st.Code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrAuthCodeNotFound
	}
	partial := &auth.Result{Code: *ac}

	if err := s.codes.TryDelete(ctx, ac.Code); err != nil {
		return partial, err
	}

	handler, ok := s.oauth.Get(st.Method)
	if !ok {
		return partial, apperrors.ErrInternal.WithError(fmt.Errorf("no oauth handler for %s", st.Method))
	}

	res, err := handler.HandleAuthorizationCode(ctx, code)
	if err != nil {
		metrics.RecordAuthAttempt(st.Method.String(), "provider_error")
		return partial, err
	}
	if res == nil {
		return partial, apperrors.ErrInternal.WithError(fmt.Errorf("%s returned no authorization result", st.Method))
	}

	result, err := s.finishAuth(ctx, *ac, st.Method, auth.OAuthInput{Result: res})
	if err != nil {
		return partial, err
	}
	return result, nil
}

// HandleDirectSubmissionAuth completes an auth attempt whose credentials
// were posted directly. The auth code survives failures so the user can
// correct the credentials and retry.
func (s *AuthService) HandleDirectSubmissionAuth(ctx context.Context, method auth.Method, code string, data map[string]string) (*auth.Result, error) {
	if method.Flow() != auth.FlowDirectSubmission {
		return nil, apperrors.ErrUnsupportedAuthMethod
	}

	ac, err := s.lookupCode(ctx, code)
	if err != nil {
		return nil, err
	}

	result, err := s.finishAuth(ctx, *ac, method, auth.DirectSubmissionInput{Data: data})
	if err != nil {
		return nil, err
	}

	if err := s.codes.TryDelete(ctx, ac.Code); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AuthService) finishAuth(ctx context.Context, code auth.AuthCode, method auth.Method, input auth.Input) (*auth.Result, error) {
	l := logger.WithContext(ctx).With().
		Str("org_id", code.OrgID).
		Str("auth_method", method.String()).
		Logger()

	handler, ok := s.settings.Get(method)
	if !ok {
		return nil, apperrors.ErrUnsupportedAuthMethod
	}
	st, err := handler.CreateSettings(ctx, input)
	if err != nil {
		metrics.RecordAuthAttempt(method.String(), "invalid_settings")
		return nil, err
	}

	var result *auth.Result
	switch {
	case method.DataType() == auth.DataTypeConferencing:
		result, err = s.finishConferencingUser(ctx, code, method, st)
	case method.IsServiceAccount():
		result, err = s.finishServiceAccount(ctx, code, method, handler, st)
	default:
		result, err = s.finishAccount(ctx, code, method, handler, st)
	}
	if err != nil {
		metrics.RecordAuthAttempt(method.String(), "failure")
		l.Warn().Err(err).Msg("auth attempt failed")
		return nil, err
	}

	metrics.RecordAuthAttempt(method.String(), "success")
	l.Info().
		Str("id_type", string(result.IDType)).
		Str("id", result.ID).
		Msg("auth attempt finished")
	return result, nil
}

// checkOwnership enforces that an email belongs to one organization and one
// auth method.
func checkOwnership(orgID string, method auth.Method, existingOrgID string, existingMethod auth.Method) error {
	if existingOrgID != orgID {
		return apperrors.ErrEmailConflict
	}
	if existingMethod != method {
		return apperrors.ErrAuthMethodMismatch.WithDetails(map[string]string{"auth_method": existingMethod.String()})
	}
	return nil
}

func (s *AuthService) finishAccount(ctx context.Context, code auth.AuthCode, method auth.Method, handler settings.Handler, st *settings.Settings) (*auth.Result, error) {
	existing, found, err := s.accounts.TryGetByEmail(ctx, st.Email)
	if err != nil {
		return nil, err
	}
	if found {
		if err := checkOwnership(code.OrgID, method, existing.OrgID, existing.AuthMethod); err != nil {
			return nil, err
		}
	}

	creds, err := handler.Credentials(st.Blob)
	if err != nil {
		return nil, err
	}
	resp, err := s.provider.AuthAccount(ctx, creds, st.Name, st.Email)
	if err != nil {
		return nil, err
	}

	var accountID string
	if found {
		if resp.AccountID != existing.ID {
			return nil, inconsistentAccountID(existing.ID, resp.AccountID)
		}
		err = s.accounts.Update(ctx, types.NewReauthUpdate(existing.ID, st.Name, method, st.Blob, resp.AccessToken))
		accountID = existing.ID
	} else {
		account := &types.Account{
			ID:          resp.AccountID,
			OrgID:       code.OrgID,
			Email:       st.Email,
			Name:        st.Name,
			AuthMethod:  method,
			Settings:    st.Blob,
			AccessToken: resp.AccessToken,
			SyncState:   types.SyncStateInitialized,
		}
		err = s.accounts.Create(ctx, account)
		accountID = account.ID
	}
	if err != nil {
		return nil, err
	}

	if err := s.accounts.DeleteErrors(ctx, accountID, types.AccountErrorAuth); err != nil {
		return nil, err
	}
	if err := s.scheduler.ImportAllCalendarsFromProvider(ctx, tasks.ImportAllCalendarsParams{AccountID: accountID}); err != nil {
		return nil, err
	}

	return &auth.Result{Code: code, IDType: auth.IdentifierAccount, ID: accountID}, nil
}

// finishServiceAccount stores the credentials sub-accounts are connected
// with. The sync provider validates them by connecting the service
// account's own mailbox, and the id it assigns becomes the service
// account's id.
func (s *AuthService) finishServiceAccount(ctx context.Context, code auth.AuthCode, method auth.Method, handler settings.Handler, st *settings.Settings) (*auth.Result, error) {
	existing, found, err := s.serviceAccounts.TryGetByEmail(ctx, st.Email)
	if err != nil {
		return nil, err
	}
	if found {
		if err := checkOwnership(code.OrgID, method, existing.OrgID, existing.AuthMethod); err != nil {
			return nil, err
		}
	}

	creds, err := handler.Credentials(st.Blob)
	if err != nil {
		return nil, err
	}
	resp, err := s.provider.AuthAccount(ctx, creds, st.Name, st.Email)
	if err != nil {
		return nil, err
	}

	if found {
		if resp.AccountID != existing.ID {
			return nil, inconsistentAccountID(existing.ID, resp.AccountID)
		}
		if err := s.serviceAccounts.UpdateSettings(ctx, existing.ID, st.Name, st.Blob, st.ExpiresAt); err != nil {
			return nil, err
		}
		if err := s.scheduler.UpdateAllSubaccountTokens(ctx, tasks.UpdateAllSubaccountTokensParams{ServiceAccountID: existing.ID}); err != nil {
			return nil, err
		}
		return &auth.Result{Code: code, IDType: auth.IdentifierServiceAccount, ID: existing.ID}, nil
	}

	sa := &types.ServiceAccount{
		ID:         resp.AccountID,
		OrgID:      code.OrgID,
		Email:      st.Email,
		Name:       st.Name,
		AuthMethod: method,
		Settings:   st.Blob,
		ExpiresAt:  st.ExpiresAt,
	}
	if err := s.serviceAccounts.Create(ctx, sa); err != nil {
		return nil, err
	}
	return &auth.Result{Code: code, IDType: auth.IdentifierServiceAccount, ID: sa.ID}, nil
}

func (s *AuthService) finishConferencingUser(ctx context.Context, code auth.AuthCode, method auth.Method, st *settings.Settings) (*auth.Result, error) {
	existing, found, err := s.conferencingUsers.TryGetByEmail(ctx, st.Email)
	if err != nil {
		return nil, err
	}

	var externalID *string
	if st.Subject != "" {
		externalID = &st.Subject
	}

	if found {
		if err := checkOwnership(code.OrgID, method, existing.OrgID, existing.AuthMethod); err != nil {
			return nil, err
		}
		if err := s.conferencingUsers.UpdateSettings(ctx, existing.ID, st.Name, externalID, st.Blob, st.ExpiresAt); err != nil {
			return nil, err
		}
		return &auth.Result{Code: code, IDType: auth.IdentifierConferencingUser, ID: existing.ID}, nil
	}

	u := &types.ConferencingUser{
		OrgID:      code.OrgID,
		Email:      st.Email,
		Name:       st.Name,
		AuthMethod: method,
		ExternalID: externalID,
		Settings:   st.Blob,
		ExpiresAt:  st.ExpiresAt,
	}
	if err := s.conferencingUsers.Create(ctx, u); err != nil {
		return nil, err
	}
	return &auth.Result{Code: code, IDType: auth.IdentifierConferencingUser, ID: u.ID}, nil
}

func inconsistentAccountID(stored, returned string) error {
	return apperrors.ErrInternalConsistency.WithError(
		fmt.Errorf("sync provider returned account %s for stored account %s", returned, stored))
}
