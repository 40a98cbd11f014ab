package service

import (
	"context"
	"strings"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/nylas"
	"github.com/Rohianon/uou/services/calendar-service/internal/tasks"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// AuthSubaccount connects an account through a service account. It runs
// synchronously so provider errors reach the caller directly, and nothing is
// stored until the provider has accepted the account.
func (s *AuthService) AuthSubaccount(ctx context.Context, req *types.AuthSubaccountRequest) (*types.AuthSubaccountResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	details := map[string]string{}
	if email == "" || !strings.Contains(email, "@") {
		details["email"] = "A valid email is required"
	}
	if strings.TrimSpace(req.OrgID) == "" {
		details["org_id"] = "Organization is required"
	}
	if len(details) > 0 {
		return nil, apperrors.ErrValidation.WithDetails(details)
	}

	sa, err := s.serviceAccounts.GetByID(ctx, req.ServiceAccountID)
	if err != nil {
		return nil, err
	}
	if sa.OrgID != req.OrgID {
		return nil, apperrors.ErrServiceAccountNotFound
	}

	existing, found, err := s.accounts.TryGetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if found {
		if err := checkOwnership(req.OrgID, sa.AuthMethod, existing.OrgID, existing.AuthMethod); err != nil {
			return nil, err
		}
	}

	creds, err := s.subaccountCredentials(sa)
	if err != nil {
		return nil, err
	}
	resp, err := s.provider.AuthSubaccount(ctx, creds, req.Name, email)
	if err != nil {
		return nil, err
	}

	var accountID string
	if found {
		if resp.AccountID != existing.ID {
			return nil, inconsistentAccountID(existing.ID, resp.AccountID)
		}
		err = s.accounts.Update(ctx, types.NewSubaccountUpdate(existing.ID, req.Name, sa.ID, resp.AccessToken))
		accountID = existing.ID
	} else {
		saID := sa.ID
		account := &types.Account{
			ID:               resp.AccountID,
			OrgID:            req.OrgID,
			ServiceAccountID: &saID,
			Email:            email,
			Name:             req.Name,
			AuthMethod:       sa.AuthMethod,
			AccessToken:      resp.AccessToken,
			SyncState:        types.SyncStateInitialized,
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

	logger.WithContext(ctx).Info().
		Str("account_id", accountID).
		Str("service_account_id", sa.ID).
		Bool("created", !found).
		Msg("sub-account connected")
	return &types.AuthSubaccountResponse{AccountID: accountID}, nil
}

func (s *AuthService) subaccountCredentials(sa *types.ServiceAccount) (nylas.Credentials, error) {
	handler, ok := s.settings.Get(sa.AuthMethod)
	if !ok {
		return nylas.Credentials{}, apperrors.ErrUnsupportedAuthMethod
	}
	return handler.Credentials(sa.Settings)
}

// UpdateSubaccountToken reconnects a sub-account with its service account's
// current credentials. Provider failures are recorded on the account before
// they are returned.
func (s *AuthService) UpdateSubaccountToken(ctx context.Context, accountID string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.ServiceAccountID == nil {
		return apperrors.ErrDoNotRetry.Withf("account %s is not linked to a service account", account.ID)
	}

	sa, err := s.serviceAccounts.GetByID(ctx, *account.ServiceAccountID)
	if err != nil {
		return err
	}
	creds, err := s.subaccountCredentials(sa)
	if err != nil {
		return s.recordAuthError(ctx, account.ID, err)
	}

	resp, err := s.provider.AuthSubaccount(ctx, creds, account.Name, account.Email)
	if err != nil {
		return s.recordAuthError(ctx, account.ID, err)
	}
	if resp.AccountID != account.ID {
		return inconsistentAccountID(account.ID, resp.AccountID)
	}

	if err := s.accounts.Update(ctx, types.NewAccessTokenUpdate(account.ID, resp.AccessToken)); err != nil {
		return err
	}
	return s.accounts.DeleteErrors(ctx, account.ID, types.AccountErrorAuth)
}

// recordAuthError persists cause as the account's auth error and returns
// it. A failure to persist is logged; cause is still returned.
func (s *AuthService) recordAuthError(ctx context.Context, accountID string, cause error) error {
	message := "The account could not be re-authenticated. Please reconnect it."
	if apperrors.IsUserFacing(cause) || apperrors.IsCode(cause, apperrors.ErrProvider.Code) {
		message = SafeMessage(cause)
	}

	err := s.accounts.CreateError(ctx, &types.AccountError{
		AccountID: accountID,
		Type:      types.AccountErrorAuth,
		Message:   message,
		Details:   cause.Error(),
	})
	if err != nil {
		logger.WithContext(ctx).Error().Err(err).
			Str("account_id", accountID).
			Msg("failed to record account auth error")
	}
	return cause
}

// UpdateServiceAccountRefreshToken refreshes a service account's OAuth
// token, stores the new settings and reconnects every sub-account with
// them.
func (s *AuthService) UpdateServiceAccountRefreshToken(ctx context.Context, serviceAccountID string) error {
	sa, err := s.serviceAccounts.GetByID(ctx, serviceAccountID)
	if err != nil {
		return err
	}

	oauthHandler, ok := s.oauth.Get(sa.AuthMethod)
	if !ok || !oauthHandler.SupportsRefresh() {
		return apperrors.ErrDoNotRetry.Withf("%s does not support token refresh", sa.AuthMethod)
	}
	settingsHandler, ok := s.settings.Get(sa.AuthMethod)
	if !ok {
		return apperrors.ErrUnsupportedAuthMethod
	}
	refreshToken, ok := settingsHandler.RefreshToken(sa.Settings)
	if !ok {
		return apperrors.ErrDoNotRetry.Withf("service account %s has no refresh token", sa.ID)
	}

	l := logger.WithContext(ctx).With().Str("service_account_id", sa.ID).Logger()

	res, err := oauthHandler.Refresh(ctx, refreshToken)
	if err != nil {
		l.Error().Err(err).Msg("failed to refresh service account token")
		return err
	}
	if res.Email == "" {
		res.Email = sa.Email
	}
	if res.RefreshToken == "" {
		res.RefreshToken = refreshToken
	}

	st, err := settingsHandler.CreateSettings(ctx, auth.OAuthInput{Result: res})
	if err != nil {
		return err
	}
	if st.Email != sa.Email {
		return apperrors.ErrInternalConsistency.Withf("refreshed token belongs to %s, not %s", st.Email, sa.Email)
	}

	name := st.Name
	if name == "" {
		name = sa.Name
	}
	if err := s.serviceAccounts.UpdateSettings(ctx, sa.ID, name, st.Blob, st.ExpiresAt); err != nil {
		return err
	}

	l.Info().Msg("service account token refreshed")
	return s.scheduler.UpdateAllSubaccountTokens(ctx, tasks.UpdateAllSubaccountTokensParams{ServiceAccountID: sa.ID})
}
