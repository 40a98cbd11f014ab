package service

import (
	"fmt"
	"net/url"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
)

// Query parameters appended to an auth code's redirect URI
const (
	ParamAuthCode  = "authCode"
	ParamAccountID = "accountId"
	ParamIDType    = "idType"
	ParamError     = "error"
)

// ResultRedirectURL builds the URL a finished auth attempt sends the user
// back to. On failure only a message that is safe to show is included.
func ResultRedirectURL(redirectURI string, result *auth.Result, cause error) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}

	q := u.Query()
	if cause != nil {
		q.Set(ParamError, SafeMessage(cause))
	} else {
		q.Set(ParamAuthCode, result.Code.Code.String())
		q.Set(ParamAccountID, result.ID)
		q.Set(ParamIDType, string(result.IDType))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SafeMessage returns the message of err that may be shown to a user.
func SafeMessage(err error) string {
	appErr, ok := apperrors.As(err)
	if ok && (apperrors.IsUserFacing(err) || apperrors.IsCode(err, apperrors.ErrProvider.Code)) {
		return appErr.Message
	}
	return apperrors.ErrInternal.Message
}
