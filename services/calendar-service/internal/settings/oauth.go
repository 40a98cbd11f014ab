package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/nylas"
)

// OAuthClient identifies the OAuth application tokens were issued to. The
// sync provider needs it to refresh them.
type OAuthClient struct {
	ID     string
	Secret string
}

type oauthBlob struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Subject      string    `json:"subject,omitempty"`
}

// OAuthHandler stores the tokens of an authorization code exchange.
type OAuthHandler struct {
	provider string
	client   OAuthClient
	methods  []auth.Method
}

// NewOAuthHandler creates a handler whose settings connect to the sync
// provider as provider. An empty provider marks methods without a sync
// account, such as conferencing.
func NewOAuthHandler(provider string, client OAuthClient, methods ...auth.Method) *OAuthHandler {
	return &OAuthHandler{provider: provider, client: client, methods: methods}
}

func (h *OAuthHandler) Methods() []auth.Method {
	return h.methods
}

func (h *OAuthHandler) CreateSettings(ctx context.Context, input auth.Input) (*Settings, error) {
	in, ok := input.(auth.OAuthInput)
	if !ok || in.Result == nil {
		return nil, fmt.Errorf("oauth settings require an oauth result, got %T", input)
	}
	res := in.Result

	email := normalizeEmail(res.Email)
	if email == "" {
		return nil, apperrors.ErrValidation.WithMessage("The provider did not return an email address. Please try again.")
	}
	if h.provider != "" && res.RefreshToken == "" {
		return nil, apperrors.ErrValidation.WithMessage("The provider did not grant offline access. Please try again and accept all permissions.")
	}

	blob, err := json.Marshal(oauthBlob{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Expiry:       res.Expiry,
		Scopes:       res.Scopes,
		Subject:      res.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal oauth settings: %w", err)
	}

	s := &Settings{
		Email:   email,
		Name:    res.Name,
		Subject: res.Subject,
		Blob:    blob,
	}
	if !res.Expiry.IsZero() {
		expiry := res.Expiry
		s.ExpiresAt = &expiry
	}
	return s, nil
}

func (h *OAuthHandler) RefreshToken(blob []byte) (string, bool) {
	var b oauthBlob
	if err := json.Unmarshal(blob, &b); err != nil || b.RefreshToken == "" {
		return "", false
	}
	return b.RefreshToken, true
}

func (h *OAuthHandler) Credentials(blob []byte) (nylas.Credentials, error) {
	if h.provider == "" {
		return nylas.Credentials{}, apperrors.ErrUnsupportedAuthMethod.WithMessage("Auth method has no sync provider account")
	}

	var b oauthBlob
	if err := json.Unmarshal(blob, &b); err != nil {
		return nylas.Credentials{}, fmt.Errorf("failed to unmarshal oauth settings: %w", err)
	}
	if b.RefreshToken == "" {
		return nylas.Credentials{}, apperrors.ErrDoNotRetry.WithMessage("Settings carry no refresh token")
	}

	prefix := "microsoft"
	if h.provider == nylas.ProviderGmail {
		prefix = "google"
	}
	return nylas.Credentials{
		Provider: h.provider,
		Settings: map[string]any{
			prefix + "_client_id":     h.client.ID,
			prefix + "_client_secret": h.client.Secret,
			prefix + "_refresh_token": b.RefreshToken,
		},
		Scopes: []string{"calendar"},
	}, nil
}
