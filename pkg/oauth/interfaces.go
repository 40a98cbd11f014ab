// Package oauth wraps golang.org/x/oauth2 for the calendar and conferencing
// providers accounts connect through.
package oauth

import (
	"context"
	"time"
)

// Result is the outcome of a code exchange or a refresh.
type Result struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
	Email        string
	Name         string
	Subject      string
}

// AuthProvider is one OAuth2 authorization server.
type AuthProvider interface {
	// Name returns the provider identifier (e.g. "google", "microsoft").
	Name() string

	// AuthURL builds the consent URL carrying state.
	AuthURL(state string) string

	// Exchange trades an authorization code for tokens and the signed-in identity.
	Exchange(ctx context.Context, code string) (*Result, error)

	// Refresh obtains a new access token. The refresh token is carried over
	// when the server does not rotate it.
	Refresh(ctx context.Context, refreshToken string) (*Result, error)
}

// ProviderRegistry manages OAuth providers.
type ProviderRegistry interface {
	Register(provider AuthProvider)
	Get(name string) (AuthProvider, bool)
	List() []string
}
