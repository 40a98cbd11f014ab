// Package settings turns raw auth input into the settings persisted on an
// account, service account or conferencing user.
package settings

import (
	"context"
	"strings"
	"time"

	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/nylas"
)

// Settings is what a handler materializes from one auth attempt.
type Settings struct {
	Email string
	Name  string
	// Subject is the provider's stable user id, when known.
	Subject string
	// Blob is the JSON settings document. Repositories encrypt it at rest.
	Blob      []byte
	ExpiresAt *time.Time
}

// Handler builds and reads settings for one or more auth methods.
type Handler interface {
	Methods() []auth.Method
	CreateSettings(ctx context.Context, input auth.Input) (*Settings, error)
	// RefreshToken returns the OAuth refresh token stored in blob, if any.
	RefreshToken(blob []byte) (string, bool)
	// Credentials returns what the sync provider needs to connect an
	// account with these settings. For service accounts these are the
	// credentials sub-accounts are connected with.
	Credentials(blob []byte) (nylas.Credentials, error)
}

// Registry maps each auth method to its settings handler.
type Registry struct {
	handlers map[auth.Method]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[auth.Method]Handler)}
	for _, h := range handlers {
		for _, m := range h.Methods() {
			r.handlers[m] = h
		}
	}
	return r
}

// DefaultRegistry registers a handler for every method that carries
// credentials.
func DefaultRegistry(google, microsoft OAuthClient) *Registry {
	return NewRegistry(
		NewOAuthHandler(nylas.ProviderGmail, google, auth.MethodGoogleOAuth),
		NewOAuthHandler(nylas.ProviderGraph, microsoft, auth.MethodMicrosoftOAuth),
		NewOAuthHandler(nylas.ProviderOffice365, microsoft, auth.MethodMicrosoftOAuthSA),
		NewOAuthHandler("", OAuthClient{}, auth.MethodTeamsOAuth, auth.MethodZoomOAuth),
		NewGoogleServiceAccountHandler(),
		NewExchangeHandler(),
	)
}

func (r *Registry) Get(method auth.Method) (Handler, bool) {
	h, ok := r.handlers[method]
	return h, ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
