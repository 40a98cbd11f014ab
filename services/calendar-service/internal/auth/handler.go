package auth

import (
	"context"
	"fmt"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/oauth"
)

// OAuthHandler runs the authorization code flow for one or more methods.
type OAuthHandler interface {
	Methods() []Method
	RedirectURL(state OAuthState) string
	HandleAuthorizationCode(ctx context.Context, code string) (*oauth.Result, error)
	SupportsRefresh() bool
	// Refresh must only be called when SupportsRefresh is true.
	Refresh(ctx context.Context, refreshToken string) (*oauth.Result, error)
}

// ProviderHandler adapts an oauth.AuthProvider to OAuthHandler.
type ProviderHandler struct {
	provider oauth.AuthProvider
	methods  []Method
	refresh  bool
}

func NewProviderHandler(provider oauth.AuthProvider, supportsRefresh bool, methods ...Method) *ProviderHandler {
	return &ProviderHandler{
		provider: provider,
		methods:  methods,
		refresh:  supportsRefresh,
	}
}

func (h *ProviderHandler) Methods() []Method {
	return h.methods
}

func (h *ProviderHandler) RedirectURL(state OAuthState) string {
	return h.provider.AuthURL(state.Encode())
}

func (h *ProviderHandler) HandleAuthorizationCode(ctx context.Context, code string) (*oauth.Result, error) {
	res, err := h.provider.Exchange(ctx, code)
	if err != nil {
		return nil, providerError(h.provider.Name(), err)
	}
	return res, nil
}

func (h *ProviderHandler) SupportsRefresh() bool {
	return h.refresh
}

func (h *ProviderHandler) Refresh(ctx context.Context, refreshToken string) (*oauth.Result, error) {
	if !h.refresh {
		return nil, fmt.Errorf("%s: refresh is not supported", h.provider.Name())
	}
	res, err := h.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, providerError(h.provider.Name(), err)
	}
	return res, nil
}

func providerError(name string, err error) error {
	appErr := apperrors.ErrProvider.WithError(err)
	if msg := oauth.Describe(err); msg != "" {
		return appErr.Withf("%s rejected the authorization: %s", name, msg)
	}
	return appErr
}

// HandlerRegistry maps each OAuth method to its handler.
type HandlerRegistry struct {
	handlers map[Method]OAuthHandler
}

func NewHandlerRegistry(handlers ...OAuthHandler) *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[Method]OAuthHandler)}
	for _, h := range handlers {
		for _, m := range h.Methods() {
			r.handlers[m] = h
		}
	}
	return r
}

// ProviderBinding names the registered oauth provider that serves an OAuth
// method.
type ProviderBinding struct {
	Method   Method
	Provider string
	Refresh  bool
}

// DefaultBindings maps every OAuth method to the provider name the service
// registers it under.
var DefaultBindings = []ProviderBinding{
	{Method: MethodGoogleOAuth, Provider: "google", Refresh: true},
	{Method: MethodMicrosoftOAuth, Provider: "microsoft", Refresh: true},
	{Method: MethodMicrosoftOAuthSA, Provider: "microsoft-sa", Refresh: true},
	{Method: MethodTeamsOAuth, Provider: "teams", Refresh: true},
	{Method: MethodZoomOAuth, Provider: "zoom", Refresh: true},
}

// HandlersFromRegistry resolves each binding against providers. Methods bound
// to the same provider share one handler. Every OAuth method must be bound.
func HandlersFromRegistry(providers oauth.ProviderRegistry, bindings ...ProviderBinding) (*HandlerRegistry, error) {
	byProvider := make(map[string]*ProviderHandler)
	var order []string
	bound := make(map[Method]bool)

	for _, b := range bindings {
		if b.Method.Flow() != FlowOAuthAuthCode {
			return nil, fmt.Errorf("auth method %s does not use the authorization code flow", b.Method)
		}
		if bound[b.Method] {
			return nil, fmt.Errorf("auth method %s is bound twice", b.Method)
		}
		h, ok := byProvider[b.Provider]
		if !ok {
			p, found := providers.Get(b.Provider)
			if !found {
				return nil, fmt.Errorf("oauth provider %q for %s is not registered", b.Provider, b.Method)
			}
			h = NewProviderHandler(p, b.Refresh)
			byProvider[b.Provider] = h
			order = append(order, b.Provider)
		} else if h.refresh != b.Refresh {
			return nil, fmt.Errorf("oauth provider %q has conflicting refresh settings", b.Provider)
		}
		h.methods = append(h.methods, b.Method)
		bound[b.Method] = true
	}

	for _, m := range Methods() {
		if m.Flow() == FlowOAuthAuthCode && !bound[m] {
			return nil, fmt.Errorf("auth method %s has no oauth provider", m)
		}
	}

	handlers := make([]OAuthHandler, 0, len(order))
	for _, name := range order {
		handlers = append(handlers, byProvider[name])
	}
	return NewHandlerRegistry(handlers...), nil
}

func (r *HandlerRegistry) Get(method Method) (OAuthHandler, bool) {
	h, ok := r.handlers[method]
	return h, ok
}
