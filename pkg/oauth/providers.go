package oauth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	googleUserInfoURL    = "https://openidconnect.googleapis.com/v1/userinfo"
	microsoftUserInfoURL = "https://graph.microsoft.com/oidc/userinfo"
	zoomUserInfoURL      = "https://api.zoom.us/v2/users/me"
)

var (
	googleCalendarScopes = []string{
		"openid",
		"email",
		"profile",
		"https://www.googleapis.com/auth/calendar",
	}
	microsoftCalendarScopes = []string{
		"openid",
		"email",
		"profile",
		"offline_access",
		"https://graph.microsoft.com/Calendars.ReadWrite",
	}
	microsoftServiceAccountScopes = []string{
		"openid",
		"email",
		"profile",
		"offline_access",
		"https://outlook.office365.com/EWS.AccessAsUser.All",
	}
	microsoftTeamsScopes = []string{
		"openid",
		"email",
		"profile",
		"offline_access",
		"https://graph.microsoft.com/OnlineMeetings.ReadWrite",
	}
	zoomScopes = []string{"meeting:write", "user:read"}
)

// NewGoogle targets Google accounts. Offline access with forced consent
// makes Google return a refresh token on every exchange.
func NewGoogle(name string, cfg Config) *Provider {
	return newProvider(name, cfg, endpoints.Google, googleCalendarScopes, googleUserInfoURL,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// NewMicrosoft targets Microsoft identity platform for one tenant, or
// "common" when cfg.Tenant is empty.
func NewMicrosoft(name string, cfg Config) *Provider {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	return newProvider(name, cfg, endpoints.AzureAD(tenant), microsoftCalendarScopes, microsoftUserInfoURL,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// NewMicrosoftServiceAccount is NewMicrosoft with the admin consent scopes
// needed to provision subaccounts.
func NewMicrosoftServiceAccount(name string, cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = microsoftServiceAccountScopes
	}
	return NewMicrosoft(name, cfg)
}

func NewMicrosoftTeams(name string, cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = microsoftTeamsScopes
	}
	return NewMicrosoft(name, cfg)
}

func NewZoom(name string, cfg Config) *Provider {
	return newProvider(name, cfg, endpoints.Zoom, zoomScopes, zoomUserInfoURL)
}
