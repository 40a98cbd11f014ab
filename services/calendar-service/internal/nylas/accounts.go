package nylas

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Provider names understood by the connect API
const (
	ProviderGmail     = "gmail"
	ProviderOffice365 = "office365"
	ProviderGraph     = "graph"
	ProviderExchange  = "exchange"
)

// Credentials are the provider-specific settings an account is connected
// with. Service accounts produce credentials that connect their
// sub-accounts.
type Credentials struct {
	Provider string
	Settings map[string]any
	Scopes   []string
}

// AuthResponse identifies a connected account
type AuthResponse struct {
	AccountID   string `json:"account_id"`
	AccessToken string `json:"access_token"`
	Email       string `json:"email_address"`
	Provider    string `json:"provider"`
}

// Account is the provider's view of a connected account
type Account struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email_address"`
	Provider         string `json:"provider"`
	SyncState        string `json:"sync_state"`
	OrganizationUnit string `json:"organization_unit"`
}

type authorizeRequest struct {
	ClientID string         `json:"client_id"`
	Name     string         `json:"name"`
	Email    string         `json:"email_address"`
	Provider string         `json:"provider"`
	Settings map[string]any `json:"settings"`
	Scopes   string         `json:"scopes,omitempty"`
}

type authorizeResponse struct {
	Code string `json:"code"`
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
}

// AuthAccount connects an individual account and returns the provider's
// account id with an access token for it.
func (c *Client) AuthAccount(ctx context.Context, creds Credentials, name, email string) (*AuthResponse, error) {
	return c.connect(ctx, creds, name, email)
}

// AuthSubaccount connects email using a service account's credentials.
func (c *Client) AuthSubaccount(ctx context.Context, creds Credentials, name, email string) (*AuthResponse, error) {
	settings := make(map[string]any, len(creds.Settings)+1)
	for k, v := range creds.Settings {
		settings[k] = v
	}
	settings["service_account"] = true
	creds.Settings = settings
	return c.connect(ctx, creds, name, email)
}

func (c *Client) connect(ctx context.Context, creds Credentials, name, email string) (*AuthResponse, error) {
	if creds.Provider == "" {
		return nil, fmt.Errorf("credentials carry no provider")
	}

	var authz authorizeResponse
	err := c.call(ctx, http.MethodPost, "/connect/authorize", anonymous, authorizeRequest{
		ClientID: c.config.ClientID,
		Name:     name,
		Email:    email,
		Provider: creds.Provider,
		Settings: creds.Settings,
		Scopes:   strings.Join(creds.Scopes, ","),
	}, &authz)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	err = c.call(ctx, http.MethodPost, "/connect/token", anonymous, tokenRequest{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		Code:         authz.Code,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AccountID == "" || resp.AccessToken == "" {
		return nil, fmt.Errorf("connect token response is missing the account id or access token")
	}
	return &resp, nil
}

// GetAccount returns the account the access token belongs to
func (c *Client) GetAccount(ctx context.Context, accessToken string) (*Account, error) {
	var account Account
	if err := c.call(ctx, http.MethodGet, "/account", bearer(accessToken), nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// DeleteAccount removes an account from the provider. Deleting an unknown
// account is not an error.
func (c *Client) DeleteAccount(ctx context.Context, accountID string) error {
	path := fmt.Sprintf("/a/%s/accounts/%s", url.PathEscape(c.config.ClientID), url.PathEscape(accountID))
	err := c.call(ctx, http.MethodDelete, path, application, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}
