package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Config configures one provider. AuthURL, TokenURL and UserInfoURL override
// the provider defaults, which is how tests and local mocks are wired.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Tenant       string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	HTTPClient   *http.Client
}

// Provider is an AuthProvider over an oauth2.Config.
type Provider struct {
	name        string
	conf        *oauth2.Config
	userInfoURL string
	authOpts    []oauth2.AuthCodeOption
	httpClient  *http.Client
}

func newProvider(name string, cfg Config, endpoint oauth2.Endpoint, defaultScopes []string, userInfoURL string, opts ...oauth2.AuthCodeOption) *Provider {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &Provider{
		name: name,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		authOpts:    opts,
		httpClient:  client,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) AuthURL(state string) string {
	return p.conf.AuthCodeURL(state, p.authOpts...)
}

func (p *Provider) Exchange(ctx context.Context, code string) (*Result, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: exchange code: %w", p.name, err)
	}

	res, err := p.toResult(ctx, tok, true)
	if err != nil {
		return nil, err
	}
	if res.Email == "" {
		return nil, fmt.Errorf("%s: provider returned no email", p.name)
	}
	return res, nil
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty", p.name)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: refresh token: %w", p.name, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	// The refreshed token is usable even when the identity lookup fails;
	// callers keep the email they stored at connect time.
	return p.toResult(ctx, tok, false)
}

type idTokenClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// toResult maps tok to a Result. A userinfo failure is returned only when
// identityRequired is set.
func (p *Provider) toResult(ctx context.Context, tok *oauth2.Token, identityRequired bool) (*Result, error) {
	res := &Result{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		res.Scopes = strings.Fields(scope)
	}

	// The id_token came straight from the token endpoint over TLS, so its
	// signature is not checked here.
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		claims := &idTokenClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
			res.Email = claims.Email
			if res.Email == "" {
				res.Email = claims.PreferredUsername
			}
			res.Name = claims.Name
			res.Subject = claims.Subject
		}
	}

	if res.Email == "" && p.userInfoURL != "" && res.AccessToken != "" {
		if err := p.fetchUserInfo(ctx, res); err != nil && identityRequired {
			return nil, err
		}
	}
	res.Email = strings.ToLower(strings.TrimSpace(res.Email))
	return res, nil
}

type userInfoResponse struct {
	Sub       string `json:"sub"`
	ID        string `json:"id"`
	Email     string `json:"email"`
	Mail      string `json:"mail"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (p *Provider) fetchUserInfo(ctx context.Context, res *Result) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+res.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: user info request: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: user info request failed with status %d", p.name, resp.StatusCode)
	}

	var info userInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("%s: failed to parse user info: %w", p.name, err)
	}

	res.Email = info.Email
	if res.Email == "" {
		res.Email = info.Mail
	}
	res.Name = info.Name
	if res.Name == "" {
		res.Name = strings.TrimSpace(info.FirstName + " " + info.LastName)
	}
	res.Subject = info.Sub
	if res.Subject == "" {
		res.Subject = info.ID
	}
	return nil
}

// Describe returns a message about err that is safe to show to the user who
// attempted the auth, or "" when nothing safe is known.
func Describe(err error) string {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return ""
	}
	switch {
	case re.ErrorCode != "" && re.ErrorDescription != "":
		return re.ErrorCode + ": " + re.ErrorDescription
	case re.ErrorCode != "":
		return re.ErrorCode
	default:
		return ""
	}
}
