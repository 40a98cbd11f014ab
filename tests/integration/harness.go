// Package integration drives a running calendar service and the sync provider
// mock over HTTP. Both are expected at the URLs in Config; tests skip when
// they are not reachable.
package integration

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apiauth "github.com/Rohianon/uou/pkg/auth"
)

type Config struct {
	SyncProviderURL string
	CalendarURL     string
	ClientID        string
	ClientSecret    string
	// JWTSecret must match the calendar service's auth.jwt_secret to mint
	// organization tokens.
	JWTSecret string
}

func DefaultConfig() *Config {
	return &Config{
		SyncProviderURL: env("SYNC_PROVIDER_MOCK_URL", "http://localhost:8090"),
		CalendarURL:     env("CALENDAR_SERVICE_URL", "http://localhost:8080"),
		ClientID:        env("SYNC_PROVIDER_CLIENT_ID", "mock-client"),
		ClientSecret:    env("SYNC_PROVIDER_CLIENT_SECRET", "mock-secret"),
		JWTSecret:       os.Getenv("UOU_AUTH_JWT_SECRET"),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type Harness struct {
	t      *testing.T
	config *Config
	client *http.Client
}

func NewHarness(t *testing.T) *Harness {
	return &Harness{
		t:      t,
		config: DefaultConfig(),
		client: &http.Client{
			Timeout: 30 * time.Second,
			// Connect and callback answers are redirects the tests inspect.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (h *Harness) Config() *Config {
	return h.config
}

type Request struct {
	Method  string
	URL     string
	Body    any
	Headers map[string]string
}

type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func (h *Harness) Do(req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		raw, ok := req.Body.([]byte)
		if !ok {
			var err error
			if raw, err = json.Marshal(req.Body); err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequest(req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    resp.Header,
	}, nil
}

// MustDo is Do for requests whose transport failure ends the test.
func (h *Harness) MustDo(req Request) *Response {
	h.t.Helper()
	resp, err := h.Do(req)
	require.NoError(h.t, err)
	return resp
}

func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Data decodes the data member of a calendar service envelope into v.
func (r *Response) Data(v any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, v)
}

// ErrorCode returns error.code of a calendar service envelope.
func (r *Response) ErrorCode() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(r.Body, &env)
	return env.Error.Code
}

// OrgToken mints an organization API token the way `uouctl auth issue` does.
// The test is skipped when no signing secret is configured.
func (h *Harness) OrgToken(orgID string) map[string]string {
	h.t.Helper()
	if h.config.JWTSecret == "" {
		h.t.Skip("UOU_AUTH_JWT_SECRET not set")
	}
	tok, err := apiauth.NewTokenManager(&apiauth.Config{Secret: h.config.JWTSecret, TTL: time.Hour}).
		Issue(orgID, "integration@uou.test")
	require.NoError(h.t, err)
	return map[string]string{"Authorization": "Bearer " + tok.Token}
}

// Sign returns the X-Nylas-Signature value for body under the client secret.
func (h *Harness) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(h.config.ClientSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Harness) ResetSyncProvider() error {
	resp, err := h.Do(Request{
		Method: "POST",
		URL:    h.config.SyncProviderURL + "/admin/reset",
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("reset failed with status %d", resp.StatusCode)
	}
	return nil
}

// ConnectAccount runs the provider's authorize and token exchange for email
// and returns the account id and access token.
func (h *Harness) ConnectAccount(email, name string) (string, string) {
	h.t.Helper()

	resp := h.MustDo(Request{
		Method: "POST",
		URL:    h.config.SyncProviderURL + "/connect/authorize",
		Body: map[string]any{
			"client_id":     h.config.ClientID,
			"name":          name,
			"email_address": email,
			"provider":      "exchange",
			"settings":      map[string]any{"username": email, "password": "secret"},
		},
	})
	h.AssertStatus(resp, 200)

	var authz struct {
		Code string `json:"code"`
	}
	require.NoError(h.t, resp.JSON(&authz))

	resp = h.MustDo(Request{
		Method: "POST",
		URL:    h.config.SyncProviderURL + "/connect/token",
		Body: map[string]any{
			"client_id":     h.config.ClientID,
			"client_secret": h.config.ClientSecret,
			"code":          authz.Code,
		},
	})
	h.AssertStatus(resp, 200)

	var token struct {
		AccountID   string `json:"account_id"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(h.t, resp.JSON(&token))
	return token.AccountID, token.AccessToken
}

func (h *Harness) WaitForSyncProvider(timeout time.Duration) error {
	return h.waitForHealth(h.config.SyncProviderURL+"/health", timeout)
}

func (h *Harness) WaitForCalendarService(timeout time.Duration) error {
	return h.waitForHealth(h.config.CalendarURL+"/health", timeout)
}

func (h *Harness) waitForHealth(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := h.client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", url)
}

func (h *Harness) AssertStatus(resp *Response, expected int) {
	h.t.Helper()
	if resp.StatusCode != expected {
		h.t.Errorf("Expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(resp.Body))
	}
}

// AssertJSONField checks a top-level field of a plain JSON body.
func (h *Harness) AssertJSONField(resp *Response, field string, expected any) {
	h.t.Helper()
	var data map[string]any
	if err := resp.JSON(&data); err != nil {
		h.t.Errorf("Failed to parse JSON: %v", err)
		return
	}

	actual, ok := data[field]
	if !ok {
		h.t.Errorf("Field %s not found in response", field)
		return
	}
	if actual != expected {
		h.t.Errorf("Field %s: expected %v, got %v", field, expected, actual)
	}
}
