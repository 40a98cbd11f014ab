package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// APIError is the error half of the service's response envelope.
type APIError struct {
	Status  int      `json:"-"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s (%s)", e.Message, strings.Join(e.Details, "; "))
	}
	return e.Message
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

func New() *Client {
	return NewWithURL(viper.GetString("api_url"))
}

func NewWithURL(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) do(method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if env.Error != nil && env.Error.Message != "" {
			env.Error.Status = resp.StatusCode
			return env.Error
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// Auth endpoints

type AuthMethod struct {
	Method         string `json:"method"`
	Provider       string `json:"provider"`
	DataType       string `json:"data_type"`
	Flow           string `json:"flow"`
	ServiceAccount bool   `json:"service_account"`
}

func (c *Client) ListMethods() ([]AuthMethod, error) {
	var resp []AuthMethod
	err := c.do("GET", "/v1/auth/methods", nil, &resp)
	return resp, err
}

type CreateCodeRequest struct {
	RedirectURI string `json:"redirect_uri,omitempty"`
}

type CreateCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) CreateAuthCode(redirectURI string) (*CreateCodeResponse, error) {
	var resp CreateCodeResponse
	err := c.do("POST", "/v1/auth/codes", CreateCodeRequest{RedirectURI: redirectURI}, &resp)
	return &resp, err
}

// ConnectURL is the page a browser opens to start an OAuth flow.
func (c *Client) ConnectURL(method, code string) string {
	return c.baseURL + "/v1/auth/connect/" + url.PathEscape(strings.ToLower(method)) + "?code=" + url.QueryEscape(code)
}

type SubmitRequest struct {
	Code string            `json:"code"`
	Data map[string]string `json:"data"`
}

type AuthResult struct {
	IDType string `json:"id_type"`
	ID     string `json:"id"`
}

func (c *Client) Submit(method, code string, data map[string]string) (*AuthResult, error) {
	var resp AuthResult
	err := c.do("POST", "/v1/auth/submit/"+url.PathEscape(strings.ToLower(method)), SubmitRequest{
		Code: code,
		Data: data,
	}, &resp)
	return &resp, err
}

type SubaccountRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type SubaccountResponse struct {
	AccountID string `json:"account_id"`
}

func (c *Client) AuthSubaccount(serviceAccountID, email, name string) (*SubaccountResponse, error) {
	var resp SubaccountResponse
	err := c.do("POST", "/v1/service-accounts/"+url.PathEscape(serviceAccountID)+"/subaccounts", SubaccountRequest{
		Email: email,
		Name:  name,
	}, &resp)
	return &resp, err
}

// Account endpoints

type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	AuthMethod       string    `json:"auth_method"`
	ServiceAccountID *string   `json:"service_account_id,omitempty"`
	SyncState        string    `json:"sync_state"`
	CreatedAt        time.Time `json:"created_at"`
}

type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

type AccountPage struct {
	Items      []Account  `json:"items"`
	Pagination Pagination `json:"pagination"`
}

func (c *Client) ListAccounts(page, perPage int) (*AccountPage, error) {
	var resp AccountPage
	err := c.do("GET", fmt.Sprintf("/v1/accounts?page=%d&per_page=%d", page, perPage), nil, &resp)
	return &resp, err
}

// Maintenance endpoints

func (c *Client) AdvanceActivePeriod() error {
	return c.do("POST", "/v1/maintenance/advance-active-period", nil, nil)
}

func (c *Client) RefreshExpiredTokens() error {
	return c.do("POST", "/v1/maintenance/refresh-expired-tokens", nil, nil)
}

// Diagnostics endpoints

type DiagnosticsRun struct {
	RunID string `json:"run_id"`
}

func (c *Client) RunDiagnostics(calendarID string) (*DiagnosticsRun, error) {
	var resp DiagnosticsRun
	err := c.do("POST", "/v1/diagnostics/calendars/"+url.PathEscape(calendarID), nil, &resp)
	return &resp, err
}

type DiagnosticsReport struct {
	RunID                 string    `json:"run_id"`
	CalendarID            string    `json:"calendar_id"`
	AccountID             string    `json:"account_id"`
	SyncState             string    `json:"sync_state,omitempty"`
	ProviderCalendarFound bool      `json:"provider_calendar_found"`
	ProviderEvents        int       `json:"provider_events"`
	LocalEvents           int       `json:"local_events"`
	Problems              []string  `json:"problems,omitempty"`
	CheckedAt             time.Time `json:"checked_at"`
}

func (c *Client) GetDiagnostics(runID string) (*DiagnosticsReport, error) {
	var resp DiagnosticsReport
	err := c.do("GET", "/v1/diagnostics/"+url.PathEscape(runID), nil, &resp)
	return &resp, err
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
