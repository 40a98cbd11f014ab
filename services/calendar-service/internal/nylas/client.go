package nylas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/telemetry"
)

// Config holds sync provider API configuration
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// RateLimit is requests per second shared by all callers; 0 disables.
	RateLimit float64
	Burst     int
}

// Client is the sync provider API client
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a new sync provider client
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}

	return &Client{
		config:     cfg,
		httpClient: telemetry.NewTracedHTTPClient(timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    limiter,
	}
}

// ErrMockOutsideDev is returned by Select when no client secret is set for a
// non-dev environment.
var ErrMockOutsideDev = errors.New("sync provider client secret is required outside dev")

// Select returns the HTTP client when a client secret is configured and the
// in-memory mock otherwise. The mock is only allowed in dev.
func Select(cfg *Config, environment string) (SyncClient, error) {
	if cfg.ClientSecret != "" {
		return NewClient(cfg), nil
	}
	if environment != "dev" {
		return nil, ErrMockOutsideDev
	}
	return NewMockClient(), nil
}

// auth selects the credential a request is sent with.
type auth func(req *http.Request, c *Config)

// bearer authenticates as one connected account.
func bearer(accessToken string) auth {
	return func(req *http.Request, _ *Config) {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

// application authenticates as the application itself.
func application(req *http.Request, c *Config) {
	req.SetBasicAuth(c.ClientSecret, "")
}

func anonymous(*http.Request, *Config) {}

// doRequest performs a rate-limited request to the provider
func (c *Client) doRequest(ctx context.Context, method, path string, authFn auth, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	authFn(req, c.config)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync provider request failed: %w", err)
	}
	return resp, nil
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// decodeResponse decodes a JSON response into the target. 404 maps to
// ErrNotFound and other client errors to ErrProvider; server errors and
// throttling stay plain errors so task consumers retry them.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		cause := fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Message)

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return apperrors.ErrNotFound.WithError(cause)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return cause
		default:
			return apperrors.ErrProvider.WithError(cause).Withf("Sync provider rejected the request: %s", apiErr.Message)
		}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

func (c *Client) call(ctx context.Context, method, path string, authFn auth, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, authFn, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, target)
}
