package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/nylas"
)

func directData(input auth.Input) (map[string]string, error) {
	in, ok := input.(auth.DirectSubmissionInput)
	if !ok {
		return nil, fmt.Errorf("direct submission settings require submitted data, got %T", input)
	}
	if in.Data == nil {
		return map[string]string{}, nil
	}
	return in.Data, nil
}

func requireFields(data map[string]string, fields ...string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(data[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return apperrors.ErrValidation.WithDetails("Missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// GoogleServiceAccountHandler stores a Google service account key. Its
// identity is the key's client email.
type GoogleServiceAccountHandler struct{}

func NewGoogleServiceAccountHandler() *GoogleServiceAccountHandler {
	return &GoogleServiceAccountHandler{}
}

type googleKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
}

type googleServiceAccountBlob struct {
	Key json.RawMessage `json:"key"`
}

func (h *GoogleServiceAccountHandler) Methods() []auth.Method {
	return []auth.Method{auth.MethodGoogleServiceAccount}
}

func (h *GoogleServiceAccountHandler) CreateSettings(ctx context.Context, input auth.Input) (*Settings, error) {
	data, err := directData(input)
	if err != nil {
		return nil, err
	}
	if err := requireFields(data, "service_account_key"); err != nil {
		return nil, err
	}

	raw := json.RawMessage(data["service_account_key"])
	var key googleKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, apperrors.ErrValidation.WithDetails("service_account_key is not valid JSON")
	}
	if key.Type != "service_account" || key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, apperrors.ErrValidation.WithDetails("service_account_key is not a Google service account key")
	}

	blob, err := json.Marshal(googleServiceAccountBlob{Key: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal service account settings: %w", err)
	}

	return &Settings{
		Email:   normalizeEmail(key.ClientEmail),
		Name:    data["name"],
		Subject: key.ClientID,
		Blob:    blob,
	}, nil
}

func (h *GoogleServiceAccountHandler) RefreshToken(blob []byte) (string, bool) {
	return "", false
}

func (h *GoogleServiceAccountHandler) Credentials(blob []byte) (nylas.Credentials, error) {
	var b googleServiceAccountBlob
	if err := json.Unmarshal(blob, &b); err != nil {
		return nylas.Credentials{}, fmt.Errorf("failed to unmarshal service account settings: %w", err)
	}

	var key map[string]any
	if err := json.Unmarshal(b.Key, &key); err != nil {
		return nylas.Credentials{}, fmt.Errorf("failed to unmarshal service account key: %w", err)
	}
	return nylas.Credentials{
		Provider: nylas.ProviderGmail,
		Settings: map[string]any{"service_account_json": key},
		Scopes:   []string{"calendar"},
	}, nil
}

// ExchangeHandler stores Exchange Web Services credentials.
type ExchangeHandler struct{}

func NewExchangeHandler() *ExchangeHandler {
	return &ExchangeHandler{}
}

type exchangeBlob struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ServerHost string `json:"server_host,omitempty"`
}

func (h *ExchangeHandler) Methods() []auth.Method {
	return []auth.Method{auth.MethodExchange}
}

func (h *ExchangeHandler) CreateSettings(ctx context.Context, input auth.Input) (*Settings, error) {
	data, err := directData(input)
	if err != nil {
		return nil, err
	}
	if err := requireFields(data, "email", "password"); err != nil {
		return nil, err
	}

	email := normalizeEmail(data["email"])
	if !strings.Contains(email, "@") {
		return nil, apperrors.ErrValidation.WithDetails("email is not a valid address")
	}

	username := strings.TrimSpace(data["username"])
	if username == "" {
		username = email
	}

	blob, err := json.Marshal(exchangeBlob{
		Username:   username,
		Password:   data["password"],
		ServerHost: strings.TrimSpace(data["server_host"]),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal exchange settings: %w", err)
	}

	return &Settings{
		Email: email,
		Name:  data["name"],
		Blob:  blob,
	}, nil
}

func (h *ExchangeHandler) RefreshToken(blob []byte) (string, bool) {
	return "", false
}

func (h *ExchangeHandler) Credentials(blob []byte) (nylas.Credentials, error) {
	var b exchangeBlob
	if err := json.Unmarshal(blob, &b); err != nil {
		return nylas.Credentials{}, fmt.Errorf("failed to unmarshal exchange settings: %w", err)
	}

	settings := map[string]any{
		"username": b.Username,
		"password": b.Password,
	}
	if b.ServerHost != "" {
		settings["eas_server_host"] = b.ServerHost
	}
	return nylas.Credentials{
		Provider: nylas.ProviderExchange,
		Settings: settings,
		Scopes:   []string{"calendar"},
	}, nil
}
