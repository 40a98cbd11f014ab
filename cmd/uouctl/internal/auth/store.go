package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apiauth "github.com/Rohianon/uou/pkg/auth"
)

// StoredAuth is the API token saved by "uouctl auth login".
type StoredAuth struct {
	Token     string    `json:"token"`
	OrgID     string    `json:"org_id"`
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// FromToken reads the organization and expiry out of an API token. The
// signature is checked by the service, not here.
func FromToken(token string) (*StoredAuth, error) {
	var c apiauth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if c.OrgID == "" {
		return nil, errors.New("invalid token: missing org_id claim")
	}

	stored := &StoredAuth{Token: token, OrgID: c.OrgID, Subject: c.Subject}
	if c.ExpiresAt != nil {
		stored.ExpiresAt = c.ExpiresAt.Time
	}
	return stored, nil
}

// Expired reports whether the token carries an expiry that has passed.
func (a *StoredAuth) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

func getAuthFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".uou", "auth.json"), nil
}

func Save(auth *StoredAuth) error {
	path, err := getAuthFilePath()
	if err != nil {
		return err
	}
	return SaveTo(path, auth)
}

func SaveTo(path string, auth *StoredAuth) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func Load() (*StoredAuth, error) {
	path, err := getAuthFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom returns nil without error when nothing has been saved.
func LoadFrom(path string) (*StoredAuth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var auth StoredAuth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}

	return &auth, nil
}

func Clear() error {
	path, err := getAuthFilePath()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func GetToken() string {
	auth, err := Load()
	if err != nil || auth == nil {
		return ""
	}
	return auth.Token
}
