package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenManager_IssueValidate(t *testing.T) {
	manager := NewTokenManager(&Config{Secret: "test-secret", TTL: 15 * time.Minute})

	token, err := manager.Issue("org-123", "ops@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token.Token == "" {
		t.Error("Token should not be empty")
	}

	claims, err := manager.Validate(token.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.OrgID != "org-123" {
		t.Errorf("OrgID = %s, want org-123", claims.OrgID)
	}
	if claims.Subject != "ops@example.com" {
		t.Errorf("Subject = %s, want ops@example.com", claims.Subject)
	}
	if claims.Issuer != "uou" {
		t.Errorf("Issuer = %s, want uou", claims.Issuer)
	}
}

func TestTokenManager_Issue_RequiresOrg(t *testing.T) {
	manager := NewTokenManager(&Config{Secret: "test-secret"})

	if _, err := manager.Issue("", "ops"); !errors.Is(err, ErrMissingOrg) {
		t.Errorf("Issue() error = %v, want ErrMissingOrg", err)
	}
}

func TestTokenManager_Validate_Invalid(t *testing.T) {
	manager := NewTokenManager(&Config{Secret: "test-secret"})
	other := NewTokenManager(&Config{Secret: "other-secret"})

	foreign, err := other.Issue("org-123", "ops")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	noOrg, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"garbage", "invalid-token", ErrInvalidToken},
		{"wrong secret", foreign.Token, ErrInvalidToken},
		{"missing org", noOrg, ErrMissingOrg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.Validate(tt.token); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenManager_Validate_Expired(t *testing.T) {
	manager := NewTokenManager(&Config{Secret: "test-secret", TTL: time.Minute})
	issuedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return issuedAt }

	token, err := manager.Issue("org-123", "ops")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	manager.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := manager.Validate(token.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}
