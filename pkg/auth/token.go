package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// Organization API Tokens
// =============================================================================
// Tenant endpoints accept HS256 bearer tokens scoped to one organization.
// Tokens are minted by operators (uouctl auth issue) or an upstream gateway
// sharing the same secret, and validated by middleware.Auth.
// =============================================================================

const defaultIssuer = "uou"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingOrg   = errors.New("token has no org_id claim")
)

// Config holds token configuration
type Config struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// Claims represents API token claims. OrgID scopes every operation.
type Claims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// Token is a signed API token
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenManager issues and validates API tokens
type TokenManager struct {
	config *Config
	now    func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(cfg *Config) *TokenManager {
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	return &TokenManager{config: cfg, now: time.Now}
}

// Issue signs a token for orgID. subject names the caller for audit logs.
func (m *TokenManager) Issue(orgID, subject string) (*Token, error) {
	if orgID == "" {
		return nil, ErrMissingOrg
	}

	now := m.now()
	expiresAt := now.Add(m.config.TTL)
	claims := &Claims{
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Token: signed, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// Validate checks the signature and expiry and returns the claims
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.OrgID == "" {
		return nil, ErrMissingOrg
	}
	return claims, nil
}
