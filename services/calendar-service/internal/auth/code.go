package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const codeKeyPrefix = "auth_code:"

// AuthCode binds an in-progress auth attempt to an organization. It is
// immutable and single use.
type AuthCode struct {
	Code        uuid.UUID `json:"code"`
	OrgID       string    `json:"org_id"`
	RedirectURI string    `json:"redirect_uri,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CodeStore keeps auth codes until they are consumed or expire.
type CodeStore interface {
	Create(ctx context.Context, code AuthCode, ttl time.Duration) error
	// TryGet returns ok == false for unknown and expired codes.
	TryGet(ctx context.Context, code uuid.UUID) (*AuthCode, bool, error)
	// TryDelete is a no-op when the code is absent.
	TryDelete(ctx context.Context, code uuid.UUID) error
}

// RedisClient is the subset of go-redis the code store needs.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCodeStore relies on native key expiry, so no sweeper is needed.
type RedisCodeStore struct {
	client RedisClient
}

func NewRedisCodeStore(client RedisClient) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func (s *RedisCodeStore) key(code uuid.UUID) string {
	return codeKeyPrefix + code.String()
}

func (s *RedisCodeStore) Create(ctx context.Context, code AuthCode, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("auth code ttl must be positive, got %s", ttl)
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal auth code: %w", err)
	}

	if err := s.client.Set(ctx, s.key(code.Code), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store auth code: %w", err)
	}
	return nil
}

func (s *RedisCodeStore) TryGet(ctx context.Context, code uuid.UUID) (*AuthCode, bool, error) {
	data, err := s.client.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get auth code: %w", err)
	}

	var ac AuthCode
	if err := json.Unmarshal(data, &ac); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal auth code: %w", err)
	}
	return &ac, true, nil
}

func (s *RedisCodeStore) TryDelete(ctx context.Context, code uuid.UUID) error {
	if err := s.client.Del(ctx, s.key(code)).Err(); err != nil {
		return fmt.Errorf("failed to delete auth code: %w", err)
	}
	return nil
}
