package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Rohianon/uou/pkg/auth"
	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/pkg/response"
)

// RequestID reuses the caller's X-Request-ID or mints one, echoes it back
// and tags every log line of the request with it.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		c.SetUserContext(logger.ContextWithFields(c.UserContext(), "request_id", requestID))

		return c.Next()
	}
}

func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return c.Next()
	}
}

func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		l := logger.WithContext(c.UserContext())
		l.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Str("org_id", GetOrgID(c)).
			Msg("request")

		return err
	}
}

type RateLimitConfig struct {
	// Max requests per Duration per client IP; also the burst size.
	Max      int
	Duration time.Duration
}

type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	config   RateLimitConfig
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles each client IP with a token bucket. Used in front of
// the provider webhook endpoint.
func RateLimiter(config RateLimitConfig) fiber.Handler {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		config:   config,
	}

	go rl.cleanup()

	every := rate.Every(config.Duration / time.Duration(max(config.Max, 1)))

	return func(c *fiber.Ctx) error {
		ip := c.IP()

		rl.mu.Lock()
		v, exists := rl.visitors[ip]
		if !exists {
			v = &visitor{limiter: rate.NewLimiter(every, config.Max)}
			rl.visitors[ip] = v
		}
		v.lastSeen = time.Now()
		allowed := v.limiter.Allow()
		rl.mu.Unlock()

		if !allowed {
			return response.Error(c, fiber.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		}
		return c.Next()
	}
}

func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.config.Duration*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Auth accepts organization API tokens signed with jwtSecret.
func Auth(jwtSecret string) fiber.Handler {
	tokens := auth.NewTokenManager(&auth.Config{Secret: jwtSecret})
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header format")
		}

		claims, err := tokens.Validate(parts[1])
		if errors.Is(err, auth.ErrMissingOrg) {
			return response.Error(c, fiber.StatusUnauthorized, "INVALID_TOKEN", "invalid token claims")
		}
		if err != nil {
			return response.Error(c, fiber.StatusUnauthorized, "INVALID_TOKEN", "invalid token")
		}

		c.Locals("org_id", claims.OrgID)
		c.Locals("subject", claims.Subject)
		c.SetUserContext(logger.ContextWithFields(c.UserContext(), "org_id", claims.OrgID))

		return c.Next()
	}
}

func GetOrgID(c *fiber.Ctx) string {
	if id, ok := c.Locals("org_id").(string); ok {
		return id
	}
	return ""
}

func GetSubject(c *fiber.Ctx) string {
	if s, ok := c.Locals("subject").(string); ok {
		return s
	}
	return ""
}

// WebhookSignature rejects requests whose hex HMAC-SHA256 of the raw body,
// keyed with secret, does not match header.
func WebhookSignature(secret, header string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, err := hex.DecodeString(c.Get(header))
		if err != nil || len(got) == 0 {
			return response.Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "missing or malformed signature")
		}

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(c.Body())
		if !hmac.Equal(got, mac.Sum(nil)) {
			return response.Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "signature mismatch")
		}
		return c.Next()
	}
}
