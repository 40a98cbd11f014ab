package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
database:
  host: "db.example.com"
  port: 5433
  user: "testuser"
  password: "testpass"
  database: "testdb"
  ssl_mode: "require"
redis:
  host: "redis.example.com"
  port: 6380
  password: "redispass"
  db: 1
kafka:
  brokers:
    - "kafka1:9092"
    - "kafka2:9092"
  group_prefix: "uou-test"
  enabled: false
  retry:
    max_attempts: 3
    initial_backoff: 2s
telemetry:
  service_name: "test-service"
  collector_url: "http://collector:4317"
  enabled: true
nylas:
  base_url: "http://nylas.local"
  client_id: "nylas-client"
sync:
  lock_ttl: 5m
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	chdir(t, tmpDir)

	cfg, err := Load("config")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %v, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %v, want 9000", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("Database.Host = %v, want db.example.com", cfg.Database.Host)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("Database.SSLMode = %v, want require", cfg.Database.SSLMode)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers length = %v, want 2", len(cfg.Kafka.Brokers))
	}
	if cfg.Kafka.Enabled {
		t.Error("Kafka.Enabled should be false")
	}
	if cfg.Kafka.Retry.MaxAttempts != 3 {
		t.Errorf("Kafka.Retry.MaxAttempts = %v, want 3", cfg.Kafka.Retry.MaxAttempts)
	}
	if cfg.Kafka.Retry.InitialBackoff != 2*time.Second {
		t.Errorf("Kafka.Retry.InitialBackoff = %v, want 2s", cfg.Kafka.Retry.InitialBackoff)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled should be true")
	}
	if cfg.Nylas.BaseURL != "http://nylas.local" {
		t.Errorf("Nylas.BaseURL = %v, want http://nylas.local", cfg.Nylas.BaseURL)
	}
	if cfg.Sync.LockTTL != 5*time.Minute {
		t.Errorf("Sync.LockTTL = %v, want 5m", cfg.Sync.LockTTL)
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("nonexistent")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %v, want 5432", cfg.Database.Port)
	}
	if cfg.Redis.Port != 6379 {
		t.Errorf("Redis.Port = %v, want 6379", cfg.Redis.Port)
	}
	if !cfg.Kafka.Enabled {
		t.Error("Kafka.Enabled should default to true")
	}
	if cfg.Auth.CodeTTL != 10*time.Minute {
		t.Errorf("Auth.CodeTTL = %v, want 10m", cfg.Auth.CodeTTL)
	}
	if cfg.Sync.ActivePeriodDays != 90 {
		t.Errorf("Sync.ActivePeriodDays = %v, want 90", cfg.Sync.ActivePeriodDays)
	}
	if cfg.Kafka.Retry.Multiplier != 4.0 {
		t.Errorf("Kafka.Retry.Multiplier = %v, want 4", cfg.Kafka.Retry.Multiplier)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("UOU_SERVER_PORT", "9999")
	t.Setenv("UOU_NYLAS_CLIENT_ID", "from-env")

	cfg, err := Load("nonexistent")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %v, want 9999 (from env)", cfg.Server.Port)
	}
	if cfg.Nylas.ClientID != "from-env" {
		t.Errorf("Nylas.ClientID = %v, want from-env", cfg.Nylas.ClientID)
	}
}

func TestLoad_EnvSecretsWithoutDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	env := map[string]string{
		"UOU_NYLAS_CLIENT_SECRET":           "nylas-secret",
		"UOU_NYLAS_WEBHOOK_SECRET":          "hook-secret",
		"UOU_AUTH_JWT_SECRET":               "jwt-secret",
		"UOU_AUTH_ENCRYPTION_KEY":           "enc-key",
		"UOU_OAUTH_GOOGLE_CLIENT_ID":        "google-id",
		"UOU_OAUTH_MICROSOFT_CLIENT_SECRET": "ms-secret",
		"UOU_OAUTH_MICROSOFT_TENANT":        "contoso",
		"UOU_DATABASE_PASSWORD":             "db-pass",
		"UOU_TELEMETRY_COLLECTOR_URL":       "otel:4317",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := Load("nonexistent")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Nylas.ClientSecret", cfg.Nylas.ClientSecret, "nylas-secret"},
		{"Nylas.WebhookSecret", cfg.Nylas.WebhookSecret, "hook-secret"},
		{"Auth.JWTSecret", cfg.Auth.JWTSecret, "jwt-secret"},
		{"Auth.EncryptionKey", cfg.Auth.EncryptionKey, "enc-key"},
		{"OAuth.Google.ClientID", cfg.OAuth.Google.ClientID, "google-id"},
		{"OAuth.Microsoft.ClientSecret", cfg.OAuth.Microsoft.ClientSecret, "ms-secret"},
		{"OAuth.Microsoft.Tenant", cfg.OAuth.Microsoft.Tenant, "contoso"},
		{"Database.Password", cfg.Database.Password, "db-pass"},
		{"Telemetry.CollectorURL", cfg.Telemetry.CollectorURL, "otel:4317"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestAddress(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 8080}
	if got := s.Address(); got != "0.0.0.0:8080" {
		t.Errorf("ServerConfig.Address() = %v, want 0.0.0.0:8080", got)
	}
	r := RedisConfig{Host: "redis", Port: 6379}
	if got := r.Address(); got != "redis:6379" {
		t.Errorf("RedisConfig.Address() = %v, want redis:6379", got)
	}
}
