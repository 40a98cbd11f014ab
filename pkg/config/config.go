package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Nylas     NylasConfig     `mapstructure:"nylas"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Docs serves Swagger UI at /docs.
	Docs bool `mapstructure:"docs"`
}

// Address returns host:port for the HTTP listener.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Address returns host:port for the Redis client.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers        []string    `mapstructure:"brokers"`
	GroupPrefix    string      `mapstructure:"group_prefix"`
	Enabled        bool        `mapstructure:"enabled"`
	Consumers      bool        `mapstructure:"consumers"`
	ConsumerGroups []string    `mapstructure:"consumer_groups"`
	Retry          RetryConfig `mapstructure:"retry"`
}

// RetryConfig controls the retry-topic chain used by task consumers.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	CollectorURL string `mapstructure:"collector_url"`
	Environment  string `mapstructure:"environment"`
	Enabled      bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	CodeTTL       time.Duration `mapstructure:"code_ttl"`
	CallbackURL   string        `mapstructure:"callback_url"`
	EncryptionKey string        `mapstructure:"encryption_key"`
}

type OAuthConfig struct {
	Google    OAuthClientConfig `mapstructure:"google"`
	Microsoft OAuthClientConfig `mapstructure:"microsoft"`
	Zoom      OAuthClientConfig `mapstructure:"zoom"`
}

type OAuthClientConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	Tenant       string   `mapstructure:"tenant"`
}

type NylasConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// WebhookSecret signs change notifications; the client secret is used
	// when empty.
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	Burst         int           `mapstructure:"burst"`
}

type SyncConfig struct {
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	ActivePeriodDays    int           `mapstructure:"active_period_days"`
	TokenRefreshHorizon time.Duration `mapstructure:"token_refresh_horizon"`
	DiagnosticsTTL      time.Duration `mapstructure:"diagnostics_ttl"`
}

func Load(configName string) (*Config, error) {
	// .env is optional; real deployments pass env vars directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/uou/")

	v.SetEnvPrefix("UOU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindEnvs registers every leaf key of t with viper. AutomaticEnv alone only
// resolves keys viper already knows from a default or the config file, so
// secrets without a default would never be read from UOU_* variables.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.docs", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "uou")
	v.SetDefault("database.database", "uou")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_prefix", "uou")
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.consumers", true)
	v.SetDefault("kafka.retry.max_attempts", 5)
	v.SetDefault("kafka.retry.initial_backoff", 5*time.Second)
	v.SetDefault("kafka.retry.max_backoff", 10*time.Minute)
	v.SetDefault("kafka.retry.multiplier", 4.0)

	v.SetDefault("telemetry.service_name", "calendar-service")
	v.SetDefault("telemetry.environment", "dev")
	v.SetDefault("telemetry.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("auth.code_ttl", 10*time.Minute)
	v.SetDefault("auth.callback_url", "http://localhost:8080/v1/auth/oauth/callback")

	v.SetDefault("nylas.base_url", "https://api.nylas.com")
	v.SetDefault("nylas.timeout", 30*time.Second)
	v.SetDefault("nylas.rate_limit", 10.0)
	v.SetDefault("nylas.burst", 20)

	v.SetDefault("sync.lock_ttl", 30*time.Minute)
	v.SetDefault("sync.active_period_days", 90)
	v.SetDefault("sync.token_refresh_horizon", 24*time.Hour)
	v.SetDefault("sync.diagnostics_ttl", time.Hour)
}
