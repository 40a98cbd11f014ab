package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Rohianon/uou/pkg/config"
	"github.com/Rohianon/uou/pkg/crypto"
	"github.com/Rohianon/uou/pkg/database"
	"github.com/Rohianon/uou/pkg/events"
	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/pkg/metrics"
	"github.com/Rohianon/uou/pkg/middleware"
	"github.com/Rohianon/uou/pkg/oauth"
	"github.com/Rohianon/uou/pkg/response"
	"github.com/Rohianon/uou/pkg/swagger"
	"github.com/Rohianon/uou/pkg/telemetry"
	"github.com/Rohianon/uou/services/calendar-service/api"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/handler"
	"github.com/Rohianon/uou/services/calendar-service/internal/nylas"
	"github.com/Rohianon/uou/services/calendar-service/internal/repository"
	"github.com/Rohianon/uou/services/calendar-service/internal/service"
	"github.com/Rohianon/uou/services/calendar-service/internal/settings"
	"github.com/Rohianon/uou/services/calendar-service/internal/tasks"
)

const serviceName = "calendar-service"

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		logger.Init(serviceName, "info", true)
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(serviceName, cfg.Log.Level, cfg.Log.Pretty)
	logger.Info().Msg("Starting Calendar Service")
	metrics.SetService(serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, &telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		CollectorURL: cfg.Telemetry.CollectorURL,
		Environment:  cfg.Telemetry.Environment,
		Enabled:      cfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	// Database connection
	dbCfg := &database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}
	if cfg.Database.Migrate {
		if err := database.RunMigrations(dbCfg.URL(), repository.Migrations, repository.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		logger.Info().Msg("Migrations applied")
	}

	db, err := database.NewPool(ctx, dbCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	logger.Info().Msg("Connected to database")
	go reportPoolStats(ctx, db)

	// Redis holds auth codes and diagnostics reports
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	logger.Info().Msg("Connected to Redis")

	// Kafka publisher
	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers)
	defer publisher.Close()
	scheduler := tasks.NewDispatcher(publisher, cfg.Kafka.Enabled)
	if !cfg.Kafka.Enabled {
		logger.Warn().Msg("Kafka disabled, background tasks will be dropped")
	}

	sealer, err := crypto.NewSealer(cfg.Auth.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize settings encryption")
	}

	// Repositories
	accountRepo := repository.NewAccountRepository(db, sealer)
	serviceAccountRepo := repository.NewServiceAccountRepository(db, sealer)
	conferencingRepo := repository.NewConferencingUserRepository(db, sealer)
	calendarRepo := repository.NewCalendarRepository(db)
	eventRepo := repository.NewEventRepository(db)

	// Sync provider
	provider, err := nylas.Select(&nylas.Config{
		BaseURL:      cfg.Nylas.BaseURL,
		ClientID:     cfg.Nylas.ClientID,
		ClientSecret: cfg.Nylas.ClientSecret,
		Timeout:      cfg.Nylas.Timeout,
		RateLimit:    cfg.Nylas.RateLimit,
		Burst:        cfg.Nylas.Burst,
	}, cfg.Telemetry.Environment)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure sync provider")
	}
	if _, ok := provider.(*nylas.MockClient); ok {
		logger.Warn().Msg("Using mock sync provider (no client secret configured)")
	} else {
		logger.Info().Str("base_url", cfg.Nylas.BaseURL).Msg("Using sync provider")
	}

	// OAuth
	providers := oauth.NewRegistry()
	providers.Register(oauth.NewGoogle("google", oauthConfig(cfg.OAuth.Google, cfg.Auth.CallbackURL)))
	providers.Register(oauth.NewMicrosoft("microsoft", oauthConfig(cfg.OAuth.Microsoft, cfg.Auth.CallbackURL)))
	providers.Register(oauth.NewMicrosoftServiceAccount("microsoft-sa", oauthConfig(cfg.OAuth.Microsoft, cfg.Auth.CallbackURL)))
	providers.Register(oauth.NewMicrosoftTeams("teams", oauthConfig(cfg.OAuth.Microsoft, cfg.Auth.CallbackURL)))
	providers.Register(oauth.NewZoom("zoom", oauthConfig(cfg.OAuth.Zoom, cfg.Auth.CallbackURL)))
	logger.Info().Strs("providers", providers.List()).Msg("OAuth providers registered")

	oauthHandlers, err := auth.HandlersFromRegistry(providers, auth.DefaultBindings...)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to bind OAuth providers")
	}
	settingsHandlers := settings.DefaultRegistry(
		settings.OAuthClient{ID: cfg.OAuth.Google.ClientID, Secret: cfg.OAuth.Google.ClientSecret},
		settings.OAuthClient{ID: cfg.OAuth.Microsoft.ClientID, Secret: cfg.OAuth.Microsoft.ClientSecret},
	)

	authService := service.NewAuthService(
		auth.NewRedisCodeStore(rdb),
		oauthHandlers,
		settingsHandlers,
		provider,
		accountRepo,
		serviceAccountRepo,
		conferencingRepo,
		scheduler,
		cfg.Auth.CodeTTL,
	)
	diagnostics := tasks.NewRedisDiagnosticsStore(rdb, cfg.Sync.DiagnosticsTTL)

	// Task consumers
	var subscribers []events.Subscriber
	if cfg.Kafka.Consumers {
		taskHandlers := tasks.NewHandlers(
			accountRepo,
			calendarRepo,
			eventRepo,
			serviceAccountRepo,
			provider,
			authService,
			scheduler,
			diagnostics,
			tasks.HandlerConfig{
				LockTTL:             cfg.Sync.LockTTL,
				ActivePeriodDays:    cfg.Sync.ActivePeriodDays,
				TokenRefreshHorizon: cfg.Sync.TokenRefreshHorizon,
			},
		)
		consumers := tasks.Consumers(taskHandlers, tasks.NewRetryPolicy("default", cfg.Kafka.Retry))
		subscribers, err = tasks.Start(ctx, consumers, cfg.Kafka.GroupPrefix, cfg.Kafka.ConsumerGroups,
			func(groupID string) events.Subscriber {
				return events.NewKafkaSubscriber(cfg.Kafka.Brokers, groupID, publisher)
			})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to start task consumers")
		}
	}

	h := handler.New(authService, accountRepo, scheduler, diagnostics)

	webhookSecret := cfg.Nylas.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = cfg.Nylas.ClientSecret
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "uou Calendar Service",
		ErrorHandler: response.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(middleware.SecurityHeaders())
	app.Use(metrics.Middleware(metrics.Config{SkipPaths: []string{"/health", "/metrics", "/docs"}}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "service": serviceName})
	})
	app.Get("/metrics", metrics.Handler())
	if cfg.Server.Docs {
		app.Use(swagger.Handler(swagger.Config{
			SpecFS:   api.Spec,
			SpecFile: api.SpecFile,
			Title:    "uou Calendar Service",
		}))
	}

	h.Routes(app,
		middleware.Auth(cfg.Auth.JWTSecret),
		middleware.RateLimiter(middleware.RateLimitConfig{Max: 100, Duration: time.Second}),
		middleware.WebhookSignature(webhookSecret, "X-Nylas-Signature"),
	)

	go func() {
		if err := app.Listen(cfg.Server.Address()); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	logger.Info().Str("address", cfg.Server.Address()).Msg("Calendar Service started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down Calendar Service")
	cancel()

	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	for _, s := range subscribers {
		if err := s.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing task consumer")
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error flushing traces")
	}
}

func oauthConfig(c config.OAuthClientConfig, callbackURL string) oauth.Config {
	return oauth.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  callbackURL,
		Scopes:       c.Scopes,
		Tenant:       c.Tenant,
		HTTPClient:   telemetry.NewTracedHTTPClient(30 * time.Second),
	}
}

func reportPoolStats(ctx context.Context, db *pgxpool.Pool) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := db.Stat()
			metrics.RecordDBPoolStats(int(stat.AcquiredConns()), int(stat.MaxConns()))
		}
	}
}
