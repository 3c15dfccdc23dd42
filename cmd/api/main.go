package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zatekoja/telecare/internal/adapters/cache"
	"github.com/zatekoja/telecare/internal/adapters/database"
	"github.com/zatekoja/telecare/internal/adapters/events"
	"github.com/zatekoja/telecare/internal/adapters/memory"
	"github.com/zatekoja/telecare/internal/adapters/sessionstore"
	"github.com/zatekoja/telecare/internal/api/handlers"
	"github.com/zatekoja/telecare/internal/api/routes"
	"github.com/zatekoja/telecare/internal/application/services"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	"github.com/zatekoja/telecare/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/telecare/internal/infrastructure/clients/redis"
	"github.com/zatekoja/telecare/internal/infrastructure/notifications"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	"github.com/zatekoja/telecare/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Log.Env, cfg.Log.Level)
	logger := observability.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Warn().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			logger.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	// Redis is required for the shared session store; in memory mode it only backs the cache and bus
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		if cfg.Calls.StoreBackend == "redis" {
			logger.Fatal().Err(err).Msg("failed to initialize Redis client")
		}
		logger.Warn().Err(err).Msg("Redis unavailable; running without cache and with a process-local event bus")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	clk := clock.New()

	var store providers.SessionStore
	switch cfg.Calls.StoreBackend {
	case "memory":
		store = memory.NewInMemoryStore(clk)
		logger.Warn().Msg("using in-memory session store; peers must share this process")
	default:
		store = sessionstore.NewRemoteStore(redisClient, cfg.Calls.SessionTTL, clk)
	}

	var eventBus providers.EventBus
	var cacheProvider providers.CacheProvider
	if redisClient != nil {
		eventBus = events.NewRedisEventBus(redisClient)
		cacheProvider = cache.NewRedisAdapter(redisClient, "telecare:")
	} else {
		eventBus = memory.NewEventBus()
	}

	baseCallRepo := database.NewScheduledCallAdapter(pgClient)
	baseCallRepo.SetMetrics(metrics)
	var callRepo repositories.ScheduledCallRepository = baseCallRepo
	if cacheProvider != nil {
		cached := database.NewCachedScheduledCallAdapter(baseCallRepo, cacheProvider, cfg.Calls.ScheduledCallCacheTTL)
		cached.SetMetrics(metrics)
		callRepo = cached
	}
	appointmentRepo := database.NewAppointmentAdapter(pgClient)

	var sender providers.MessageSender
	if cfg.WhatsApp.Enabled() {
		whatsapp, err := notifications.NewWhatsAppCloudSender(cfg.WhatsApp, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize WhatsApp sender")
		}
		sender = whatsapp
	} else {
		logger.Info().Msg("WhatsApp not configured; reminders go to the log")
		sender = notifications.NewLogSender()
	}
	notificationService, err := services.NewNotificationService(pgClient.SQLX(), sender, cfg.WhatsApp)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize notification service")
	}

	scheduler := services.NewCallScheduler(callRepo, eventBus, notificationService, clk, metrics, services.CallSchedulerConfig{
		PublicOrigin: cfg.Calls.PublicOrigin,
		ReminderLead: cfg.Calls.ReminderLead,
	})
	defer scheduler.Close()

	restored, err := scheduler.Restore(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to restore reminder timers")
	} else {
		logger.Info().Int("armed", restored).Msg("restored reminder timers")
	}

	cleanup := services.NewCallCleanupService(store, scheduler, clk, cfg.Calls.MaxActive)
	go cleanup.Run(ctx, cfg.Calls.SweepInterval)

	var invalidation *services.CacheInvalidationService
	if cacheProvider != nil {
		invalidation = services.NewCacheInvalidationService(cacheProvider, eventBus)
		if err := invalidation.Start(); err != nil {
			logger.Warn().Err(err).Msg("failed to start cache invalidation service")
			invalidation = nil
		}
		warming := services.NewCacheWarmingService(baseCallRepo, cacheProvider, clk, cfg.Calls.CacheWarmHorizon, cfg.Calls.ScheduledCallCacheTTL)
		warming.StartPeriodicWarming(ctx, cfg.Calls.ScheduledCallCacheTTL)
	}

	appointmentService := services.NewAppointmentService(appointmentRepo, cleanup)
	launcher := services.NewCallLauncher(appointmentRepo, store, scheduler, cfg.Calls.PublicOrigin)
	inbox := services.NewCallInbox(scheduler)

	router := routes.NewRouter(
		handlers.NewCallHandler(scheduler, inbox),
		handlers.NewAppointmentHandler(launcher, appointmentService),
		handlers.NewSSEHandler(scheduler, inbox),
		handlers.NewSignalingHandler(launcher, store, appointmentService, cfg.Server.AllowedOrigins),
		cfg.Server.AllowedOrigins,
		metrics,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router.SetupRoutes(),
		ReadTimeout: 15 * time.Second,
		// streams and websockets manage their own deadlines
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Str("store", cfg.Calls.StoreBackend).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("server shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error during server shutdown")
	}

	if invalidation != nil {
		invalidation.Stop()
	}
	if err := eventBus.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing event bus")
	}

	logger.Info().Msg("server stopped")
}
