// Package main is the entry point of the telemetry worker.
//
// The worker owns the in-process engines and everything around them:
//   - the REST surface for events, sensor readings and reads
//   - background jobs: entropy decay, dashboard refresh, payload
//     publication and history sweeps
//   - optional Postgres sinks and Redis cache / event fan-out
//
// Engine state lives in this process only. Running several workers gives
// several independent pipelines that share sinks and events, not state.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/application/command"
	"github.com/alem-hub/physics-telemetry/internal/application/query"
	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/internal/infrastructure/messaging"
	"github.com/alem-hub/physics-telemetry/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/physics-telemetry/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/physics-telemetry/internal/infrastructure/scheduler"
	"github.com/alem-hub/physics-telemetry/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/alem-hub/physics-telemetry/internal/interface/http"
	"github.com/alem-hub/physics-telemetry/internal/interface/http/handlers"
	"github.com/alem-hub/physics-telemetry/pkg/anonymize"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
	"github.com/alem-hub/physics-telemetry/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// eventBus is what the worker needs from either bus implementation.
type eventBus interface {
	shared.EventPublisher
	SubscribeAll(handler shared.EventHandler) error
	Close() error
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	plog := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
		Format:    cfg.Observability.LogFormat,
	}).With(logger.String("service", cfg.App.Name))

	log.Info("starting telemetry worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	anon, err := anonymize.New([]byte(cfg.Pipeline.AnonymizeKey))
	if err != nil {
		return fmt.Errorf("failed to init anonymizer: %w", err)
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.SetTimeout(cfg.Database.QueryTimeout)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. POSTGRES SINKS (optional outside production)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		payloadRepo *postgres.PayloadRepository
		anomalyRepo *postgres.AnomalyRepository
	)
	if cfg.Database.URL != "" {
		log.Info("connecting to database...")
		dbConn, err := postgres.NewConnection(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection...")
			dbConn.Close()
		}()

		if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")

		payloadRepo = postgres.NewPayloadRepository(dbConn)
		anomalyRepo = postgres.NewAnomalyRepository(dbConn)
		health.AddCheck("postgres", handlers.NewPingCheck(dbConn))
	} else {
		log.Warn("DATABASE_URL not set, payload and anomaly sinks disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS CACHE (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache     *redis.Cache
		dashCache *redis.DashboardCache
	)
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		cache, err = redis.NewCache(ctx, cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			cache = nil
		} else {
			defer cache.Close()
			dashCache = redis.NewDashboardCache(cache, log)
			health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
			health.AddOptionalCheck("dashboard_cache_breaker", handlers.NewBreakerCheck(dashCache.Breaker()))
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log

	var bus eventBus
	if cache != nil {
		bus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         cache.Client(),
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
	} else {
		bus = messaging.NewInMemoryEventBus(busConfig)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	if err := bus.SubscribeAll(messaging.LogEvents(log)); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. PIPELINE AND CQRS HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	pipeline, err := application.New(anon,
		application.WithPublisher(bus),
		application.WithFeatures(cfg.Features),
		application.WithLogger(plog),
		application.WithSuccessVector(converter.Point{X: cfg.Pipeline.SuccessX, Y: cfg.Pipeline.SuccessY}),
	)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	var (
		anomalySink    command.AnomalySink
		anomalyHandler *query.GetAnomaliesHandler
	)
	if anomalyRepo != nil {
		anomalySink = anomalyRepo
		anomalyHandler = query.NewGetAnomaliesHandler(anomalyRepo)
	}

	var appCache application.DashboardCache
	if dashCache != nil {
		appCache = dashCache
	}

	var publishHandler *command.PublishPayloadHandler
	if payloadRepo != nil {
		publishHandler = command.NewPublishPayloadHandler(pipeline, payloadRepo, command.PublishPayloadHandlerConfig{
			MaxRetries:       cfg.Sink.MaxRetries,
			RetryBaseDelay:   cfg.Sink.RetryBaseDelay,
			RetryMaxDelay:    cfg.Sink.RetryMaxDelay,
			BreakerThreshold: cfg.Sink.CircuitBreakerThreshold,
			BreakerTimeout:   cfg.Sink.CircuitBreakerTimeout,
		})
		health.AddOptionalCheck("payload_sink_breaker", handlers.NewBreakerCheck(publishHandler.Breaker()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = buildScheduler(cfg, log, pipeline, appCache, publishHandler, payloadRepo)
		if err != nil {
			return fmt.Errorf("failed to build scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpserver.Dependencies{
		RecordEventHandler:     command.NewRecordEventHandler(pipeline),
		RecordReadingHandler:   command.NewRecordReadingHandler(pipeline, anomalySink),
		SetGoalHandler:         command.NewSetGoalHandler(pipeline),
		PublishPayloadHandler:  publishHandler,
		GetDashboardHandler:    query.NewGetDashboardHandler(pipeline, appCache),
		GetPayloadHandler:      query.NewGetPayloadHandler(pipeline),
		GetCorrelationsHandler: query.NewGetCorrelationsHandler(pipeline),
		GetAnomaliesHandler:    anomalyHandler,
		Logger:                 plog,
		HealthChecker:          health,
	}
	if sched != nil {
		deps.Jobs = sched
	}
	server := httpserver.NewServer(httpserver.ConfigFrom(cfg.HTTP, cfg.App.Version), deps)
	serverErr := server.StartAsync()

	log.Info("telemetry worker is running", "http_port", cfg.HTTP.Port)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", "error", err)
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	}
	if sched != nil {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Error("scheduler shutdown failed", "error", err)
		}
	}

	// last chance to ship what the process learned
	if publishHandler != nil {
		if _, err := publishHandler.Handle(shutdownCtx, command.PublishPayloadCommand{}); err != nil && !shared.IsInsufficientData(err) {
			log.Warn("final payload publication failed", "error", err)
		}
	}

	log.Info("shutdown completed successfully")
	return nil
}

// buildScheduler registers the background jobs. Jobs whose collaborator is
// missing are not registered.
func buildScheduler(
	cfg *config.Config,
	log *slog.Logger,
	pipeline *application.Pipeline,
	cache application.DashboardCache,
	publisher *command.PublishPayloadHandler,
	pruner *postgres.PayloadRepository,
) (*scheduler.Scheduler, error) {
	tz, err := timeutil.LoadZone(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	s := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:            log,
		Timezone:          tz,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
	})
	s.OnJobError(func(name string, err error) {
		log.Warn("job failed", "job", name, "error", err)
	})

	if err := s.Register(jobs.NewEntropyDecayJob(pipeline, log),
		scheduler.NewIntervalSchedule(cfg.Scheduler.EntropyDecayInterval)); err != nil {
		return nil, err
	}

	if cache != nil {
		if err := s.Register(jobs.NewRefreshDashboardJob(pipeline, cache, cfg.Pipeline.DashboardTTL, log),
			scheduler.NewIntervalSchedule(cfg.Scheduler.DashboardRefreshInterval)); err != nil {
			return nil, err
		}
	}

	if publisher != nil {
		if err := s.Register(jobs.NewPublishPayloadJob(publisher, log),
			scheduler.NewIntervalSchedule(cfg.Scheduler.PayloadPublishInterval)); err != nil {
			return nil, err
		}
	}

	var sweepSchedule scheduler.Schedule = scheduler.NewIntervalSchedule(cfg.Scheduler.SweepInterval)
	if cfg.Scheduler.SweepCron != "" {
		cron, err := scheduler.ParseCronExpression(cfg.Scheduler.SweepCron)
		if err != nil {
			return nil, fmt.Errorf("SCHEDULER_SWEEP_CRON: %w", err)
		}
		sweepSchedule = cron
	}

	var snapshots jobs.SnapshotPruner
	if pruner != nil {
		snapshots = pruner
	}
	if err := s.Register(jobs.NewSweepHistoryJob(pipeline, snapshots, jobs.DefaultSweepHistoryConfig(), log), sweepSchedule); err != nil {
		return nil, err
	}

	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures slog for the infrastructure layer.
func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Observability.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.App.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}
