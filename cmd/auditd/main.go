package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/audit-trail/internal/adapter/api"
	"github.com/V4T54L/audit-trail/internal/adapter/metrics"
	"github.com/V4T54L/audit-trail/internal/adapter/pii"
	"github.com/V4T54L/audit-trail/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/audit-trail/internal/adapter/repository/redis"
	"github.com/V4T54L/audit-trail/internal/adapter/repository/spool"
	"github.com/V4T54L/audit-trail/internal/adapter/sink/database"
	"github.com/V4T54L/audit-trail/internal/adapter/sink/file"
	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/config"
	"github.com/V4T54L/audit-trail/internal/pkg/logger"
	"github.com/V4T54L/audit-trail/internal/usecase"
)

const healthCheckInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, logCloser := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	})
	defer logCloser.Close()
	slog.SetDefault(log)

	m := metrics.NewAuditMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	// --- Sinks ---
	var sinks []domain.Sink

	if cfg.FileEnabled {
		rotation, err := file.ParseRotation(cfg.FileRotation)
		if err != nil {
			log.Error("invalid file rotation", "error", err)
			os.Exit(1)
		}
		fileSink, err := file.New(file.Options{
			Dir:       cfg.FileDir,
			Name:      cfg.FileName,
			MaxSizeMB: cfg.FileMaxSizeMB,
			Rotation:  rotation,
		}, log)
		if err != nil {
			log.Error("failed to initialize file sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, fileSink)
	}

	var db *sql.DB
	if cfg.DBEnabled || cfg.AuthEnabled {
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("failed to open postgres connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Error("failed to prepare audit schema", "error", err)
			os.Exit(1)
		}
	}

	if cfg.DBEnabled {
		sinks = append(sinks, database.New(postgres.NewUnitOfWorkFactory(db), cfg.DBWriteTimeout, log))
	}

	if cfg.RedisEnabled {
		redisClient, err := redisrepo.NewClient(cfg.RedisAddr)
		if err != nil {
			log.Error("failed to configure redis client", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("could not connect to redis, audit records will be spooled", "error", err)
		}

		spoolRepo, err := spool.New(cfg.SpoolDir, cfg.SpoolSegmentSize, cfg.SpoolMaxDiskSize, log)
		if err != nil {
			log.Error("failed to initialize spool", "error", err)
			os.Exit(1)
		}
		defer spoolRepo.Close()

		streamRepo := redisrepo.NewStreamRepository(redisClient, log, redisrepo.Config{
			StreamKey:    cfg.RedisStream,
			DLQStreamKey: cfg.RedisDLQStream,
			WriteTimeout: cfg.RedisWriteTimeout,
		}, spoolRepo, m)

		// Replays spooled records once Redis is reachable again.
		go streamRepo.StartHealthCheck(ctx, healthCheckInterval)

		sinks = append(sinks, streamRepo)
	}

	if len(sinks) == 0 {
		log.Warn("no audit sinks enabled, events will be discarded")
	}

	// --- Use Cases ---
	redactor := pii.NewRedactor(cfg.RedactFieldList(), log)
	auditLogger := usecase.NewAuditLogger(sinks, redactor, m, log)
	defer func() {
		if err := auditLogger.Close(); err != nil {
			log.Error("failed to close audit sinks", "error", err)
		}
	}()

	var identityRepo domain.IdentityRepository
	if cfg.AuthEnabled {
		identityRepo = postgres.NewIdentityRepository(db, log, cfg.APIKeyCacheTTL, m)
	}

	// --- Audit Server ---
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      api.NewRouter(cfg, log, auditLogger, identityRepo),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		log.Info("starting audit server", "addr", server.Addr, "sinks", len(sinks))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("audit server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("audit server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}

	log.Info("servers shut down gracefully")
}
