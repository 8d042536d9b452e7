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

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/audit-trail/internal/adapter/metrics"
	"github.com/V4T54L/audit-trail/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/audit-trail/internal/adapter/repository/redis"
	"github.com/V4T54L/audit-trail/internal/pkg/config"
	"github.com/V4T54L/audit-trail/internal/pkg/logger"
	"github.com/V4T54L/audit-trail/internal/usecase"
)

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
	log.Info("starting audit consumer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewAuditMetrics(prometheus.DefaultRegisterer)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	// Connect to Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to configure redis client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Error("failed to prepare audit schema", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	// Create a unique consumer name for this instance
	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "consumer-default"
	}

	streamRepo := redisrepo.NewStreamRepository(redisClient, log, redisrepo.Config{
		StreamKey:    cfg.RedisStream,
		DLQStreamKey: cfg.RedisDLQStream,
		Group:        cfg.ConsumerGroup,
		ClaimMinIdle: cfg.ConsumerClaimIdle,
	}, nil, m)
	batchRepo := postgres.NewAuditBatchRepository(db, log)

	processAudit := usecase.NewProcessAuditUseCase(streamRepo, batchRepo, log,
		cfg.ConsumerGroup, consumerName, cfg.ConsumerRetryCount, cfg.ConsumerRetryBackoff).
		WithBatchSize(cfg.ConsumerBatchSize).
		WithMetrics(m)

	processAudit.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}

	log.Info("audit consumer shut down gracefully")
}
