package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/config"
	"admissions-wizard/internal/common/database"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/common/observability"
	"admissions-wizard/internal/service"
	"admissions-wizard/internal/wizard/phase"
)

func main() {
	zapLogger := logger.New("info", "console")
	defer zapLogger.Sync()

	var cfg *config.Config
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	zapLogger = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.NewZapAdapter(zapLogger)

	obs := observability.New("wizard-service")
	defer obs.Shutdown()

	backendClient := backend.NewClient(cfg.Backend.BaseURL, config.GetDuration(cfg.Backend.Timeout), log)

	// Redis and Postgres are optional. Without Redis the wizard state lives in
	// process memory; without Postgres phase events only reach the backend.
	var redisClient *redis.Client
	if cfg.Database.Redis.Address != "" {
		rc, err := database.NewRedis(cfg.Database.Redis)
		if err == nil {
			err = retryWithBackoff(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return rc.Ping(ctx)
			}, 3, 2*time.Second, zapLogger, "redis connection")
		}
		if err != nil {
			zapLogger.Warn("Redis unavailable, falling back to in-memory state", zap.Error(err))
		} else {
			redisClient = rc.Client
			defer rc.Close()
		}
	}

	var phaseDB *sql.DB
	if cfg.Database.Postgres.Host != "" {
		pc, err := database.NewPostgres(cfg.Database.Postgres)
		if err == nil {
			err = retryWithBackoff(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return pc.Ping(ctx)
			}, 3, 2*time.Second, zapLogger, "postgres connection")
		}
		if err != nil {
			zapLogger.Warn("Postgres unavailable, phase events will not be persisted locally", zap.Error(err))
		} else {
			phaseDB = pc.DB
			defer pc.Close()
		}
	}

	phases := phase.NewRecorder(backendClient, phaseDB, log)
	srv := service.NewServer(cfg, log, backendClient, redisClient, phases, obs)

	// Health, readiness, metrics and pprof on the side port.
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())

		zapLogger.Info("Starting metrics server", zap.String("address", cfg.Server.MetricsAddress))
		if err := http.ListenAndServe(cfg.Server.MetricsAddress, nil); err != nil {
			zapLogger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		zapLogger.Info("Starting wizard service",
			zap.String("address", cfg.Server.Address),
			zap.String("backend", cfg.Backend.BaseURL))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLogger.Info("Shutting down wizard service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
	zapLogger.Info("Wizard service stopped")
}

// retryWithBackoff retries an operation with exponential backoff.
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = operation(); err == nil {
			return nil
		}

		if attempt < maxRetries {
			log.Warn("Operation failed, retrying",
				zap.String("operation", operationName),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			time.Sleep(delay)
			delay *= 2
		}
	}

	return err
}
