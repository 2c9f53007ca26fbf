package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"engagement-tracker-go/internal/buttondown"
	"engagement-tracker-go/internal/config"
	"engagement-tracker-go/internal/database"
	"engagement-tracker-go/internal/handler"
	"engagement-tracker-go/internal/metrics"
	"engagement-tracker-go/internal/repository"
	"engagement-tracker-go/internal/router"
	"engagement-tracker-go/internal/scheduler"
	"engagement-tracker-go/internal/syncer"
	"engagement-tracker-go/internal/webhook"
)

// ConfigureLogging sets the JSON formatter and the configured level
func ConfigureLogging(cfg config.LogConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// NewButtondownClient returns nil without an error when no API key is set,
// leaving the webhook path usable on its own.
func NewButtondownClient(cfg config.ButtondownConfig) (*buttondown.Client, error) {
	client, err := buttondown.NewClient(cfg)
	if errors.Is(err, buttondown.ErrNotConfigured) {
		logrus.Warn("Buttondown API key not configured, polling sync is disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create buttondown client: %w", err)
	}
	return client, nil
}

// Run initializes and starts the application
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ConfigureLogging(cfg.Log)

	logrus.Info("Starting Buttondown Engagement Tracker")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := repository.New(db)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	client, err := NewButtondownClient(cfg.Buttondown)
	if err != nil {
		return err
	}

	s := syncer.New(repo, client, cfg.Buttondown.InitialSyncLookbackDays, m)
	ingestor := webhook.NewIngestor(repo, cfg.Buttondown.WebhookSecret, m)
	sched := scheduler.NewScheduler(&cfg.Scheduler, s)

	h := handler.NewHandlers(repo, ingestor, s, sched, prometheus.DefaultGatherer)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
