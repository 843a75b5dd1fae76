package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/api"
	"github.com/therapist-match-engine/internal/config"
	"github.com/therapist-match-engine/internal/database"
	"github.com/therapist-match-engine/internal/domain"
	"github.com/therapist-match-engine/internal/feedback"
	"github.com/therapist-match-engine/internal/repository"
	"github.com/therapist-match-engine/internal/service"
	"github.com/therapist-match-engine/internal/weights"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	dbCfg := configManager.GetDatabaseConfig()
	db, err := database.NewConnection(ctx, database.Config{
		Host:        dbCfg.Host,
		Port:        dbCfg.Port,
		Database:    dbCfg.Database,
		Username:    dbCfg.Username,
		Password:    dbCfg.Password,
		SSLMode:     dbCfg.SSLMode,
		MaxConns:    int32(dbCfg.MaxOpenConns),
		MinConns:    int32(dbCfg.MaxIdleConns),
		MaxConnLife: dbCfg.ConnMaxLifetime,
		MaxConnIdle: dbCfg.ConnMaxLifetime / 2,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Migrations
	migrator, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), dbCfg.MigrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := migrator.Up(); err != nil {
		logger.WithError(err).Fatal("Failed to apply migrations")
	}
	migrator.Close()

	// Repositories
	weightRepo := repository.NewWeightSetRepository(db.Pool, logger)
	matchRepo := repository.NewMatchResultRepository(db.Pool, logger)
	compatRepo := repository.NewCompatibilityRepository(db.Pool, logger)
	perfRepo := repository.NewPerformanceRepository(db.Pool, logger)

	// Feedback store, SQLite for single-node deployments, Postgres otherwise
	feedbackStore, err := newFeedbackStore(cfg.Feedback, configManager.GetDatabaseURL())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open feedback store")
	}
	defer feedbackStore.Close()

	// Services
	registry := weights.NewRegistry(weightRepo, logger)
	engine := service.NewScoreEngine(cfg.Scoring, logger)
	matcher := service.NewMatcher(registry, engine, matchRepo, cfg.Matching, logger)
	analyzer, err := service.NewCompatibilityAnalyzer(cfg.Analyzer, compatRepo, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create compatibility analyzer")
	}
	outcomes := service.NewOutcomeTracker(matchRepo, cfg.Matching, logger)
	collector := service.NewFeedbackCollector(matchRepo, feedbackStore, logger)
	aggregator := service.NewAggregator(matchRepo, perfRepo, logger)

	server := api.NewServer(configManager, db.Pool, api.Services{
		Registry:   registry,
		Matcher:    matcher,
		Analyzer:   analyzer,
		Outcomes:   outcomes,
		Collector:  collector,
		Aggregator: aggregator,
		Feedback:   feedbackStore,
	}, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting therapist match engine")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	}

	return logger
}

func newFeedbackStore(cfg domain.FeedbackConfig, databaseURL string) (feedback.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return feedback.NewPostgresStoreFromURL(databaseURL)
	default:
		return feedback.NewSQLiteStore(cfg.SQLitePath)
	}
}
