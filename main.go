package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/loci-ai/loci-engine/pkg/config"
	"github.com/loci-ai/loci-engine/pkg/database"
	"github.com/loci-ai/loci-engine/pkg/llm"
	"github.com/loci-ai/loci-engine/pkg/logging"
	"github.com/loci-ai/loci-engine/pkg/repositories"
	"github.com/loci-ai/loci-engine/pkg/scheduler"
	"github.com/loci-ai/loci-engine/pkg/services"
	"github.com/loci-ai/loci-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting loci-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("ai_model", cfg.AI.Model))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	client, err := llm.NewGenerationClient(cfg.AI.Provider, &llm.Config{
		Endpoint: cfg.AI.Endpoint,
		Model:    cfg.AI.Model,
		APIKey:   cfg.AI.APIKey,
		Timeout:  cfg.AI.RequestTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create generation client", zap.Error(err))
	}

	// The daemon drives the generation pipeline; the review and concept
	// services are constructed by embedders on the same repositories.
	conceptRepo := repositories.NewConceptRepository(db)
	jobRepo := repositories.NewGenerationJobRepository(db)
	tx := services.NewTxRunner(db)
	engine := scheduler.NewEngine()

	runner := workqueue.New(logger, workqueue.WithRetryConfig(workqueue.RetryConfig{
		MaxRetries:     cfg.Jobs.MaxRetries,
		InitialBackoff: cfg.Jobs.InitialBackoff,
		MaxBackoff:     cfg.Jobs.MaxBackoff,
		BackoffFactor:  2.0,
	}))

	generationSvc := services.NewGenerationService(tx, jobRepo, conceptRepo, client, runner, engine, cfg.AI, logger)

	runner.Start()
	if err := generationSvc.RecoverUnfinished(ctx); err != nil {
		logger.Error("failed to recover unfinished jobs", zap.Error(err))
	}

	logger.Info("loci-engine started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("work queue did not drain before timeout", zap.Error(err))
	}
}

func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close() //nolint:errcheck

	return database.RunMigrations(sqlDB, "migrations", logger)
}
