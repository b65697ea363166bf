package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sqlgate/sqlgate/pkg/audit"
	"github.com/sqlgate/sqlgate/pkg/cache"
	"github.com/sqlgate/sqlgate/pkg/config"
	"github.com/sqlgate/sqlgate/pkg/database"
	"github.com/sqlgate/sqlgate/pkg/executor"
	"github.com/sqlgate/sqlgate/pkg/handlers"
	"github.com/sqlgate/sqlgate/pkg/history"
	"github.com/sqlgate/sqlgate/pkg/introspect"
	"github.com/sqlgate/sqlgate/pkg/llm"
	"github.com/sqlgate/sqlgate/pkg/logging"
	"github.com/sqlgate/sqlgate/pkg/policy"
	"github.com/sqlgate/sqlgate/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Migrations run over database/sql; the rest of the app uses pgxpool.
	sqlDB, err := database.OpenForMigrations(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	if err := database.RunMigrations(sqlDB, "migrations", logger); err != nil {
		sqlDB.Close()
		return err
	}
	sqlDB.Close()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	patterns := policy.DefaultPatternTable()
	if cfg.Policy.PatternFile != "" {
		patterns, err = policy.LoadPatternTable(cfg.Policy.PatternFile)
		if err != nil {
			return err
		}
		logger.Info("Loaded confidentiality pattern table",
			zap.String("path", cfg.Policy.PatternFile),
			zap.Int("version", patterns.Version))
	}

	generator, err := llm.NewClient(cfg.LLM.Provider, &llm.Config{
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		return err
	}

	cacheMgr := cache.NewManager(logger)
	if cfg.Cache.SnapshotPath != "" {
		if err := cacheMgr.Load(cfg.Cache.SnapshotPath); err != nil {
			logger.Warn("Failed to load cache snapshot", zap.Error(err))
		}
	}

	queryService := services.NewQueryService(services.Deps{
		Introspector: introspect.NewIntrospector(db, logger),
		Patterns:     patterns,
		Generator:    generator,
		Temperature:  cfg.LLM.Temperature,
		Cache:        cacheMgr,
		Executor:     executor.NewExecutor(db, logger),
		Recorder:     history.NewRecorder(db),
		Auditor:      audit.NewSecurityAuditor(logger),
		Logger:       logger,
	})

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(queryService, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:         cfg.BindAddr + ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting sqlgate",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.String("llm_model", generator.GetModel()))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Forced shutdown", zap.Error(err))
	}

	if cfg.Cache.SnapshotPath != "" {
		if err := cacheMgr.Save(cfg.Cache.SnapshotPath); err != nil {
			logger.Warn("Failed to save cache snapshot", zap.Error(err))
		}
	}

	return nil
}
