package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/api"
	"github.com/rfp-agent/backend/internal/api/handlers"
	"github.com/rfp-agent/backend/internal/cache/redis"
	"github.com/rfp-agent/backend/internal/events"
	"github.com/rfp-agent/backend/internal/extraction"
	"github.com/rfp-agent/backend/internal/llm"
	"github.com/rfp-agent/backend/internal/mailbox"
	"github.com/rfp-agent/backend/internal/metrics"
	"github.com/rfp-agent/backend/internal/pipeline"
	"github.com/rfp-agent/backend/internal/recommendation"
	"github.com/rfp-agent/backend/internal/rfp"
	"github.com/rfp-agent/backend/internal/scoring"
	"github.com/rfp-agent/backend/internal/storage"
	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/internal/storage/postgres"
	"github.com/rfp-agent/backend/internal/storage/sqlite"
	"github.com/rfp-agent/backend/pkg/config"
	appLogger "github.com/rfp-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting RFP Agent API Server", zap.String("storage", cfg.Storage.Driver))
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	if err := store.SeedVendors(ctx, vendorSeeds(cfg.Vendors)); err != nil {
		appLogger.Fatal("Failed to seed vendors", zap.Error(err))
	}

	readiness := map[string]handlers.Pinger{"store": store}

	var cache recommendation.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		cache = redisClient
		readiness["redis"] = redisClient
	}

	llmClient := llm.NewClient(cfg.LLM)
	hub := events.NewHub(0)

	driver := pipeline.NewDriver(
		mailbox.NewClient(cfg.Mailbox),
		store,
		extraction.NewEngine(llmClient),
		scoring.NewEngine(llmClient),
		hub,
		pipeline.Options{
			ProcurementEmail: cfg.Mailbox.ProcurementEmail,
			Interval:         cfg.Poller.Interval(),
			RunOnStart:       cfg.Poller.RunOnStart,
		},
	)
	go driver.Start(ctx)

	app, release := api.NewApp(cfg.Server, cfg.RateLimit, api.Deps{
		RFPs:        rfp.NewService(store, llmClient, mailbox.NewSMTPSender(cfg.Mailbox), cfg.Mailbox.ProcurementEmail, hub),
		Runner:      driver,
		Proposals:   store,
		Recommender: recommendation.NewService(store, llmClient, cache),
		Events:      hub,
		Readiness:   readiness,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	cancel()
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	release()
	appLogger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		version, dirty, err := postgres.RunMigrations(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		appLogger.Info("Postgres schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
		client, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		client, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	}
}

func vendorSeeds(seeds []config.VendorSeed) []models.Vendor {
	vendors := make([]models.Vendor, 0, len(seeds))
	for _, s := range seeds {
		vendors = append(vendors, models.Vendor{
			Name:         s.Name,
			ContactName:  s.ContactName,
			ContactEmail: s.ContactEmail,
		})
	}
	return vendors
}
