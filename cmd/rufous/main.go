package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"rufous/internal/amqp"
	"rufous/internal/config"
	"rufous/internal/fetchcache"
	apphttp "rufous/internal/http"
	applog "rufous/internal/log"
	"rufous/internal/metrics"
	"rufous/internal/services"
	"rufous/internal/source"
	"rufous/internal/source/flinks"
	"rufous/internal/source/memory"
	"rufous/internal/storage"
	"rufous/internal/taxonomy"
	"rufous/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: "rufous"})
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Taxonomy: built-in table unless a file is configured.
	tax := taxonomy.Default()
	if cfg.TaxonomyPath != "" {
		loaded, err := taxonomy.LoadFile(cfg.TaxonomyPath)
		if err != nil {
			logger.Error("Failed to load taxonomy file", "error", err, "path", cfg.TaxonomyPath)
			os.Exit(1)
		}
		tax = loaded
		logger.Info("Loaded taxonomy file", "path", cfg.TaxonomyPath, "categories", tax.Len())
	}

	// Transaction source backend.
	var src source.TransactionSource
	switch cfg.SourceBackend {
	case "flinks":
		src = flinks.New(flinks.Config{
			BaseURL:            cfg.FlinksAPIURL,
			CustomerID:         cfg.FlinksCustomerID,
			BearerToken:        cfg.FlinksBearerToken,
			RatePerMinute:      cfg.FlinksRatePerMin,
			MaxTransactionDays: cfg.MaxTransactionDays,
		})
		logger.Info("Initialized Flinks backend", "api_url", cfg.FlinksAPIURL)
	default:
		src = memory.NewSeeded()
		logger.Info("Initialized memory backend with demo data")
	}

	// Durable tier and override store: SQLite when persistence is on,
	// in-memory otherwise.
	var (
		store     fetchcache.Store
		overrides services.OverrideStore = services.NewMemoryOverrides()
		repo      *storage.SQLiteRepository
	)
	if cfg.UsePersistentStorage {
		var err error
		repo, err = storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		store = repo
		overrides = repo
		logger.Info("Persistent storage enabled", "path", cfg.SQLiteDBPath)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	fetch := fetchcache.New(src, store, fetchcache.Config{
		SessionTimeout:       cfg.SessionTimeout,
		UsePersistentStorage: cfg.UsePersistentStorage,
	}, m)

	svcCfg := services.DefaultConfig()
	svcCfg.SignificantChange = cfg.SignificantChangeThreshold
	svcCfg.HistoryPeriods = cfg.HistoryPeriods
	svcCfg.MaxPeriodDays = cfg.MaxTransactionDays
	insights := services.NewInsightService(fetch, tax, overrides, svcCfg, m)

	// Bulk recategorization: through the queue when AMQP is configured,
	// inline against SQLite otherwise.
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		insights.WithPublisher(amqpClient)
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else if repo != nil {
		insights.WithInlineRecategorizer(worker.NewRecategorizeWorker(repo, tax))
		logger.Info("AMQP not configured, recategorization runs inline")
	}

	srv := apphttp.NewServer(":"+cfg.Port, insights, registry, cfg.RateLimitPerMinute)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting rufous server",
		"port", cfg.Port,
		"source_backend", cfg.SourceBackend,
		"session_timeout", cfg.SessionTimeout,
		"persistent_storage", cfg.UsePersistentStorage)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
