// Kestrel - Fraud alert investigation that explains itself.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/screening"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/triage"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
	}
	applyEnv(cfg)

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Tracing
	stopTracing, err := tracing.Init(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize History Provider backed by the repository and cache
	provider := history.NewProvider(repo, cacheImpl, logger)

	// Initialize Check Registry with the full battery
	registry, err := checks.NewDefaultRegistry(provider, cfg.Checks, logger)
	if err != nil {
		slog.Error("failed to initialize check registry", "error", err)
		os.Exit(1)
	}

	// Initialize Screening Engine (operator CEL rules)
	var screeningEngine *screening.Engine
	if cfg.Screening.Enabled {
		screeningEngine, err = screening.NewEngine()
		if err != nil {
			slog.Error("failed to initialize screening engine", "error", err)
			os.Exit(1)
		}
		if err := loadScreeningRules(ctx, repo, screeningEngine, cfg.Screening.Rules); err != nil {
			slog.Error("failed to load screening rules", "error", err)
			os.Exit(1)
		}
		if err := registry.Register(screening.NewCheck(screeningEngine, logger)); err != nil {
			slog.Error("failed to register screening check", "error", err)
			os.Exit(1)
		}
		slog.Info("screening engine initialized", "rules_count", screeningEngine.Count())
	}
	slog.Info("check registry initialized", "checks_count", len(registry.Names()))

	// Initialize Triage Processor
	processor := triage.NewProcessor(cfg.Triage)
	slog.Info("triage processor initialized",
		"alert_threshold", cfg.Triage.AlertThreshold,
		"escalation_threshold", cfg.Triage.EscalationThreshold,
	)

	// Initialize Investigation Engine
	eng := engine.New(registry, provider, processor, cfg.Engine, cfg.Checks, logger)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, eng)

		var tenantIDs []string
		for _, id := range strings.Split(os.Getenv("KESTREL_TENANTS"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				tenantIDs = append(tenantIDs, id)
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, screeningEngine, registry, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := stopTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnv layers KESTREL_* environment overrides onto the tier defaults.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_INTAKE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Server.IntakeLimitPerMin = limit
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadScreeningRules persists the config defaults and then loads the full
// database rule set into the engine, so POST /rules/reload round-trips
// everything the engine started with.
func loadScreeningRules(ctx context.Context, repo domain.Repository, scr *screening.Engine, defaults []domain.ScreeningRule) error {
	for i := range defaults {
		rule := defaults[i]
		rule.TenantID = domain.GlobalTenantID
		if err := repo.SaveScreeningRule(ctx, domain.GlobalTenantID, &rule); err != nil {
			slog.Warn("failed to persist default screening rule", "id", rule.ID, "error", err)
		}
	}

	dbRules, err := repo.ListScreeningRules(ctx, domain.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list screening rules from database", "error", err)
		return scr.LoadRules(defaults)
	}

	rules := make([]domain.ScreeningRule, 0, len(dbRules))
	for _, rule := range dbRules {
		rules = append(rules, *rule)
	}
	slog.Info("loading screening rules", "count", len(rules))
	return scr.LoadRules(rules)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Fraud Alert Triage Engine           ║")
	fmt.Println("  ║        Every alert, explained.            ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /investigate                  - Investigate an alert synchronously")
	fmt.Println("    POST /alerts                       - Queue an alert for async investigation")
	fmt.Println("    GET  /alerts/{id}/investigation    - Poll a queued alert's outcome")
	fmt.Println("    GET  /investigations/{id}          - Get investigation by ID")
	fmt.Println("    GET  /checks                       - List registered checks and schemas")
	fmt.Println("    POST /transactions                 - Save a transaction (seed history)")
	fmt.Println("    GET  /transactions/{id}            - Get transaction by ID")
	fmt.Println("    GET  /customers/{id}/transactions  - List a customer's history")
	fmt.Println("    GET  /rules                        - List screening rules")
	fmt.Println("    POST /rules                        - Create a screening rule")
	fmt.Println("    POST /rules/reload                 - Hot-reload rules from database")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println()
}
