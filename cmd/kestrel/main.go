// Kestrel - Personal-finance anomaly detection that deploys in 60 seconds.
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
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

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

	// Initialize Analysis Engine
	analysisEngine := engine.New(cfg.Engine)
	slog.Info("analysis engine initialized",
		"projection_horizon_days", cfg.Engine.ProjectionHorizonDays,
	)

	// Initialize Alert Engine with builtin rules plus any persisted rules
	alertEngine, err := alert.NewEngine()
	if err != nil {
		slog.Error("failed to initialize alert engine", "error", err)
		os.Exit(1)
	}
	defer alertEngine.Close()

	if err := loadAlertRules(ctx, repo, alertEngine); err != nil {
		slog.Error("failed to load alert rules", "error", err)
		os.Exit(1)
	}
	slog.Info("alert engine initialized", "rules_count", alertEngine.RulesCount())

	reportTTL := time.Duration(cfg.Engine.ReportCacheTTL) * time.Second

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, analysisEngine, alertEngine)

		// Get tenant IDs to process (comma-separated, empty = global)
		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if id = strings.TrimSpace(id); id != "" {
					tenantIDs = append(tenantIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
			ReportTTL: reportTTL,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, analysisEngine, alertEngine, Version, reportTTL)

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

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID is used for alert rules that apply to all tenants.
const GlobalTenantID = "*"

// loadAlertRules loads the builtin rules plus any rules persisted under
// the global tenant. Custom rules are configured via POST /alerts/rules.
func loadAlertRules(ctx context.Context, repo domain.Repository, alertEngine *alert.Engine) error {
	rules := alert.BuiltinRules()

	dbRules, err := repo.ListAlertRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list alert rules from database", "error", err)
	} else if len(dbRules) > 0 {
		slog.Info("loading alert rules from database", "count", len(dbRules))
		rules = append(rules, dbRules...)
	}

	return alertEngine.LoadRules(rules)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║    Spending Anomaly Detection Engine      ║")
	fmt.Println("  ║      Eyes on every ledger entry.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions        - Ingest a transaction")
	fmt.Println("    POST /transactions/batch  - Ingest a batch")
	fmt.Println("    PUT  /balance             - Set account balance")
	fmt.Println("    POST /recurring           - Add a recurring rule")
	fmt.Println("    POST /subscriptions       - Add a subscription")
	fmt.Println("    POST /analyze             - Run full analysis")
	fmt.Println("    GET  /reports/{id}        - Get report by ID")
	fmt.Println("    GET  /patterns            - Historical patterns")
	fmt.Println("    GET  /forecast            - Next-period forecast")
	fmt.Println("    POST /projection          - Cash-flow projection")
	fmt.Println("    GET  /alerts/rules        - List alert rules")
	fmt.Println("    POST /alerts/rules        - Create an alert rule")
	fmt.Println("    POST /alerts/rules/reload - Hot-reload alert rules")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
