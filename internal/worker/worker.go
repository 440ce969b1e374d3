// Package worker provides async analysis processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// defaultReportTTL bounds how long a cached report stays fresh.
const defaultReportTTL = 15 * time.Minute

// Worker runs full ledger analysis in response to EventBus updates.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	engine *engine.Engine
	alerts *alert.Engine

	reportTTL time.Duration

	subscriptions []domain.BusSubscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// ReportTTL overrides the cache lifetime for analysis reports
	ReportTTL time.Duration
}

// NewWorker creates a new async worker. The cache and alert engine are
// optional; analysis still runs and persists without them.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, eng *engine.Engine, alerts *alert.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		cache:     cache,
		engine:    eng,
		alerts:    alerts,
		reportTTL: defaultReportTTL,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing ledger updates for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.ReportTTL > 0 {
		w.reportTTL = cfg.ReportTTL
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicLedgerUpdated, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicLedgerUpdated, func(ctx context.Context, msg *domain.Message) error {
		return w.runAnalysis(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicLedgerUpdated,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.runAnalysis(ctx, msg.TenantID, msg)
}

// LedgerUpdatedMessage is the payload published when a tenant's ledger changes.
type LedgerUpdatedMessage struct {
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId,omitempty"`

	// Reason describes what changed: "transaction", "batch", "balance",
	// "recurring", "subscription". Informational only.
	Reason string `json:"reason,omitempty"`
}

// ReportReadyMessage is the payload published after an analysis pass completes.
type ReportReadyMessage struct {
	TenantID     string `json:"tenantId"`
	ReportID     string `json:"reportId"`
	TraceID      string `json:"traceId,omitempty"`
	RiskScore    int    `json:"riskScore"`
	AnomalyCount int    `json:"anomalyCount"`
	AlertCount   int    `json:"alertCount"`
}

// runAnalysis executes the full pipeline for one ledger update: load the
// tenant snapshot, analyze it, persist and cache the report, evaluate
// alert rules, and publish the outcome.
func (w *Worker) runAnalysis(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var update LedgerUpdatedMessage
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		slog.Error("failed to parse ledger update",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if update.TenantID != "" {
		tenantID = update.TenantID
	}

	traceID := update.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("running analysis",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"reason", update.Reason,
	)

	// 1. Load the full snapshot for the tenant
	snapshot, err := w.repo.LoadSnapshot(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load snapshot",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	// 2. Run detection, patterns, forecast, and projection
	analysis := w.engine.Analyze(snapshot)
	report := &analysis.Report

	// 3. Persist the report
	if err := w.repo.SaveReport(ctx, tenantID, report); err != nil {
		slog.Error("failed to save report",
			"tenant_id", tenantID,
			"report_id", report.ID,
			"error", err,
		)
	}

	// 4. Cache for fast reads
	if w.cache != nil {
		if err := w.cache.SetReport(ctx, tenantID, report.ID, report, w.reportTTL); err != nil {
			slog.Warn("failed to cache report",
				"tenant_id", tenantID,
				"report_id", report.ID,
				"error", err,
			)
		}
	}

	// 5. Evaluate alert rules against the report
	var triggered []domain.AlertResult
	if w.alerts != nil {
		for _, result := range w.alerts.Evaluate(report) {
			if result.Err != "" {
				slog.Warn("alert rule evaluation error",
					"tenant_id", tenantID,
					"rule_id", result.RuleID,
					"error", result.Err,
				)
				continue
			}
			triggered = append(triggered, result)
		}
	}

	// 6. Publish the report-ready event
	ready := ReportReadyMessage{
		TenantID:     tenantID,
		ReportID:     report.ID,
		TraceID:      traceID,
		RiskScore:    report.RiskScore,
		AnomalyCount: len(report.Anomalies),
		AlertCount:   len(triggered),
	}
	readyPayload, _ := json.Marshal(ready)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicReportReady, readyPayload); err != nil {
		slog.Error("failed to publish report ready",
			"tenant_id", tenantID,
			"report_id", report.ID,
			"error", err,
		)
	}

	// 7. Publish each triggered alert
	for _, result := range triggered {
		alertPayload, _ := json.Marshal(result)
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, alertPayload); err != nil {
			slog.Error("failed to publish alert",
				"tenant_id", tenantID,
				"rule_id", result.RuleID,
				"error", err,
			)
		}
	}

	slog.Info("ledger analyzed",
		"tenant_id", tenantID,
		"report_id", report.ID,
		"risk_score", report.RiskScore,
		"anomalies", len(report.Anomalies),
		"alerts", len(triggered),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
