// Package engine orchestrates the analysis pipeline: profile the
// ledger, run the anomaly detectors, aggregate the report, and derive
// patterns, the spending forecast, and the cash-flow projection.
package engine

import (
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/forecast"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/report"
)

// Analysis bundles every derived output for one snapshot.
type Analysis struct {
	Report     domain.AnomalyReport      `json:"report"`
	Patterns   domain.PatternReport      `json:"patterns"`
	Forecast   domain.Forecast           `json:"forecast"`
	Projection domain.CashFlowProjection `json:"projection"`
}

// Engine runs the analysis pipeline over ledger snapshots. Now is the
// injected clock; every calendar-relative window derives from it, so a
// fixed clock makes the whole pipeline deterministic.
type Engine struct {
	Now         func() time.Time
	HorizonDays int

	detectors []detect.Detector
}

// New builds an engine with the full detector set and a wall clock.
func New(cfg domain.EngineConfig) *Engine {
	horizon := cfg.ProjectionHorizonDays
	if horizon <= 0 {
		horizon = 30
	}
	return &Engine{
		Now:         time.Now,
		HorizonDays: horizon,
		detectors:   detect.All(),
	}
}

// Analyze runs the complete pipeline over a snapshot. All outputs are
// recomputed wholesale; nothing is cached or mutated across calls.
func (e *Engine) Analyze(snapshot *domain.Snapshot) *Analysis {
	start := time.Now()
	now := e.Now()

	a := &Analysis{
		Report:   e.detectAt(snapshot.Transactions, now),
		Patterns: patterns.Analyze(snapshot.Transactions, now),
		Forecast: forecast.NextPeriod(snapshot.Transactions, now),
		Projection: forecast.Project(snapshot.Balance, snapshot.Recurring,
			snapshot.Subscriptions, now, e.HorizonDays),
	}

	slog.Debug("analysis complete",
		"transactions", len(snapshot.Transactions),
		"anomalies", len(a.Report.Anomalies),
		"risk_score", a.Report.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return a
}

// Detect profiles the ledger, runs every detector, and aggregates the
// ranked anomaly report.
func (e *Engine) Detect(ledger []domain.Transaction) domain.AnomalyReport {
	return e.detectAt(ledger, e.Now())
}

// detectAt anchors the detection pass on a single instant so Analyze
// stamps the report with the same clock reading the other outputs use.
func (e *Engine) detectAt(ledger []domain.Transaction, now time.Time) domain.AnomalyReport {
	in := detect.NewInput(ledger, profile.Build(ledger), now)

	var anomalies []domain.Anomaly
	for _, d := range e.detectors {
		anomalies = append(anomalies, d.Detect(in)...)
	}

	return report.Build(anomalies, now)
}

// Patterns runs only the historical pattern analysis.
func (e *Engine) Patterns(ledger []domain.Transaction) domain.PatternReport {
	return patterns.Analyze(ledger, e.Now())
}

// Forecast runs only the next-period spend estimate.
func (e *Engine) Forecast(ledger []domain.Transaction) domain.Forecast {
	return forecast.NextPeriod(ledger, e.Now())
}

// Project rolls the balance forward over the given horizon; a
// non-positive horizon falls back to the configured default.
func (e *Engine) Project(snapshot *domain.Snapshot, horizonDays int) domain.CashFlowProjection {
	if horizonDays <= 0 {
		horizonDays = e.HorizonDays
	}
	return forecast.Project(snapshot.Balance, snapshot.Recurring,
		snapshot.Subscriptions, e.Now(), horizonDays)
}
