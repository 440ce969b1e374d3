package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *engine.Engine
	alerts    *alert.Engine
	version   string
	reportTTL time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, alerts *alert.Engine, version string, reportTTL time.Duration) *Handler {
	if reportTTL <= 0 {
		reportTTL = 5 * time.Minute
	}
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    eng,
		alerts:    alerts,
		version:   version,
		reportTTL: reportTTL,
	}
}

// dateLayout is the wire format for transaction dates.
const dateLayout = "2006-01-02"

// timeLayout is the wire format for optional time of day.
const timeLayout = "15:04"

// TransactionRequest is the request body for POST /transactions.
type TransactionRequest struct {
	ID          string  `json:"id,omitempty"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Date        string  `json:"date"`           // "2006-01-02"
	Time        string  `json:"time,omitempty"` // "15:04"
	Description string  `json:"description,omitempty"`
}

// BatchRequest is the request body for POST /transactions/batch.
type BatchRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

func (req *TransactionRequest) toDomain() (*domain.Transaction, error) {
	if req.Amount == 0 {
		return nil, errors.New("amount must be non-zero")
	}
	if req.Category == "" {
		return nil, errors.New("category is required")
	}

	day, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, errors.New("date must be formatted as " + dateLayout)
	}

	tx := &domain.Transaction{
		ID:          req.ID,
		Amount:      req.Amount,
		Category:    req.Category,
		Date:        day.UTC(),
		Description: req.Description,
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	if req.Time != "" {
		clock, err := time.Parse(timeLayout, req.Time)
		if err != nil {
			return nil, errors.New("time must be formatted as " + timeLayout)
		}
		tx.HasTime = true
		tx.Hour = clock.Hour()
		tx.Minute = clock.Minute()
	}

	return tx, nil
}

// CreateTransaction handles POST /transactions.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := req.toDomain()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	h.publishLedgerUpdated(r, tenantID, "transaction")

	writeJSON(w, http.StatusCreated, tx)
}

// CreateTransactionBatch handles POST /transactions/batch.
func (h *Handler) CreateTransactionBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions must not be empty",
		})
		return
	}

	txs := make([]domain.Transaction, 0, len(req.Transactions))
	for i := range req.Transactions {
		tx, err := req.Transactions[i].toDomain()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		txs = append(txs, *tx)
	}

	if err := h.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		slog.Error("failed to save transaction batch", "count", len(txs), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transactions",
		})
		return
	}

	h.publishLedgerUpdated(r, tenantID, "batch")

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"saved": len(txs),
	})
}

// ListTransactions handles GET /transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	txs, err := h.repo.ListTransactions(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// BalanceRequest is the request body for PUT /balance.
type BalanceRequest struct {
	Balance float64 `json:"balance"`
}

// SetBalance handles PUT /balance.
func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.repo.SetBalance(ctx, tenantID, req.Balance); err != nil {
		slog.Error("failed to set balance", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to set balance",
		})
		return
	}

	h.publishLedgerUpdated(r, tenantID, "balance")

	writeJSON(w, http.StatusOK, map[string]float64{
		"balance": req.Balance,
	})
}

// GetBalance handles GET /balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	balance, err := h.repo.GetBalance(ctx, tenantID)
	if err != nil {
		slog.Error("failed to get balance", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get balance",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]float64{
		"balance": balance,
	})
}

// CreateRecurringRule handles POST /recurring.
func (h *Handler) CreateRecurringRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.RecurringRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rule.Name == "" || rule.Amount == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and a non-zero amount are required",
		})
		return
	}
	switch rule.Frequency {
	case domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyMonthly, domain.FrequencyYearly:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "frequency must be daily, weekly, monthly, or yearly",
		})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := h.repo.SaveRecurringRule(ctx, tenantID, &rule); err != nil {
		slog.Error("failed to save recurring rule", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save recurring rule",
		})
		return
	}

	h.publishLedgerUpdated(r, tenantID, "recurring")

	writeJSON(w, http.StatusCreated, rule)
}

// ListRecurringRules handles GET /recurring.
func (h *Handler) ListRecurringRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListRecurringRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list recurring rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list recurring rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateSubscription handles POST /subscriptions.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var sub domain.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if sub.Name == "" || sub.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and a positive amount are required",
		})
		return
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}

	if err := h.repo.SaveSubscription(ctx, tenantID, &sub); err != nil {
		slog.Error("failed to save subscription", "subscription_id", sub.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save subscription",
		})
		return
	}

	h.publishLedgerUpdated(r, tenantID, "subscription")

	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /subscriptions.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	subs, err := h.repo.ListSubscriptions(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list subscriptions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list subscriptions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	*engine.Analysis

	Alerts   []domain.AlertResult `json:"alerts,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Analyze handles POST /analyze: the synchronous Community-tier path.
// It loads the tenant snapshot, runs the full analysis, persists and
// caches the report, evaluates alert rules, and returns everything.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	snapshot, err := h.repo.LoadSnapshot(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load snapshot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load ledger",
		})
		return
	}

	analysis := h.engine.Analyze(snapshot)
	report := &analysis.Report

	if err := h.repo.SaveReport(ctx, tenantID, report); err != nil {
		slog.Error("failed to save report", "report_id", report.ID, "error", err)
	}
	if h.cache != nil {
		if err := h.cache.SetReport(ctx, tenantID, report.ID, report, h.reportTTL); err != nil {
			slog.Warn("failed to cache report", "report_id", report.ID, "error", err)
		}
	}

	var triggered []domain.AlertResult
	if h.alerts != nil {
		for _, result := range h.alerts.Evaluate(report) {
			if result.Err != "" {
				slog.Warn("alert rule evaluation error",
					"rule_id", result.RuleID,
					"error", result.Err,
				)
				continue
			}
			triggered = append(triggered, result)
		}
	}

	if h.bus != nil {
		ready := worker.ReportReadyMessage{
			TenantID:     tenantID,
			ReportID:     report.ID,
			TraceID:      traceID,
			RiskScore:    report.RiskScore,
			AnomalyCount: len(report.Anomalies),
			AlertCount:   len(triggered),
		}
		payload, _ := json.Marshal(ready)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicReportReady, payload); err != nil {
			slog.Error("failed to publish report ready", "report_id", report.ID, "error", err)
		}
	}

	resp := AnalyzeResponse{
		Analysis: analysis,
		Alerts:   triggered,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetReport handles GET /reports/{id}. The cache is consulted first;
// on a miss the repository copy backfills the cache.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if reportID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "report id is required",
		})
		return
	}

	if h.cache != nil {
		if report, err := h.cache.GetReport(ctx, tenantID, reportID); err == nil && report != nil {
			writeJSON(w, http.StatusOK, report)
			return
		}
	}

	report, err := h.repo.GetReport(ctx, tenantID, reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "report not found",
			})
			return
		}
		slog.Error("failed to get report", "report_id", reportID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get report",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetReport(ctx, tenantID, reportID, report, h.reportTTL)
	}

	writeJSON(w, http.StatusOK, report)
}

// GetPatterns handles GET /patterns.
func (h *Handler) GetPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	snapshot, err := h.repo.LoadSnapshot(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load snapshot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load ledger",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Patterns(snapshot.Transactions))
}

// GetForecast handles GET /forecast.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	snapshot, err := h.repo.LoadSnapshot(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load snapshot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load ledger",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Forecast(snapshot.Transactions))
}

// ProjectionRequest is the request body for POST /projection.
type ProjectionRequest struct {
	HorizonDays int `json:"horizonDays"`
}

// Projection handles POST /projection.
func (h *Handler) Projection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ProjectionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}
	if req.HorizonDays < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "horizonDays must not be negative",
		})
		return
	}

	snapshot, err := h.repo.LoadSnapshot(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load snapshot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load ledger",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Project(snapshot, req.HorizonDays))
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GlobalTenantID is used for alert rules that apply to all tenants.
const GlobalTenantID = "*"

// ListAlertRules returns all rules loaded in the alert engine.
// Rules are loaded from the database at startup and can be reloaded
// via POST /alerts/rules/reload.
func (h *Handler) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.alerts.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetAlertRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetAlertRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.alerts.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateAlertRuleRequest is the request body for creating an alert rule.
type CreateAlertRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Expression  string          `json:"expression"`
	Severity    domain.Severity `json:"severity"`
	Message     string          `json:"message,omitempty"`
	Enabled     bool            `json:"enabled"`
}

// CreateAlertRule creates a new alert rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /alerts/rules/reload to hot-reload the engine.
func (h *Handler) CreateAlertRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateAlertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.AlertRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Severity:    req.Severity,
		Message:     req.Message,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression before persisting
	if err := h.alerts.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveAlertRule(ctx, GlobalTenantID, rule); err != nil {
		slog.Error("failed to save alert rule", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("alert rule created", "rule_id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /alerts/rules/reload to apply changes.",
	})
}

// DeleteAlertRule disables a rule in the database and auto-reloads the engine.
func (h *Handler) DeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if err := h.repo.DeleteAlertRule(ctx, GlobalTenantID, ruleID); err != nil {
		slog.Error("failed to delete alert rule", "rule_id", ruleID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	if err := h.reloadAlertRules(r); err != nil {
		slog.Error("failed to reload rules after delete", "error", err)
	}

	slog.Info("alert rule deleted", "rule_id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadAlertRules reloads all alert rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadAlertRules(w http.ResponseWriter, r *http.Request) {
	if err := h.reloadAlertRules(r); err != nil {
		slog.Error("failed to reload alert rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	count := h.alerts.RulesCount()
	slog.Info("alert rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// reloadAlertRules replaces the engine's rule set with the builtin rules
// plus everything persisted under the global tenant.
func (h *Handler) reloadAlertRules(r *http.Request) error {
	dbRules, err := h.repo.ListAlertRules(r.Context(), GlobalTenantID)
	if err != nil {
		return err
	}

	rules := alert.BuiltinRules()
	rules = append(rules, dbRules...)
	return h.alerts.ReloadRules(rules)
}

// publishLedgerUpdated notifies the async pipeline that a tenant's
// ledger changed. Failures are logged, not surfaced; the write already
// succeeded.
func (h *Handler) publishLedgerUpdated(r *http.Request, tenantID, reason string) {
	if h.bus == nil {
		return
	}

	update := worker.LedgerUpdatedMessage{
		TenantID: tenantID,
		TraceID:  GetTraceID(r.Context()),
		Reason:   reason,
	}
	payload, _ := json.Marshal(update)
	if err := h.bus.Publish(r.Context(), tenantID, domain.TopicLedgerUpdated, payload); err != nil {
		slog.Error("failed to publish ledger update",
			"tenant_id", tenantID,
			"reason", reason,
			"error", err,
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
