package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const testTenant = "tenant-api"

// createTestServer wires a full server on sqlite, LRU cache, and the
// channel bus. The alert engine carries the builtin rules.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	tmpFile, err := os.CreateTemp("", "kestrel-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	reportCache := cache.NewLRUCache(100)

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	eng := engine.New(domain.EngineConfig{ProjectionHorizonDays: 30})

	alerts, err := alert.NewEngine()
	if err != nil {
		t.Fatalf("failed to create alert engine: %v", err)
	}
	if err := alerts.LoadRules(alert.BuiltinRules()); err != nil {
		t.Fatalf("failed to load builtin rules: %v", err)
	}
	t.Cleanup(func() { alerts.Close() })

	return NewServer(cfg, repo, reportCache, eventBus, eng, alerts, "test-v1", time.Minute)
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, testTenant)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp map[string]string
		decodeBody(t, rec, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy status, got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("TenantHeaderRequired", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without tenant header, got %d", rec.Code)
		}
	})
}

func TestTransactionEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Create", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/transactions", TransactionRequest{
			Amount:      -4500,
			Category:    "food",
			Date:        "2025-06-10",
			Time:        "12:30",
			Description: "lunch",
		})

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var tx domain.Transaction
		decodeBody(t, rec, &tx)
		if tx.ID == "" {
			t.Error("expected generated transaction ID")
		}
		if !tx.HasTime || tx.Hour != 12 || tx.Minute != 30 {
			t.Errorf("expected time 12:30 carried, got %+v", tx)
		}
	})

	t.Run("CreateBatch", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/transactions/batch", BatchRequest{
			Transactions: []TransactionRequest{
				{ID: "tx-b1", Amount: -2000, Category: "transport", Date: "2025-06-11"},
				{ID: "tx-b2", Amount: 250000, Category: "salary", Date: "2025-06-01"},
			},
		})

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp map[string]int
		decodeBody(t, rec, &resp)
		if resp["saved"] != 2 {
			t.Errorf("expected 2 saved, got %d", resp["saved"])
		}
	})

	t.Run("List", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/transactions", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Transactions []domain.Transaction `json:"transactions"`
			Count        int                  `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Count != 3 {
			t.Errorf("expected 3 transactions, got %d", resp.Count)
		}
	})

	t.Run("ValidationErrors", func(t *testing.T) {
		cases := []struct {
			name string
			body TransactionRequest
		}{
			{"ZeroAmount", TransactionRequest{Category: "food", Date: "2025-06-10"}},
			{"MissingCategory", TransactionRequest{Amount: -100, Date: "2025-06-10"}},
			{"BadDate", TransactionRequest{Amount: -100, Category: "food", Date: "June 10"}},
			{"BadTime", TransactionRequest{Amount: -100, Category: "food", Date: "2025-06-10", Time: "noon"}},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rec := doRequest(t, server, http.MethodPost, "/transactions", tc.body)
				if rec.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", rec.Code)
				}
			})
		}
	})
}

func TestBalanceEndpoints(t *testing.T) {
	server := createTestServer(t)

	rec := doRequest(t, server, http.MethodPut, "/balance", BalanceRequest{Balance: 240000})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/balance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]float64
	decodeBody(t, rec, &resp)
	if resp["balance"] != 240000 {
		t.Errorf("expected balance 240000, got %.2f", resp["balance"])
	}
}

func TestScheduledFlowEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("RecurringRule", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/recurring", domain.RecurringRule{
			Name:      "Salary",
			Category:  "salary",
			Amount:    250000,
			Frequency: domain.FrequencyMonthly,
			StartDate: time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC),
			Active:    true,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = doRequest(t, server, http.MethodGet, "/recurring", nil)
		var resp struct {
			Rules []domain.RecurringRule `json:"rules"`
			Count int                    `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Count != 1 || resp.Rules[0].Name != "Salary" {
			t.Errorf("expected 1 rule named Salary, got %+v", resp)
		}
	})

	t.Run("InvalidFrequency", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/recurring", domain.RecurringRule{
			Name:      "Odd",
			Amount:    100,
			Frequency: "fortnightly",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad frequency, got %d", rec.Code)
		}
	})

	t.Run("Subscription", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/subscriptions", domain.Subscription{
			Name:        "Streaming",
			Category:    "entertainment",
			Amount:      1500,
			NextBilling: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
			Active:      true,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = doRequest(t, server, http.MethodGet, "/subscriptions", nil)
		var resp struct {
			Subscriptions []domain.Subscription `json:"subscriptions"`
			Count         int                   `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 subscription, got %d", resp.Count)
		}
	})
}

// seedDoubleCharge ingests a ledger with an identical pair of charges
// minutes apart so the analysis flags a duplicate.
func seedDoubleCharge(t *testing.T, server *Server) {
	t.Helper()

	day := time.Now().UTC().Format(dateLayout)
	rec := doRequest(t, server, http.MethodPost, "/transactions/batch", BatchRequest{
		Transactions: []TransactionRequest{
			{ID: "pay-1", Amount: 250000, Category: "salary", Date: time.Now().UTC().AddDate(0, 0, -10).Format(dateLayout)},
			{ID: "taxi-1", Amount: -20000, Category: "taxi", Date: day, Time: "14:00"},
			{ID: "taxi-2", Amount: -20000, Category: "taxi", Date: day, Time: "14:03"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to seed ledger: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	server := createTestServer(t)
	seedDoubleCharge(t, server)

	rec := doRequest(t, server, http.MethodPost, "/analyze", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Report   domain.AnomalyReport `json:"report"`
		Alerts   []domain.AlertResult `json:"alerts"`
		Metadata struct {
			Version string `json:"version"`
		} `json:"metadata"`
	}
	decodeBody(t, rec, &resp)

	if len(resp.Report.Anomalies) == 0 {
		t.Fatal("expected at least one anomaly for double charge")
	}
	if resp.Report.ID == "" {
		t.Error("expected non-empty report ID")
	}
	if len(resp.Alerts) == 0 {
		t.Error("expected builtin alert rules to trigger")
	}
	if resp.Metadata.Version != "test-v1" {
		t.Errorf("expected version 'test-v1', got '%s'", resp.Metadata.Version)
	}

	t.Run("GetReport", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/reports/"+resp.Report.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var report domain.AnomalyReport
		decodeBody(t, rec, &report)
		if report.RiskScore != resp.Report.RiskScore {
			t.Errorf("expected risk score %d, got %d", resp.Report.RiskScore, report.RiskScore)
		}
	})

	t.Run("GetReportNotFound", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/reports/no-such-report", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestPatternForecastProjectionEndpoints(t *testing.T) {
	server := createTestServer(t)
	seedDoubleCharge(t, server)

	t.Run("Patterns", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/patterns", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var patterns domain.PatternReport
		decodeBody(t, rec, &patterns)
	})

	t.Run("Forecast", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/forecast", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var forecast domain.Forecast
		decodeBody(t, rec, &forecast)
		if forecast.Amount < 0 {
			t.Errorf("expected non-negative forecast, got %.2f", forecast.Amount)
		}
	})

	t.Run("Projection", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/projection", ProjectionRequest{HorizonDays: 7})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var projection domain.CashFlowProjection
		decodeBody(t, rec, &projection)
		if len(projection.Days) != 7 {
			t.Errorf("expected 7 projected days, got %d", len(projection.Days))
		}
	})

	t.Run("ProjectionDefaultHorizon", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/projection", ProjectionRequest{})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var projection domain.CashFlowProjection
		decodeBody(t, rec, &projection)
		if len(projection.Days) != 30 {
			t.Errorf("expected configured 30-day horizon, got %d", len(projection.Days))
		}
	})

	t.Run("NegativeHorizonRejected", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/projection", ProjectionRequest{HorizonDays: -1})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestAlertRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	builtinCount := len(alert.BuiltinRules())

	t.Run("ListBuiltins", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/alerts/rules", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Count != builtinCount {
			t.Errorf("expected %d builtin rules, got %d", builtinCount, resp.Count)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/alerts/rules", CreateAlertRuleRequest{
			ID:         "custom-medium-risk",
			Name:       "Medium Risk",
			Expression: "risk_score >= 40",
			Severity:   domain.SeverityMedium,
			Message:    "Risk is elevated",
			Enabled:    true,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = doRequest(t, server, http.MethodPost, "/alerts/rules/reload", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 on reload, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Count != builtinCount+1 {
			t.Errorf("expected %d rules after reload, got %d", builtinCount+1, resp.Count)
		}

		rec = doRequest(t, server, http.MethodGet, "/alerts/rules/custom-medium-risk", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 for loaded rule, got %d", rec.Code)
		}
	})

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/alerts/rules", CreateAlertRuleRequest{
			ID:         "bad-rule",
			Name:       "Bad",
			Expression: "risk_score + 1",
			Enabled:    true,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for non-boolean expression, got %d", rec.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/alerts/rules", CreateAlertRuleRequest{
			ID:         "doomed-rule",
			Name:       "Doomed",
			Expression: "fraud_count > 5",
			Enabled:    true,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}

		rec = doRequest(t, server, http.MethodDelete, "/alerts/rules/doomed-rule", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 on delete, got %d: %s", rec.Code, rec.Body.String())
		}

		// Deleted rule must not survive a reload
		rec = doRequest(t, server, http.MethodGet, "/alerts/rules/doomed-rule", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", rec.Code)
		}
	})

	t.Run("UnknownRule", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/alerts/rules/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestResponseHeaders(t *testing.T) {
	server := createTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/transactions", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request ID header to be set")
	}
	if rec.Header().Get(TraceIDHeader) == "" {
		t.Error("expected trace ID header to be set")
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected JSON content type, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("unexpected allow-origin header: %q", got)
	}
}

func TestAnalyzeIsIdempotentOverHTTP(t *testing.T) {
	server := createTestServer(t)
	seedDoubleCharge(t, server)

	var ids [2]string
	for i := 0; i < 2; i++ {
		rec := doRequest(t, server, http.MethodPost, "/analyze", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Report domain.AnomalyReport `json:"report"`
		}
		decodeBody(t, rec, &resp)
		ids[i] = fmt.Sprintf("%v", resp.Report.Anomalies)
	}

	if ids[0] != ids[1] {
		t.Error("expected identical anomalies across repeated analysis")
	}
}
