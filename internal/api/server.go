package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, alerts *alert.Engine, version string, reportTTL time.Duration) *Server {
	handler := NewHandler(repo, cache, bus, eng, alerts, version, reportTTL)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Ledger ingest
		r.Post("/transactions", handler.CreateTransaction)
		r.Post("/transactions/batch", handler.CreateTransactionBatch)
		r.Get("/transactions", handler.ListTransactions)

		// Account state
		r.Put("/balance", handler.SetBalance)
		r.Get("/balance", handler.GetBalance)

		// Scheduled flows
		r.Post("/recurring", handler.CreateRecurringRule)
		r.Get("/recurring", handler.ListRecurringRules)
		r.Post("/subscriptions", handler.CreateSubscription)
		r.Get("/subscriptions", handler.ListSubscriptions)

		// Analysis
		r.Post("/analyze", handler.Analyze)
		r.Get("/reports/{id}", handler.GetReport)
		r.Get("/patterns", handler.GetPatterns)
		r.Get("/forecast", handler.GetForecast)
		r.Post("/projection", handler.Projection)

		// Alert rule management
		r.Get("/alerts/rules", handler.ListAlertRules)
		r.Get("/alerts/rules/{id}", handler.GetAlertRule)
		r.Post("/alerts/rules", handler.CreateAlertRule)
		r.Delete("/alerts/rules/{id}", handler.DeleteAlertRule)
		r.Post("/alerts/rules/reload", handler.ReloadAlertRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
