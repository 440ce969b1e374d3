// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Ledger operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	SaveTransactions(ctx context.Context, tenantID string, txs []Transaction) error
	ListTransactions(ctx context.Context, tenantID string) ([]Transaction, error)

	// Account state
	SetBalance(ctx context.Context, tenantID string, balance float64) error
	GetBalance(ctx context.Context, tenantID string) (float64, error)

	// Recurring rules and subscriptions
	SaveRecurringRule(ctx context.Context, tenantID string, rule *RecurringRule) error
	ListRecurringRules(ctx context.Context, tenantID string) ([]RecurringRule, error)
	SaveSubscription(ctx context.Context, tenantID string, sub *Subscription) error
	ListSubscriptions(ctx context.Context, tenantID string) ([]Subscription, error)

	// LoadSnapshot assembles the full analysis input for a tenant.
	LoadSnapshot(ctx context.Context, tenantID string) (*Snapshot, error)

	// Report persistence
	SaveReport(ctx context.Context, tenantID string, report *AnomalyReport) error
	GetReport(ctx context.Context, tenantID string, reportID string) (*AnomalyReport, error)

	// Alert rule operations
	SaveAlertRule(ctx context.Context, tenantID string, rule *AlertRule) error
	GetAlertRule(ctx context.Context, tenantID string, ruleID string) (*AlertRule, error)
	ListAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error)
	DeleteAlertRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
