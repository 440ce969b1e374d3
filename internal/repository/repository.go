// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a ledger transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, amount, category, date,
			has_time, hour, minute, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			amount = excluded.amount,
			category = excluded.category,
			date = excluded.date,
			has_time = excluded.has_time,
			hour = excluded.hour,
			minute = excluded.minute,
			description = excluded.description
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.Amount, tx.Category, tx.Date,
		boolToInt(tx.HasTime), tx.Hour, tx.Minute, tx.Description,
		time.Now().UTC(),
	)
	return err
}

// SaveTransactions stores a batch of transactions in one database
// transaction, so a partially imported ledger never becomes visible.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, txs []domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(txs) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO transactions (
			id, tenant_id, amount, category, date,
			has_time, hour, minute, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			amount = excluded.amount,
			category = excluded.category,
			date = excluded.date,
			has_time = excluded.has_time,
			hour = excluded.hour,
			minute = excluded.minute,
			description = excluded.description
	`)

	now := time.Now().UTC()
	for i := range txs {
		tx := &txs[i]
		if tx.ID == "" {
			return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
		}
		if _, err := dbTx.ExecContext(ctx, query,
			tx.ID, tenantID, tx.Amount, tx.Category, tx.Date,
			boolToInt(tx.HasTime), tx.Hour, tx.Minute, tx.Description, now,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// ListTransactions returns the full ledger for a tenant, newest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string) ([]domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, amount, category, date, has_time, hour, minute, description
		FROM transactions
		WHERE tenant_id = ?
		ORDER BY date DESC, hour DESC, minute DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var hasTime int
		var description sql.NullString

		if err := rows.Scan(
			&tx.ID, &tx.Amount, &tx.Category, &tx.Date,
			&hasTime, &tx.Hour, &tx.Minute, &description,
		); err != nil {
			return nil, err
		}

		tx.HasTime = hasTime == 1
		tx.Description = description.String
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// SetBalance upserts the tenant's current account balance.
func (r *SQLRepository) SetBalance(ctx context.Context, tenantID string, balance float64) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO accounts (tenant_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			balance = excluded.balance,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, balance, time.Now().UTC())
	return err
}

// GetBalance returns the tenant's balance, 0 when never set.
func (r *SQLRepository) GetBalance(ctx context.Context, tenantID string) (float64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT balance FROM accounts WHERE tenant_id = ?`

	var balance float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// SaveRecurringRule upserts a recurring inflow/outflow rule.
func (r *SQLRepository) SaveRecurringRule(ctx context.Context, tenantID string, rule *domain.RecurringRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO recurring_rules (
			id, tenant_id, name, category, amount, frequency, start_date, active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			amount = excluded.amount,
			frequency = excluded.frequency,
			start_date = excluded.start_date,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Category, rule.Amount,
		string(rule.Frequency), rule.StartDate, boolToInt(rule.Active),
		time.Now().UTC(),
	)
	return err
}

// ListRecurringRules returns every recurring rule for a tenant.
func (r *SQLRepository) ListRecurringRules(ctx context.Context, tenantID string) ([]domain.RecurringRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, category, amount, frequency, start_date, active
		FROM recurring_rules
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.RecurringRule
	for rows.Next() {
		var rule domain.RecurringRule
		var frequency string
		var active int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Category, &rule.Amount,
			&frequency, &rule.StartDate, &active,
		); err != nil {
			return nil, err
		}

		rule.Frequency = domain.Frequency(frequency)
		rule.Active = active == 1
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// SaveSubscription upserts a subscription record.
func (r *SQLRepository) SaveSubscription(ctx context.Context, tenantID string, sub *domain.Subscription) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO subscriptions (
			id, tenant_id, name, category, amount, next_billing, active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			amount = excluded.amount,
			next_billing = excluded.next_billing,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		sub.ID, tenantID, sub.Name, sub.Category, sub.Amount,
		sub.NextBilling, boolToInt(sub.Active), time.Now().UTC(),
	)
	return err
}

// ListSubscriptions returns every subscription for a tenant.
func (r *SQLRepository) ListSubscriptions(ctx context.Context, tenantID string) ([]domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, category, amount, next_billing, active
		FROM subscriptions
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var active int

		if err := rows.Scan(
			&sub.ID, &sub.Name, &sub.Category, &sub.Amount,
			&sub.NextBilling, &active,
		); err != nil {
			return nil, err
		}

		sub.Active = active == 1
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// LoadSnapshot assembles the complete analysis input for a tenant.
func (r *SQLRepository) LoadSnapshot(ctx context.Context, tenantID string) (*domain.Snapshot, error) {
	transactions, err := r.ListTransactions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	balance, err := r.GetBalance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	recurring, err := r.ListRecurringRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	subscriptions, err := r.ListSubscriptions(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &domain.Snapshot{
		Transactions:  transactions,
		Balance:       balance,
		Recurring:     recurring,
		Subscriptions: subscriptions,
	}, nil
}

// SaveReport stores a generated anomaly report.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.AnomalyReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	query := `
		INSERT INTO reports (
			id, tenant_id, generated_at, risk_score, summary, critical_count, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			generated_at = excluded.generated_at,
			risk_score = excluded.risk_score,
			summary = excluded.summary,
			critical_count = excluded.critical_count,
			payload = excluded.payload
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.GeneratedAt, report.RiskScore,
		report.Summary, report.CriticalCount, string(payload),
	)
	return err
}

// GetReport retrieves a stored report by ID with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.AnomalyReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT payload FROM reports WHERE tenant_id = ? AND id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.AnomalyReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report payload: %w", err)
	}
	return &report, nil
}

// SaveAlertRule stores an alert rule with tenant isolation.
func (r *SQLRepository) SaveAlertRule(ctx context.Context, tenantID string, rule *domain.AlertRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO alert_rules (
			id, tenant_id, name, description, version, expression,
			severity, message, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			message = excluded.message,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(rule.Severity), rule.Message,
		boolToInt(rule.Enabled), now, now,
	)
	return err
}

// GetAlertRule retrieves the latest enabled version of an alert rule.
func (r *SQLRepository) GetAlertRule(ctx context.Context, tenantID string, ruleID string) (*domain.AlertRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression,
			   severity, message, enabled, created_at, updated_at
		FROM alert_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	rule, err := scanAlertRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListAlertRules retrieves all enabled alert rules for a tenant.
func (r *SQLRepository) ListAlertRules(ctx context.Context, tenantID string) ([]*domain.AlertRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression,
			   severity, message, enabled, created_at, updated_at
		FROM alert_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteAlertRule soft-deletes an alert rule by setting enabled = 0.
func (r *SQLRepository) DeleteAlertRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE alert_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlertRule(row rowScanner) (*domain.AlertRule, error) {
	var rule domain.AlertRule
	var severity string
	var description, message sql.NullString
	var enabled int

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description,
		&rule.Version, &rule.Expression, &severity, &message,
		&enabled, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Message = message.String
	rule.Severity = domain.Severity(severity)
	rule.Enabled = enabled == 1
	return &rule, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
