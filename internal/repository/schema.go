package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    amount REAL NOT NULL,
    category TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    has_time INTEGER NOT NULL DEFAULT 0,
    hour INTEGER NOT NULL DEFAULT 0,
    minute INTEGER NOT NULL DEFAULT 0,
    description TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(tenant_id, category);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(tenant_id, date);
`

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    tenant_id TEXT PRIMARY KEY,
    balance REAL NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaRecurringRules = `
CREATE TABLE IF NOT EXISTS recurring_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    amount REAL NOT NULL,
    frequency TEXT NOT NULL,
    start_date TIMESTAMP NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_recurring_rules_tenant ON recurring_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_recurring_rules_active ON recurring_rules(tenant_id, active);
`

const schemaSubscriptions = `
CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    amount REAL NOT NULL,
    next_billing TIMESTAMP NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant ON subscriptions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_active ON subscriptions(tenant_id, active);
`

// schemaReports keeps the full report as a JSON payload; the scalar
// columns exist for listing and filtering without deserialization.
const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    risk_score INTEGER NOT NULL,
    summary TEXT NOT NULL,
    critical_count INTEGER NOT NULL,
    payload TEXT NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_reports_tenant ON reports(tenant_id);
CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports(tenant_id, generated_at);
`

const schemaAlertRules = `
CREATE TABLE IF NOT EXISTS alert_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_alert_rules_tenant ON alert_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alert_rules_enabled ON alert_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAccounts,
		schemaRecurringRules,
		schemaSubscriptions,
		schemaReports,
		schemaAlertRules,
	}
}
