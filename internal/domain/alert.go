package domain

import "time"

// AlertRule is a user-defined CEL expression evaluated against a
// finished anomaly report. When the expression is true the rule fires
// and its message is published on the alert topic.
type AlertRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a CEL expression over report facts
	// (risk_score, critical_count, fraud_count, anomaly_count,
	// top_score, summary). It must return bool.
	Expression string `json:"expression"`

	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Enabled  bool     `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// AlertResult is the outcome of evaluating one alert rule.
type AlertResult struct {
	RuleID    string   `json:"ruleId"`
	RuleName  string   `json:"ruleName"`
	Triggered bool     `json:"triggered"`
	Severity  Severity `json:"severity,omitempty"`
	Message   string   `json:"message,omitempty"`
	Err       string   `json:"error,omitempty"`
}
