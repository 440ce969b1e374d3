package alert

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns the default alert rules loaded when a tenant
// has none configured.
func BuiltinRules() []*domain.AlertRule {
	return []*domain.AlertRule{
		{
			ID:          "builtin-high-risk",
			Name:        "High risk report",
			Description: "Fires when the overall risk score reaches the high-risk band",
			Version:     "1.0",
			Expression:  "risk_score >= 70",
			Severity:    domain.SeverityHigh,
			Message:     "Recent activity scored in the high-risk band",
			Enabled:     true,
		},
		{
			ID:          "builtin-possible-fraud",
			Name:        "Possible fraud",
			Description: "Fires when any anomaly carries the possible-fraud flag",
			Version:     "1.0",
			Expression:  "fraud_count > 0",
			Severity:    domain.SeverityCritical,
			Message:     "One or more anomalies look like possible fraud",
			Enabled:     true,
		},
		{
			ID:          "builtin-duplicate-charge",
			Name:        "Duplicate charge",
			Description: "Fires when a duplicate charge is among the detected anomalies",
			Version:     "1.0",
			Expression:  "'duplicate' in types",
			Severity:    domain.SeverityMedium,
			Message:     "A probable double charge was detected",
			Enabled:     true,
		},
	}
}
