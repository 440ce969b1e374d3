package domain

import (
	"time"
)

// AnomalyType identifies which detector produced an anomaly.
type AnomalyType string

const (
	AnomalyAmount     AnomalyType = "amount"
	AnomalyTime       AnomalyType = "time"
	AnomalyFrequency  AnomalyType = "frequency"
	AnomalyDuplicate  AnomalyType = "duplicate"
	AnomalyBehavioral AnomalyType = "behavioral"
)

// Severity classifies how alarming an anomaly is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering weight of a severity, higher = more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Anomaly is a single detection event. The ID is a stable composite of
// the detector type and the triggering transaction id(s), so a report
// can deduplicate by identity when detectors overlap.
type Anomaly struct {
	ID       string      `json:"id"`
	Type     AnomalyType `json:"type"`
	Severity Severity    `json:"severity"`

	// Transaction is the triggering record, or the representative
	// record for group-level anomalies (bursts, behavioral shifts).
	Transaction Transaction `json:"transaction"`

	Description    string `json:"description"`
	Score          int    `json:"score"` // 0-100, higher = more anomalous
	Recommendation string `json:"recommendation"`
	PossibleFraud  bool   `json:"possibleFraud"`
}

// AnomalyReport is the ranked output of a full detection pass.
// Anomalies are ordered by severity descending, then score descending,
// and capped to the top MaxReportAnomalies entries.
type AnomalyReport struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generatedAt"`

	Anomalies       []Anomaly `json:"anomalies"`
	RiskScore       int       `json:"riskScore"` // 0-100
	Summary         string    `json:"summary"`
	CriticalCount   int       `json:"criticalCount"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// MaxReportAnomalies caps the anomaly list in a report.
const MaxReportAnomalies = 10
