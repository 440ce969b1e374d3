// Package report merges raw detector output into a ranked, scored
// anomaly report ready for consumers.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Risk score weights and summary thresholds. Consumers bucket on the
// exact boundary values, so these are fixed.
const (
	weightCritical = 30
	weightHigh     = 20
	weightFraud    = 25
	weightAnomaly  = 2

	riskHigh   = 70
	riskMedium = 40
	riskLow    = 20
)

// Build assembles an AnomalyReport from the concatenated detector
// outputs. Anomalies sharing an identifier collapse to the first
// occurrence, the rest are ranked by severity then score, and the
// report keeps only the top entries.
func Build(anomalies []domain.Anomaly, generatedAt time.Time) domain.AnomalyReport {
	deduped := dedupe(anomalies)

	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].Severity.Rank() != deduped[j].Severity.Rank() {
			return deduped[i].Severity.Rank() > deduped[j].Severity.Rank()
		}
		return deduped[i].Score > deduped[j].Score
	})

	if len(deduped) > domain.MaxReportAnomalies {
		deduped = deduped[:domain.MaxReportAnomalies]
	}

	var critical, high, fraud int
	types := make(map[domain.AnomalyType]bool)
	for _, a := range deduped {
		switch a.Severity {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityHigh:
			high++
		}
		if a.PossibleFraud {
			fraud++
		}
		types[a.Type] = true
	}

	risk := weightCritical*critical + weightHigh*high + weightFraud*fraud + weightAnomaly*len(deduped)
	if risk > 100 {
		risk = 100
	}

	return domain.AnomalyReport{
		ID:              reportID(generatedAt, deduped),
		GeneratedAt:     generatedAt,
		Anomalies:       deduped,
		RiskScore:       risk,
		Summary:         summarize(risk, len(deduped), fraud),
		CriticalCount:   critical,
		Recommendations: recommend(critical, fraud, types),
	}
}

// reportID derives a stable identifier from the generation time and
// the ranked anomaly identities, so identical snapshots analyzed at
// the same injected clock produce identical reports.
func reportID(generatedAt time.Time, anomalies []domain.Anomaly) string {
	key := generatedAt.UTC().Format(time.RFC3339Nano)
	for _, a := range anomalies {
		key += "|" + a.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func dedupe(anomalies []domain.Anomaly) []domain.Anomaly {
	seen := make(map[string]bool, len(anomalies))
	out := make([]domain.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}

func summarize(risk, total, fraud int) string {
	switch {
	case risk >= riskHigh:
		return fmt.Sprintf("High risk: %d anomalies detected, %d flagged as possible fraud", total, fraud)
	case risk >= riskMedium:
		return fmt.Sprintf("Medium risk: %d anomalies detected in recent activity", total)
	case risk >= riskLow:
		return fmt.Sprintf("Low risk: %d minor anomalies detected", total)
	default:
		return "All clear: no significant anomalies in recent activity"
	}
}

// recommend returns the conditional recommendation list in fixed
// order, one entry per met condition.
func recommend(critical, fraud int, types map[domain.AnomalyType]bool) []string {
	var recs []string
	if fraud > 0 {
		recs = append(recs, "Check your bank statement for unrecognized charges")
	}
	if critical > 0 {
		recs = append(recs, "Review critical anomalies immediately")
	}
	if types[domain.AnomalyBehavioral] {
		recs = append(recs, "Your spending pattern has changed noticeably this week")
	}
	if types[domain.AnomalyFrequency] {
		recs = append(recs, "Consider setting a purchase limit for rapidly repeating categories")
	}
	return recs
}
