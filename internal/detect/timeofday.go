package detect

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TimeDetector flags late-night spending in categories that normally
// transact during the day.
type TimeDetector struct{}

// Type implements Detector.
func (d *TimeDetector) Type() domain.AnomalyType {
	return domain.AnomalyTime
}

// Detect scans the most recent timed expense transactions. A
// transaction between 23:00 and 05:00 is anomalous when fewer than
// typicalLatePct percent of the category's historical hours fall in
// that band. Categories with under minHourSamples recorded hours are
// skipped entirely.
func (d *TimeDetector) Detect(in *Input) []domain.Anomaly {
	var anomalies []domain.Anomaly

	seen := 0
	for _, tx := range in.Ledger {
		if !tx.IsExpense() || !tx.HasTime {
			continue
		}
		seen++
		if seen > timeScanWindow {
			break
		}

		if !isLateNight(tx.Hour) {
			continue
		}

		p, ok := in.Profiles[tx.Category]
		if !ok || len(p.Hours) < minHourSamples {
			continue
		}

		late := 0
		for _, h := range p.Hours {
			if isLateNight(h) {
				late++
			}
		}
		percentage := float64(late) / float64(len(p.Hours)) * 100
		if percentage >= typicalLatePct {
			continue // late-night is normal for this category
		}

		severity := domain.SeverityMedium
		if tx.Hour >= smallHoursStart && tx.Hour < lateNightEnd {
			severity = domain.SeverityHigh
		}

		possibleFraud := severity == domain.SeverityHigh && tx.Magnitude() > fraudAmountRatio*p.Mean

		anomalies = append(anomalies, domain.Anomaly{
			ID:          anomalyID(domain.AnomalyTime, tx.ID),
			Type:        domain.AnomalyTime,
			Severity:    severity,
			Transaction: tx,
			Description: fmt.Sprintf("%s purchase at %02d:%02d, a time this category almost never transacts",
				tx.Category, tx.Hour, tx.Minute),
			Score:          clampScore((100 - percentage) * 0.8),
			Recommendation: "Confirm you recognize this late-night charge",
			PossibleFraud:  possibleFraud,
		})
	}

	return anomalies
}

// isLateNight reports whether an hour falls in [23:00-05:00).
func isLateNight(hour int) bool {
	return hour >= lateNightStart || hour < lateNightEnd
}
