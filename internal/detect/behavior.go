package detect

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BehaviorDetector compares spending velocity over the last week
// against the preceding baseline window and flags sharp shifts in
// either direction.
type BehaviorDetector struct{}

// Type implements Detector.
func (d *BehaviorDetector) Type() domain.AnomalyType {
	return domain.AnomalyBehavioral
}

// Detect computes the daily spend rate for the trailing recentWindowDays
// and for the baselineWindowDays before them. Both windows need a
// minimum transaction count before a shift is considered, so sparse
// ledgers produce nothing.
func (d *BehaviorDetector) Detect(in *Input) []domain.Anomaly {
	now := in.Now
	recentCutoff := now.AddDate(0, 0, -recentWindowDays)
	baselineCutoff := now.AddDate(0, 0, -(recentWindowDays + baselineWindowDays))

	var recentTotal, baselineTotal float64
	var recentCount, baselineCount int
	var newest domain.Transaction
	for _, tx := range in.Ledger {
		if !tx.IsExpense() {
			continue
		}
		at := tx.OccurredAt()
		switch {
		case !at.Before(recentCutoff):
			if recentCount == 0 {
				newest = tx // ledger is newest-first
			}
			recentTotal += tx.Magnitude()
			recentCount++
		case !at.Before(baselineCutoff):
			baselineTotal += tx.Magnitude()
			baselineCount++
		}
	}

	if recentCount < shiftMinRecent || baselineCount < shiftMinBaseline {
		return nil
	}

	recentRate := recentTotal / float64(recentWindowDays)
	baselineRate := baselineTotal / float64(baselineWindowDays)
	if baselineRate <= 0 {
		return nil
	}

	change := (recentRate - baselineRate) / baselineRate * 100
	magnitude := change
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude <= shiftFlagPct {
		return nil
	}

	severity := domain.SeverityHigh
	if magnitude > shiftCriticalPct {
		severity = domain.SeverityCritical
	}

	direction := "increased"
	if change < 0 {
		direction = "decreased"
	}

	return []domain.Anomaly{{
		ID:          anomalyID(domain.AnomalyBehavioral, newest.ID),
		Type:        domain.AnomalyBehavioral,
		Severity:    severity,
		Transaction: newest,
		Description: fmt.Sprintf("Daily spending %s %.0f%% over the last %d days compared to your usual rate",
			direction, magnitude, recentWindowDays),
		Score:          clampScore(magnitude),
		Recommendation: "Look over the past week's purchases for anything unexpected",
		PossibleFraud:  change > shiftFraudPct,
	}}
}
