package detect

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DuplicateDetector flags pairs of transactions in the same category
// with the same signed amount occurring within a short window, the
// signature of an accidental double charge.
type DuplicateDetector struct{}

// Type implements Detector.
func (d *DuplicateDetector) Type() domain.AnomalyType {
	return domain.AnomalyDuplicate
}

// Detect compares each recent expense against the transactions that
// follow it in the newest-first ledger. Each outer transaction pairs
// with at most one duplicate; the emitted anomaly carries the newer of
// the two.
func (d *DuplicateDetector) Detect(in *Input) []domain.Anomaly {
	recent := recentExpenses(in.Ledger, groupScanWindow)

	var anomalies []domain.Anomaly
	for i := 0; i < len(recent); i++ {
		a := recent[i]
		for j := i + 1; j < len(recent); j++ {
			b := recent[j]
			if a.Category != b.Category || a.Amount != b.Amount {
				continue
			}
			gap := a.OccurredAt().Sub(b.OccurredAt())
			if gap < 0 {
				gap = -gap
			}
			if gap >= duplicateWindow {
				continue
			}

			anomalies = append(anomalies, domain.Anomaly{
				ID:          anomalyID(domain.AnomalyDuplicate, a.ID, b.ID),
				Type:        domain.AnomalyDuplicate,
				Severity:    domain.SeverityHigh,
				Transaction: a,
				Description: fmt.Sprintf("Two identical %s charges of %.2f within %d minutes",
					a.Category, a.Magnitude(), int(duplicateWindow.Minutes())),
				Score:          duplicateScore,
				Recommendation: "Check for a double charge and request a refund if so",
				PossibleFraud:  true,
			})
			break
		}
	}

	return anomalies
}
