package detect

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AmountDetector flags expense transactions whose size is a
// statistical outlier within their category.
type AmountDetector struct{}

// Type implements Detector.
func (d *AmountDetector) Type() domain.AnomalyType {
	return domain.AnomalyAmount
}

// Detect scans the most recent expense transactions and flags any
// whose amount deviates more than zFlag standard deviations from its
// category baseline. The baseline for each transaction excludes the
// transaction itself, so a single huge charge is measured against the
// history it interrupted rather than against statistics it already
// inflated. A category of constant amounts never flags and never
// divides by zero: the examined amount equals the baseline mean, so
// the deviation is exactly zero.
func (d *AmountDetector) Detect(in *Input) []domain.Anomaly {
	var anomalies []domain.Anomaly

	for _, tx := range recentExpenses(in.Ledger, amountScanWindow) {
		p, ok := in.Profiles[tx.Category]
		if !ok || p.Count < domain.MinProfileSamples {
			continue
		}

		mean, stdDev, ok := leaveOneOut(p, tx.Magnitude())
		if !ok || mean <= 0 {
			continue
		}

		// With zero spread in the baseline, fall back to relative
		// deviation: multiples of the mean stand in for z.
		z := 0.0
		if stdDev > 0 {
			z = (tx.Magnitude() - mean) / stdDev
		} else if tx.Magnitude() != mean {
			z = (tx.Magnitude() - mean) / mean
		}
		if z <= zFlag {
			continue
		}

		severity := domain.SeverityMedium
		switch {
		case z > zCritical:
			severity = domain.SeverityCritical
		case z > zHigh:
			severity = domain.SeverityHigh
		}

		multiplier := tx.Magnitude() / mean
		possibleFraud := multiplier > fraudMeanRatio || tx.Magnitude() > fraudMaxRatio*p.Max

		anomalies = append(anomalies, domain.Anomaly{
			ID:          anomalyID(domain.AnomalyAmount, tx.ID),
			Type:        domain.AnomalyAmount,
			Severity:    severity,
			Transaction: tx,
			Description: fmt.Sprintf("Spent %.1fx the %s category average in a single transaction",
				multiplier, tx.Category),
			Score:          clampScore(z * 10),
			Recommendation: "Verify this charge against your receipts",
			PossibleFraud:  possibleFraud,
		})
	}

	return anomalies
}

// leaveOneOut removes one observation from a profile's amount
// statistics. Sum and sum of squares are reconstructed from the
// stored mean, population stddev, and count, so the profile struct
// stays exactly what the builder produces.
func leaveOneOut(p domain.CategoryProfile, amount float64) (mean, stdDev float64, ok bool) {
	n := float64(p.Count)
	rest := n - 1
	if rest < 1 {
		return 0, 0, false
	}

	sum := p.Mean * n
	sumSq := n * (p.StdDev*p.StdDev + p.Mean*p.Mean)

	mean = (sum - amount) / rest
	variance := (sumSq-amount*amount)/rest - mean*mean
	if variance < 0 {
		variance = 0 // floating-point residue
	}
	return mean, math.Sqrt(variance), true
}
