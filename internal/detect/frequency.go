package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FrequencyDetector flags purchase bursts: many transactions in a
// single category within a 24-hour window, far above the category's
// historical daily rate.
type FrequencyDetector struct{}

// Type implements Detector.
func (d *FrequencyDetector) Type() domain.AnomalyType {
	return domain.AnomalyFrequency
}

// Detect groups the most recent expense transactions by category and
// counts those inside the trailing 24-hour window. A category trips
// when the window holds at least burstMinCount transactions and the
// count exceeds burstRateRatio times its long-run daily rate. One
// anomaly is emitted per bursting category, anchored to its most
// recent transaction.
func (d *FrequencyDetector) Detect(in *Input) []domain.Anomaly {
	recent := recentExpenses(in.Ledger, groupScanWindow)
	if len(recent) == 0 {
		return nil
	}

	now := in.Now
	cutoff := now.Add(-time.Duration(burstWindowHours) * time.Hour)

	windowCount := make(map[string]int)
	representative := make(map[string]domain.Transaction)
	windowTotal := make(map[string]float64)
	for _, tx := range recent {
		if tx.OccurredAt().Before(cutoff) {
			continue
		}
		windowCount[tx.Category]++
		windowTotal[tx.Category] += tx.Magnitude()
		if _, ok := representative[tx.Category]; !ok {
			representative[tx.Category] = tx // ledger is newest-first
		}
	}

	categories := make([]string, 0, len(windowCount))
	for category := range windowCount {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var anomalies []domain.Anomaly
	for _, category := range categories {
		count := windowCount[category]
		if count < burstMinCount {
			continue
		}
		rate := d.dailyRate(in.Ledger, category)
		if rate <= 0 || float64(count) <= burstRateRatio*rate {
			continue
		}

		severity := domain.SeverityMedium
		switch {
		case count > burstCriticalCount:
			severity = domain.SeverityCritical
		case count > burstHighCount:
			severity = domain.SeverityHigh
		}

		rep := representative[category]
		anomalies = append(anomalies, domain.Anomaly{
			ID:          anomalyID(domain.AnomalyFrequency, rep.ID),
			Type:        domain.AnomalyFrequency,
			Severity:    severity,
			Transaction: rep,
			Description: fmt.Sprintf("%d %s purchases totaling %.2f in the last 24 hours, versus a typical %.1f per day",
				count, category, windowTotal[category], rate),
			Score:          clampScore(float64(count) * 10),
			Recommendation: "Review whether these rapid purchases were intentional",
			PossibleFraud:  count > burstFraudCount,
		})
	}

	return anomalies
}

// dailyRate is the category's expense count divided by the number of
// days the ledger spans, floored at one day.
func (d *FrequencyDetector) dailyRate(ledger []domain.Transaction, category string) float64 {
	var count int
	var oldest, newest time.Time
	for _, tx := range ledger {
		if !tx.IsExpense() || tx.Category != category {
			continue
		}
		at := tx.OccurredAt()
		if count == 0 {
			oldest, newest = at, at
		} else {
			if at.Before(oldest) {
				oldest = at
			}
			if at.After(newest) {
				newest = at
			}
		}
		count++
	}
	if count == 0 {
		return 0
	}
	days := newest.Sub(oldest).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(count) / days
}
