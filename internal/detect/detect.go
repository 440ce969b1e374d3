// Package detect implements the anomaly detectors that scan a ledger
// snapshot for suspicious spending. Each detector independently
// inspects a bounded window of recent transactions and yields zero or
// more scored anomalies; the report aggregator merges and ranks them.
package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detection thresholds. The values are load-bearing for behavioral
// compatibility; change them only in lockstep with consumers that
// assert on scores and severities.
const (
	// Scan windows
	amountScanWindow = 50
	timeScanWindow   = 50
	groupScanWindow  = 100

	// Amount outlier
	zFlag          = 3.0
	zHigh          = 4.0
	zCritical      = 5.0
	fraudMeanRatio = 10.0
	fraudMaxRatio  = 2.0

	// Time-of-day outlier
	lateNightStart   = 23
	lateNightEnd     = 5
	smallHoursStart  = 2
	minHourSamples   = 5
	typicalLatePct   = 20.0
	fraudAmountRatio = 2.0

	// Frequency burst
	burstMinCount      = 5
	burstRateRatio     = 3.0
	burstHighCount     = 7
	burstCriticalCount = 10
	burstFraudCount    = 10
	burstWindowHours   = 24

	// Duplicate charge
	duplicateWindow = 5 * time.Minute
	duplicateScore  = 90

	// Behavioral shift
	recentWindowDays   = 7
	baselineWindowDays = 23
	shiftMinRecent     = 5
	shiftMinBaseline   = 10
	shiftFlagPct       = 50.0
	shiftCriticalPct   = 100.0
	shiftFraudPct      = 200.0
)

// Input is the shared read-only input to every detector. Ledger is
// sorted newest first; build it with NewInput so detectors can rely
// on the ordering.
type Input struct {
	Ledger   []domain.Transaction
	Profiles map[string]domain.CategoryProfile
	Now      time.Time
}

// NewInput copies and sorts the ledger (newest first) so each call
// owns its slice; concurrent analysis runs must not share state.
func NewInput(ledger []domain.Transaction, profiles map[string]domain.CategoryProfile, now time.Time) *Input {
	sorted := make([]domain.Transaction, len(ledger))
	copy(sorted, ledger)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt().After(sorted[j].OccurredAt())
	})
	return &Input{
		Ledger:   sorted,
		Profiles: profiles,
		Now:      now,
	}
}

// Detector yields scored anomalies from a ledger snapshot.
type Detector interface {
	// Type tags the anomalies this detector produces.
	Type() domain.AnomalyType

	// Detect scans the input and returns zero or more anomalies.
	// Insufficient data never produces an error, only an empty result.
	Detect(in *Input) []domain.Anomaly
}

// All returns the full detector set in evaluation order.
func All() []Detector {
	return []Detector{
		&AmountDetector{},
		&TimeDetector{},
		&FrequencyDetector{},
		&DuplicateDetector{},
		&BehaviorDetector{},
	}
}

// anomalyID builds the stable composite identifier used for
// report-level deduplication.
func anomalyID(typ domain.AnomalyType, txIDs ...string) string {
	id := string(typ)
	for _, txID := range txIDs {
		id += "-" + txID
	}
	return id
}

// recentExpenses returns up to n most recent expense transactions.
// The input ledger is newest first, so the result is too.
func recentExpenses(ledger []domain.Transaction, n int) []domain.Transaction {
	out := make([]domain.Transaction, 0, n)
	for _, tx := range ledger {
		if !tx.IsExpense() {
			continue
		}
		out = append(out, tx)
		if len(out) == n {
			break
		}
	}
	return out
}

func clampScore(score float64) int {
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return int(score + 0.5)
}

func pluralize(n int, singular string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %ss", n, singular)
}
