// Package profile builds per-category statistical baselines from the
// expense side of a ledger snapshot.
package profile

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Build computes a CategoryProfile for every category with at least
// domain.MinProfileSamples expense transactions. Categories below the
// threshold are absent from the result. Pure function of its input.
func Build(ledger []domain.Transaction) map[string]domain.CategoryProfile {
	groups := make(map[string][]domain.Transaction)
	for _, tx := range ledger {
		if !tx.IsExpense() {
			continue
		}
		groups[tx.Category] = append(groups[tx.Category], tx)
	}

	profiles := make(map[string]domain.CategoryProfile, len(groups))
	for category, txs := range groups {
		if len(txs) < domain.MinProfileSamples {
			continue
		}

		amounts := make([]float64, len(txs))
		min := math.Inf(1)
		max := math.Inf(-1)
		var hours []int
		for i, tx := range txs {
			amt := tx.Magnitude()
			amounts[i] = amt
			if amt < min {
				min = amt
			}
			if amt > max {
				max = amt
			}
			if tx.HasTime {
				hours = append(hours, tx.Hour)
			}
		}

		mean := Mean(amounts)
		profiles[category] = domain.CategoryProfile{
			Category: category,
			Mean:     mean,
			StdDev:   PopStdDev(amounts, mean),
			Min:      min,
			Max:      max,
			Count:    len(txs),
			Hours:    hours,
		}
	}

	return profiles
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopStdDev returns the population standard deviation (divide by n,
// not n-1). The population form keeps z-scores reproducible across
// reimplementations.
func PopStdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// CoefficientOfVariation returns stddev/mean*100, 0 when mean is 0.
func CoefficientOfVariation(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return PopStdDev(values, mean) / mean * 100
}
