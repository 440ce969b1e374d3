// Package forecast projects near-term spending from monthly history
// and rolls recurring commitments into a day-by-day balance outlook.
package forecast

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/profile"
)

// Trend multipliers and range bounds are fixed for compatibility with
// consumers that reproduce the arithmetic.
const (
	upliftIncreasing = 1.1
	upliftDecreasing = 0.9

	rangeLow  = 0.85
	rangeHigh = 1.15

	historyMonths = 3
)

// NextPeriod estimates the coming period's total expense from the last
// three calendar months, nudged by the month-over-month trend. An
// empty ledger yields a zero forecast with zero confidence.
func NextPeriod(ledger []domain.Transaction, now time.Time) domain.Forecast {
	totals := monthlyTotals(ledger, now, historyMonths)
	trend := patterns.MonthOverMonth(ledger, now).Trend

	base := profile.Mean(totals)
	if base == 0 {
		return domain.Forecast{Trend: trend}
	}

	estimate := base
	switch trend {
	case domain.TrendIncreasing:
		estimate *= upliftIncreasing
	case domain.TrendDecreasing:
		estimate *= upliftDecreasing
	}

	confidence := 100 - profile.CoefficientOfVariation(totals)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	return domain.Forecast{
		Amount:     estimate,
		Confidence: confidence,
		Range: domain.ForecastRange{
			Min: estimate * rangeLow,
			Max: estimate * rangeHigh,
		},
		Trend: trend,
	}
}

// monthlyTotals returns expense totals for the n calendar months
// ending with the month of now, oldest first.
func monthlyTotals(ledger []domain.Transaction, now time.Time, n int) []float64 {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	totals := make([]float64, n)
	for _, tx := range ledger {
		if !tx.IsExpense() {
			continue
		}
		for i := 0; i < n; i++ {
			from := monthStart.AddDate(0, i-n+1, 0)
			to := from.AddDate(0, 1, 0)
			at := tx.OccurredAt()
			if !at.Before(from) && at.Before(to) {
				totals[i] += tx.Magnitude()
				break
			}
		}
	}
	return totals
}

// Project rolls the balance forward day by day, applying every active
// recurring rule that matches the day and every subscription billing
// on it. Day one is the day after the reference date.
func Project(balance float64, rules []domain.RecurringRule, subs []domain.Subscription, now time.Time, horizonDays int) domain.CashFlowProjection {
	projection := domain.CashFlowProjection{
		StartBalance: balance,
		Days:         make([]domain.ProjectedDay, 0, horizonDays),
	}

	running := balance
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for i := 1; i <= horizonDays; i++ {
		day := start.AddDate(0, 0, i)
		pd := domain.ProjectedDay{Date: day}

		for _, rule := range rules {
			if !rule.Active || !ruleOccursOn(rule, day) {
				continue
			}
			applyEvent(&pd, domain.CashFlowEvent{
				Source: domain.EventSourceRecurring,
				Name:   rule.Name,
				Amount: rule.Amount,
			})
		}
		for _, sub := range subs {
			if !sub.Active || !sameDay(sub.NextBilling, day) {
				continue
			}
			applyEvent(&pd, domain.CashFlowEvent{
				Source: domain.EventSourceSubscription,
				Name:   sub.Name,
				Amount: -sub.Amount,
			})
		}

		running += pd.Inflow - pd.Outflow
		pd.Balance = running
		projection.Days = append(projection.Days, pd)
	}

	return projection
}

func applyEvent(pd *domain.ProjectedDay, ev domain.CashFlowEvent) {
	pd.Events = append(pd.Events, ev)
	if ev.Amount >= 0 {
		pd.Inflow += ev.Amount
	} else {
		pd.Outflow += -ev.Amount
	}
}

// ruleOccursOn matches a rule's schedule against a calendar day.
// Weekly rules fire on the start date's weekday, monthly on its
// day-of-month, yearly on its month and day.
func ruleOccursOn(rule domain.RecurringRule, day time.Time) bool {
	switch rule.Frequency {
	case domain.FrequencyDaily:
		return true
	case domain.FrequencyWeekly:
		return day.Weekday() == rule.StartDate.Weekday()
	case domain.FrequencyMonthly:
		return day.Day() == rule.StartDate.Day()
	case domain.FrequencyYearly:
		return day.Month() == rule.StartDate.Month() && day.Day() == rule.StartDate.Day()
	default:
		return false
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
