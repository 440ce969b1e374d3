// Package patterns computes period-over-period spending comparisons,
// per-category seasonality and trend classifications, and derived
// insight records from a ledger snapshot.
package patterns

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
)

// Classification thresholds, shared with consumers that bucket on the
// exact boundaries.
const (
	trendPct         = 10.0
	categoryTrendPct = 15.0
	seasonalHighCV   = 50.0
	seasonalLowCV    = 25.0
	yearOverYearPct  = 20.0

	minCategoryTxns   = 3
	minCategoryMonths = 2
	trendWindowMonths = 3
)

// monthKey is a sortable "2006-01" month bucket.
const monthKey = "2006-01"

// monthLabel is the human-readable month form used in outputs.
const monthLabel = "Jan 2006"

// Analyze runs the full historical analysis over a ledger snapshot.
// The reference clock anchors "this week" and "this month"; the same
// ledger and clock always produce the same report.
func Analyze(ledger []domain.Transaction, now time.Time) domain.PatternReport {
	r := domain.PatternReport{
		WeekOverWeek:     WeekOverWeek(ledger, now),
		MonthOverMonth:   MonthOverMonth(ledger, now),
		CategoryPatterns: CategoryPatterns(ledger),
	}
	r.Insights = Insights(r.MonthOverMonth, r.CategoryPatterns)
	return r
}

// WeekOverWeek compares expense totals from the start of the current
// calendar week (weeks start Sunday) through the reference time
// against the same elapsed span of the preceding week.
func WeekOverWeek(ledger []domain.Transaction, now time.Time) domain.HistoricalPattern {
	weekStart := startOfWeek(now)
	prevStart := weekStart.AddDate(0, 0, -7)
	elapsed := now.Sub(weekStart)

	current := sumExpenses(ledger, weekStart, now)
	previous := sumExpenses(ledger, prevStart, prevStart.Add(elapsed))

	change := percentChange(current, previous)
	return domain.HistoricalPattern{
		Period:        domain.PeriodWeek,
		CurrentTotal:  current,
		PreviousTotal: previous,
		Trend:         classifyTrend(change, trendPct),
		PercentChange: change,
	}
}

// MonthOverMonth compares the current calendar month to date against
// the previous full calendar month, and against the same month one
// year prior when that month has any expense data.
func MonthOverMonth(ledger []domain.Transaction, now time.Time) domain.HistoricalPattern {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prevStart := monthStart.AddDate(0, -1, 0)
	yearAgoStart := monthStart.AddDate(-1, 0, 0)
	yearAgoEnd := yearAgoStart.AddDate(0, 1, 0)

	current := sumExpenses(ledger, monthStart, now)
	previous := sumExpenses(ledger, prevStart, monthStart)
	yearAgo := sumExpenses(ledger, yearAgoStart, yearAgoEnd)

	change := percentChange(current, previous)
	return domain.HistoricalPattern{
		Period:        domain.PeriodMonth,
		CurrentTotal:  current,
		PreviousTotal: previous,
		YearAgoTotal:  yearAgo,
		HasYearAgo:    yearAgo > 0,
		Trend:         classifyTrend(change, trendPct),
		PercentChange: change,
	}
}

// CategoryPatterns classifies each category's monthly spending shape.
// Categories with under minCategoryTxns expense transactions or data
// in fewer than minCategoryMonths distinct months are omitted.
func CategoryPatterns(ledger []domain.Transaction) []domain.CategoryPattern {
	type bucket struct {
		count  int
		months map[string]float64
	}
	buckets := make(map[string]*bucket)
	for _, tx := range ledger {
		if !tx.IsExpense() {
			continue
		}
		b := buckets[tx.Category]
		if b == nil {
			b = &bucket{months: make(map[string]float64)}
			buckets[tx.Category] = b
		}
		b.count++
		b.months[tx.Date.Format(monthKey)] += tx.Magnitude()
	}

	categories := make([]string, 0, len(buckets))
	for category, b := range buckets {
		if b.count >= minCategoryTxns && len(b.months) >= minCategoryMonths {
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)

	patterns := make([]domain.CategoryPattern, 0, len(categories))
	for _, category := range categories {
		patterns = append(patterns, categoryPattern(category, buckets[category].months))
	}
	return patterns
}

func categoryPattern(category string, months map[string]float64) domain.CategoryPattern {
	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total float64
	peak := domain.MonthTotal{Amount: -1}
	lowest := domain.MonthTotal{}
	amounts := make([]float64, 0, len(keys))
	for i, k := range keys {
		amount := months[k]
		total += amount
		amounts = append(amounts, amount)
		label := relabelMonth(k)
		if amount > peak.Amount {
			peak = domain.MonthTotal{Month: label, Amount: amount}
		}
		if i == 0 || amount < lowest.Amount {
			lowest = domain.MonthTotal{Month: label, Amount: amount}
		}
	}

	// Trend: mean of the newest window against the mean of the full
	// window before it. With fewer than trendWindowMonths prior months
	// the previous average defaults to the recent one, which reads as
	// stable.
	recentAvg := windowMean(amounts, len(amounts)-trendWindowMonths, len(amounts))
	previousAvg := recentAvg
	if len(amounts) >= 2*trendWindowMonths {
		previousAvg = windowMean(amounts, len(amounts)-2*trendWindowMonths, len(amounts)-trendWindowMonths)
	}
	change := percentChange(recentAvg, previousAvg)

	cv := profile.CoefficientOfVariation(amounts)
	seasonality := domain.SeasonalityNone
	switch {
	case cv > seasonalHighCV:
		seasonality = domain.SeasonalityHigh
	case cv > seasonalLowCV:
		seasonality = domain.SeasonalityLow
	}

	return domain.CategoryPattern{
		Category:       category,
		MonthlyAverage: total / float64(len(keys)),
		PeakMonth:      peak,
		LowestMonth:    lowest,
		Trend:          classifyTrend(change, categoryTrendPct),
		Seasonality:    seasonality,
	}
}

// Insights derives natural-language-ready observations from the
// month-over-month comparison and the category classifications.
func Insights(monthly domain.HistoricalPattern, categories []domain.CategoryPattern) []domain.Insight {
	var insights []domain.Insight

	for _, c := range categories {
		if c.Seasonality != domain.SeasonalityHigh {
			continue
		}
		insights = append(insights, domain.Insight{
			Kind:     domain.InsightSeasonality,
			Category: c.Category,
			Month:    c.PeakMonth.Month,
			Amount:   c.PeakMonth.Amount,
			Message: fmt.Sprintf("Your %s spending swings sharply month to month, peaking in %s at %.2f",
				c.Category, c.PeakMonth.Month, c.PeakMonth.Amount),
		})
	}

	if monthly.HasYearAgo && monthly.YearAgoTotal > 0 {
		yoy := percentChange(monthly.CurrentTotal, monthly.YearAgoTotal)
		if yoy > yearOverYearPct || yoy < -yearOverYearPct {
			direction := "more"
			if yoy < 0 {
				direction = "less"
			}
			insights = append(insights, domain.Insight{
				Kind:          domain.InsightYearOverYear,
				PercentChange: yoy,
				Message: fmt.Sprintf("You are spending %.0f%% %s this month than the same month last year",
					abs(yoy), direction),
			})
		}
	}

	if top := topIncreasing(categories); top != nil {
		insights = append(insights, domain.Insight{
			Kind:     domain.InsightTrend,
			Category: top.Category,
			Amount:   top.MonthlyAverage,
			Message: fmt.Sprintf("%s is your fastest-growing spending category, averaging %.2f per month",
				top.Category, top.MonthlyAverage),
		})
	}

	for _, c := range categories {
		if c.Seasonality == domain.SeasonalityNone && c.Trend == domain.TrendStable {
			insights = append(insights, domain.Insight{
				Kind:     domain.InsightHabit,
				Category: c.Category,
				Amount:   c.MonthlyAverage,
				Message: fmt.Sprintf("%s spending is a steady habit at about %.2f per month",
					c.Category, c.MonthlyAverage),
			})
			break
		}
	}

	return insights
}

// topIncreasing picks the increasing-trend category with the highest
// monthly average, or nil when none are increasing.
func topIncreasing(categories []domain.CategoryPattern) *domain.CategoryPattern {
	var top *domain.CategoryPattern
	for i := range categories {
		c := &categories[i]
		if c.Trend != domain.TrendIncreasing {
			continue
		}
		if top == nil || c.MonthlyAverage > top.MonthlyAverage {
			top = c
		}
	}
	return top
}

// startOfWeek returns midnight of the Sunday on or before t.
func startOfWeek(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.AddDate(0, 0, -int(midnight.Weekday()))
}

// sumExpenses totals expense magnitudes for transactions in [from, to).
func sumExpenses(ledger []domain.Transaction, from, to time.Time) float64 {
	var total float64
	for _, tx := range ledger {
		if !tx.IsExpense() {
			continue
		}
		at := tx.OccurredAt()
		if at.Before(from) || !at.Before(to) {
			continue
		}
		total += tx.Magnitude()
	}
	return total
}

// percentChange guards the zero-baseline case: no previous spend means
// 0% when current is also zero, otherwise 100%.
func percentChange(current, previous float64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (current - previous) / previous * 100
}

func classifyTrend(change, threshold float64) domain.Trend {
	switch {
	case change > threshold:
		return domain.TrendIncreasing
	case change < -threshold:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

// windowMean averages amounts[from:to), clamping from at 0.
func windowMean(amounts []float64, from, to int) float64 {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return 0
	}
	var sum float64
	for _, v := range amounts[from:to] {
		sum += v
	}
	return sum / float64(to-from)
}

func relabelMonth(key string) string {
	t, err := time.Parse(monthKey, key)
	if err != nil {
		return key
	}
	return t.Format(monthLabel)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
