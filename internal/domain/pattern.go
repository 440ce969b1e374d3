package domain

// Period tags for period-over-period comparisons.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Trend classifies the direction of a period-over-period change.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Seasonality classifies how unevenly a category spends across months.
type Seasonality string

const (
	SeasonalityNone Seasonality = "none"
	SeasonalityLow  Seasonality = "low"
	SeasonalityHigh Seasonality = "high"
)

// HistoricalPattern compares total expense in the current period
// against the immediately preceding one, and for monthly patterns
// against the same month one year prior.
type HistoricalPattern struct {
	Period        Period  `json:"period"`
	CurrentTotal  float64 `json:"currentTotal"`
	PreviousTotal float64 `json:"previousTotal"`
	YearAgoTotal  float64 `json:"yearAgoTotal,omitempty"`
	HasYearAgo    bool    `json:"hasYearAgo,omitempty"`
	Trend         Trend   `json:"trend"`
	PercentChange float64 `json:"percentChange"`
}

// MonthTotal pairs a month label ("Jan 2026") with its expense total.
type MonthTotal struct {
	Month  string  `json:"month"`
	Amount float64 `json:"amount"`
}

// CategoryPattern summarizes one category's monthly spending shape.
type CategoryPattern struct {
	Category       string      `json:"category"`
	MonthlyAverage float64     `json:"monthlyAverage"`
	PeakMonth      MonthTotal  `json:"peakMonth"`
	LowestMonth    MonthTotal  `json:"lowestMonth"`
	Trend          Trend       `json:"trend"`
	Seasonality    Seasonality `json:"seasonality"`
}

// InsightKind identifies what a pattern insight is about.
type InsightKind string

const (
	InsightSeasonality  InsightKind = "seasonality"
	InsightYearOverYear InsightKind = "year_over_year"
	InsightTrend        InsightKind = "trend"
	InsightHabit        InsightKind = "habit"
)

// Insight is a natural-language-ready pattern observation. Message is
// a default English rendering; the structured fields carry the same
// facts for templating by the presentation layer.
type Insight struct {
	Kind          InsightKind `json:"kind"`
	Category      string      `json:"category,omitempty"`
	Month         string      `json:"month,omitempty"`
	Amount        float64     `json:"amount,omitempty"`
	PercentChange float64     `json:"percentChange,omitempty"`
	Message       string      `json:"message"`
}

// PatternReport bundles the outputs of a historical analysis run.
type PatternReport struct {
	WeekOverWeek     HistoricalPattern `json:"weekOverWeek"`
	MonthOverMonth   HistoricalPattern `json:"monthOverMonth"`
	CategoryPatterns []CategoryPattern `json:"categoryPatterns,omitempty"`
	Insights         []Insight         `json:"insights,omitempty"`
}
