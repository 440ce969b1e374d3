package domain

import "time"

// Forecast is the projected total expense for the next period.
type Forecast struct {
	Amount     float64       `json:"amount"`
	Confidence float64       `json:"confidence"` // 0-100
	Range      ForecastRange `json:"range"`
	Trend      Trend         `json:"trend"`
}

// ForecastRange bounds the forecast. The bounds are fixed multiples of
// the point estimate, not statistically derived.
type ForecastRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// CashFlowProjection is a deterministic day-by-day forward balance
// rollup built from recurring rules and subscription billing dates.
type CashFlowProjection struct {
	StartBalance float64        `json:"startBalance"`
	Days         []ProjectedDay `json:"days"`
}

// ProjectedDay is one day of the projection horizon.
type ProjectedDay struct {
	Date    time.Time       `json:"date"`
	Balance float64         `json:"balance"` // running balance at end of day
	Inflow  float64         `json:"inflow"`
	Outflow float64         `json:"outflow"`
	Events  []CashFlowEvent `json:"events,omitempty"`
}

// Event sources for cash-flow projections.
const (
	EventSourceRecurring    = "recurring"
	EventSourceSubscription = "subscription"
)

// CashFlowEvent is one itemized inflow or outflow on a projected day.
type CashFlowEvent struct {
	Source string  `json:"source"`
	Name   string  `json:"name"`
	Amount float64 `json:"amount"` // signed
}
