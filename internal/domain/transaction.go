package domain

import (
	"math"
	"time"
)

// Transaction is a single signed money movement in the ledger.
// Negative amounts are expenses, positive amounts are income.
type Transaction struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Category string  `json:"category"`

	// Date is the calendar day of the transaction, normalized to
	// midnight UTC. Time of day, when known, lives in Hour/Minute.
	Date    time.Time `json:"date"`
	HasTime bool      `json:"hasTime"`
	Hour    int       `json:"hour,omitempty"`
	Minute  int       `json:"minute,omitempty"`

	Description string `json:"description,omitempty"`
}

// IsExpense reports whether the transaction is an expense.
func (t *Transaction) IsExpense() bool {
	return t.Amount < 0
}

// Magnitude returns the absolute amount.
func (t *Transaction) Magnitude() float64 {
	return math.Abs(t.Amount)
}

// OccurredAt combines the calendar day with the time of day.
// Transactions without a recorded time resolve to midnight.
func (t *Transaction) OccurredAt() time.Time {
	if !t.HasTime {
		return t.Date
	}
	return time.Date(t.Date.Year(), t.Date.Month(), t.Date.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
}

// Snapshot is the read-only input to an analysis run: the full ledger
// plus the account state needed for projections. The engine never
// mutates a snapshot and never persists anything derived from it.
type Snapshot struct {
	Transactions  []Transaction   `json:"transactions"`
	Balance       float64         `json:"balance"`
	Limits        []CategoryLimit `json:"limits,omitempty"`
	Goals         []Goal          `json:"goals,omitempty"`
	Recurring     []RecurringRule `json:"recurring,omitempty"`
	Subscriptions []Subscription  `json:"subscriptions,omitempty"`
}

// CategoryLimit is a per-category spending cap.
type CategoryLimit struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// Goal is a savings target.
type Goal struct {
	Name     string    `json:"name"`
	Target   float64   `json:"target"`
	Current  float64   `json:"current"`
	Deadline time.Time `json:"deadline"`
}

// Frequency of a recurring rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// RecurringRule is a scheduled inflow or outflow (salary, rent).
// StartDate anchors weekly/monthly/yearly occurrence matching.
type RecurringRule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Amount    float64   `json:"amount"` // signed, negative = outflow
	Frequency Frequency `json:"frequency"`
	StartDate time.Time `json:"startDate"`
	Active    bool      `json:"active"`
}

// Subscription is a billing commitment with a known next charge date.
type Subscription struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Amount      float64   `json:"amount"` // charge size, positive
	NextBilling time.Time `json:"nextBilling"`
	Active      bool      `json:"active"`
}
