package domain

// CategoryProfile is the statistical baseline for one spending
// category, rebuilt from scratch on every analysis run. Amount
// statistics are over absolute expense amounts; the standard deviation
// is the population form (divide by n) so z-scores are reproducible.
type CategoryProfile struct {
	Category string  `json:"category"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stdDev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Count    int     `json:"count"`

	// Hours holds the hour-of-day of every timed transaction in the
	// category. Untimed transactions are excluded from this list only.
	Hours []int `json:"hours,omitempty"`
}

// MinProfileSamples is the minimum expense count for a category to get
// a profile. Sparser categories are silently absent from the profile
// map; insufficient evidence is a policy, not an error.
const MinProfileSamples = 3
