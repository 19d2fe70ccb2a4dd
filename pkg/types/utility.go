package types

import (
	"time"
)

// UtilityInfo identifies a utility as listed by the rate database.
type UtilityInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RatePlanInfo provides metadata about a published rate plan.
type RatePlanInfo struct {
	Label         string `json:"label"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	EffectiveDate string `json:"effectiveDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	Source        string `json:"source,omitempty"`
	URI           string `json:"uri,omitempty"`
}

// Price represents the cost of electricity in a time interval as resolved
// from a rate schedule.
type Price struct {
	Provider string    `json:"provider"`
	TSStart  time.Time `json:"tsStart"`
	TSEnd    time.Time `json:"tsEnd"`

	// Tier is the named pricing period (peak, off_peak, ...) active during
	// the interval.
	Tier   string `json:"tier"`
	Season string `json:"season"`

	// Weekend is true when the weekend table was used.
	Weekend bool `json:"weekend"`

	// DollarsPerKWH is the cost of electricity in the time interval.
	DollarsPerKWH float64 `json:"dollarsPerKWH"`

	// Warning is set when the resolution was ambiguous but still produced a
	// usable answer, e.g. the month fell outside every season.
	Warning string `json:"warning,omitempty"`
}

// Region describes the household's location for program eligibility.
type Region struct {
	State   string `json:"state"`
	Utility string `json:"utility"`
}
