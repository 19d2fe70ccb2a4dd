package types

import (
	"fmt"
	"time"
)

// Tier names assigned to priced periods.
const (
	TierPeak         = "peak"
	TierPartialPeak  = "partial_peak"
	TierOffPeak      = "off_peak"
	TierSuperOffPeak = "super_off_peak"
)

// Season names.
const (
	SeasonSummer    = "summer"
	SeasonWinter    = "winter"
	SeasonSpring    = "spring"
	SeasonFall      = "fall"
	SeasonYearRound = "year_round"
)

// Warning codes attached to schedules or prices.
const (
	WarningNonTOU        = "non_tou"
	WarningNoneEffective = "none_effective"
	WarningSeasonGap     = "season_gap"
	WarningSeasonOverlap = "season_overlap"
)

// MinutesPerDay is the span covered by a season's slot table.
const MinutesPerDay = 24 * 60

// Tier is a named pricing period.
type Tier struct {
	Name          string  `json:"name"`
	DollarsPerKWH float64 `json:"dollarsPerKWH"`
}

// Season assigns tiers to the slots of a day for a range of months.
// StartMonth and EndMonth are inclusive; a StartMonth after EndMonth wraps
// around the end of the year (e.g. October through May).
type Season struct {
	Name       string     `json:"name"`
	StartMonth time.Month `json:"startMonth"`
	EndMonth   time.Month `json:"endMonth"`
	Weekday    []string   `json:"weekday"`
	Weekend    []string   `json:"weekend"`
}

// Contains reports whether the month falls inside the season.
func (s Season) Contains(m time.Month) bool {
	if s.StartMonth <= s.EndMonth {
		return m >= s.StartMonth && m <= s.EndMonth
	}
	return m >= s.StartMonth || m <= s.EndMonth
}

// ParseWarning is a non-fatal problem found while building or resolving a
// schedule. The schedule remains usable.
type ParseWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (w ParseWarning) String() string {
	return w.Code + ": " + w.Message
}

// Schedule is the canonical representation of a utility's rate plan. A
// Schedule is never modified after it is built; refreshes build a new one.
type Schedule struct {
	Utility       string         `json:"utility"`
	RatePlan      string         `json:"ratePlan"`
	Label         string         `json:"label"`
	Description   string         `json:"description,omitempty"`
	EffectiveDate time.Time      `json:"effectiveDate,omitzero"`
	Tiers         []Tier         `json:"tiers"`
	Seasons       []Season       `json:"seasons"`
	Location      *time.Location `json:"-"`
	Warnings      []ParseWarning `json:"warnings,omitempty"`
}

// Tier returns the tier with the given name.
func (s *Schedule) Tier(name string) (Tier, bool) {
	for _, t := range s.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// TOU reports whether the schedule has more than one priced tier.
func (s *Schedule) TOU() bool {
	return len(s.Tiers) > 1
}

// Validate checks the structural invariants of the schedule. It returns an
// error when the schedule cannot be resolved and warnings for conditions
// the resolver tolerates (season gaps and overlaps).
func (s *Schedule) Validate() ([]ParseWarning, error) {
	if len(s.Tiers) == 0 {
		return nil, fmt.Errorf("schedule has no tiers")
	}
	if len(s.Seasons) == 0 {
		return nil, fmt.Errorf("schedule has no seasons")
	}
	names := make(map[string]struct{}, len(s.Tiers))
	for _, t := range s.Tiers {
		if _, ok := names[t.Name]; ok {
			return nil, fmt.Errorf("duplicate tier %q", t.Name)
		}
		if t.DollarsPerKWH < 0 {
			return nil, fmt.Errorf("tier %q has negative price", t.Name)
		}
		names[t.Name] = struct{}{}
	}
	for _, season := range s.Seasons {
		if season.StartMonth < time.January || season.StartMonth > time.December ||
			season.EndMonth < time.January || season.EndMonth > time.December {
			return nil, fmt.Errorf("season %q has invalid month range", season.Name)
		}
		for _, table := range [][]string{season.Weekday, season.Weekend} {
			if len(table) == 0 || MinutesPerDay%len(table) != 0 {
				return nil, fmt.Errorf("season %q has %d slots, want a divisor of %d", season.Name, len(table), MinutesPerDay)
			}
			for i, name := range table {
				if _, ok := names[name]; !ok {
					return nil, fmt.Errorf("season %q slot %d references unknown tier %q", season.Name, i, name)
				}
			}
		}
	}

	var warnings []ParseWarning
	for m := time.January; m <= time.December; m++ {
		var matches []string
		for _, season := range s.Seasons {
			if season.Contains(m) {
				matches = append(matches, season.Name)
			}
		}
		switch {
		case len(matches) == 0:
			warnings = append(warnings, ParseWarning{
				Code:    WarningSeasonGap,
				Message: fmt.Sprintf("no season covers %s", m),
			})
		case len(matches) > 1:
			warnings = append(warnings, ParseWarning{
				Code:    WarningSeasonOverlap,
				Message: fmt.Sprintf("%s is covered by %v, using %s", m, matches, matches[0]),
			})
		}
	}
	return warnings, nil
}
