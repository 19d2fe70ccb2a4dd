package types

import (
	"fmt"
	"strings"
	"time"
)

// SiteIDNone is the site used when running for a single household.
const SiteIDNone = "none"

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

// DefaultTimezone is used when a site has not configured one.
const DefaultTimezone = "America/Los_Angeles"

// Settings represents the per-household configuration stored in the
// database. Flags provide the defaults for a site without stored settings.
type Settings struct {
	// Utility as identified by the rate database (EIA id) and its display
	// name, which is also what VPP regions list.
	UtilityID   string `json:"utilityID"`
	UtilityName string `json:"utilityName"`

	// Rate plan label (the rate database page id) and display name.
	RatePlanLabel string `json:"ratePlanLabel"`
	RatePlanName  string `json:"ratePlanName"`

	// Two-letter state code of the household.
	State string `json:"state"`

	// IANA timezone the tariff's hours are expressed in.
	Timezone string `json:"timezone"`
}

// Region returns the household region used for program eligibility.
func (s Settings) Region() Region {
	return Region{State: s.State, Utility: s.UtilityName}
}

// Location loads the settings' timezone, falling back to DefaultTimezone.
func (s Settings) Location() (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load location %s: %w", tz, err)
	}
	return loc, nil
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	var migrated bool
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.Timezone == "" {
				s.Timezone = DefaultTimezone
				migrated = true
			}
		case 2:
			// version 2: states are stored as upper-case codes
			if up := strings.ToUpper(strings.TrimSpace(s.State)); up != s.State {
				s.State = up
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
