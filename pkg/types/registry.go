package types

import (
	"strings"
)

// Energy impact levels for DER types.
const (
	EnergyImpactLow      = "low"
	EnergyImpactMedium   = "medium"
	EnergyImpactHigh     = "high"
	EnergyImpactVeryHigh = "very_high"
)

// VPP reward types.
const (
	RewardPerKWH      = "per_kwh"
	RewardPerEvent    = "per_event"
	RewardFlatMonthly = "flat_monthly"
	RewardFlatYearly  = "flat_yearly"
)

// Wildcard matches any state, utility, manufacturer or model.
const Wildcard = "*"

// PowerRange is the typical power draw of a DER type.
type PowerRange struct {
	MinW int `json:"min"`
	MaxW int `json:"max"`
}

// DEREntry describes a distributed energy resource type and how it maps to
// discovered device categories.
type DEREntry struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Description         string         `json:"description,omitempty"`
	HADomain            string         `json:"ha_domain"`
	HADeviceCategory    DeviceCategory `json:"ha_device_category"`
	ControllableActions []string       `json:"controllable_actions,omitempty"`
	EnergyImpact        string         `json:"energy_impact,omitempty"`
	TypicalPower        *PowerRange    `json:"typical_power_w,omitempty"`
	CommonManufacturers []string       `json:"common_manufacturers,omitempty"`
	VPPCompatible       bool           `json:"vpp_compatible"`
	DemandResponseRole  string         `json:"demand_response_role,omitempty"`
}

// VPPReward describes how a program pays participants.
type VPPReward struct {
	Type        string   `json:"type"`
	Value       *float64 `json:"value,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Description string   `json:"description,omitempty"`
}

// VPPRegion is a geographic area served by a program.
type VPPRegion struct {
	State     string   `json:"state"`
	Utilities []string `json:"utilities,omitempty"`
}

// Serves reports whether the region covers the given state and utility.
// Empty state or utility values are treated as unknown and do not filter.
func (r VPPRegion) Serves(state, utility string) bool {
	allUtilities := len(r.Utilities) == 0 || (len(r.Utilities) == 1 && r.Utilities[0] == Wildcard)
	if r.State != Wildcard && state != "" && !strings.EqualFold(r.State, state) {
		return false
	}
	if allUtilities || utility == "" {
		return true
	}
	for _, u := range r.Utilities {
		if strings.EqualFold(u, utility) {
			return true
		}
	}
	return false
}

// MatchMode selects how a supported device rule compares models.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchPrefix   MatchMode = "prefix"
	MatchWildcard MatchMode = "wildcard"
)

// SupportedDevice is a single eligibility rule of a VPP program.
type SupportedDevice struct {
	DERType      string    `json:"der_type"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Match        MatchMode `json:"match,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// Mode returns the rule's match mode, inferring it from the model pattern
// when it was not given explicitly.
func (sd SupportedDevice) Mode() MatchMode {
	if sd.Match != "" {
		return sd.Match
	}
	switch {
	case sd.Model == "" || sd.Model == Wildcard:
		return MatchWildcard
	case strings.HasSuffix(sd.Model, Wildcard):
		return MatchPrefix
	default:
		return MatchExact
	}
}

// VPPEntry is a virtual power plant program.
type VPPEntry struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Provider         string            `json:"provider"`
	Description      string            `json:"description,omitempty"`
	Regions          []VPPRegion       `json:"regions"`
	EnrollmentURL    string            `json:"enrollment_url,omitempty"`
	ManagementURL    string            `json:"management_url,omitempty"`
	SupportedDevices []SupportedDevice `json:"supported_devices"`
	Reward           VPPReward         `json:"reward"`
	Active           *bool             `json:"active,omitempty"`
}

// IsActive reports whether the program is accepting participants. Programs
// without an explicit flag are active.
func (v VPPEntry) IsActive() bool {
	return v.Active == nil || *v.Active
}

// ServesRegion reports whether any of the program's regions covers the
// household.
func (v VPPEntry) ServesRegion(region Region) bool {
	for _, r := range v.Regions {
		if r.Serves(region.State, region.Utility) {
			return true
		}
	}
	return false
}

// SupportsDERType reports whether any rule targets the DER type.
func (v VPPEntry) SupportsDERType(derType string) bool {
	for _, sd := range v.SupportedDevices {
		if sd.DERType == derType {
			return true
		}
	}
	return false
}
