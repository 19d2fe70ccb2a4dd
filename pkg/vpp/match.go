package vpp

import (
	"context"
	"log/slog"
	"strings"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/types"
)

// Match returns the programs the household is eligible for. Programs that
// are inactive or do not serve region are skipped, as are programs none of
// the devices satisfy. A device takes the DER type of the first DER entry
// for its category and is evaluated against the rules for that type; it
// may match any number of programs.
func Match(
	ctx context.Context,
	devices []types.CategorizedDevice,
	ders []types.DEREntry,
	vpps []types.VPPEntry,
	region types.Region,
) []types.MatchResult {
	derTypes := make(map[types.DeviceCategory]string, len(ders))
	for _, d := range ders {
		if _, ok := derTypes[d.HADeviceCategory]; !ok {
			derTypes[d.HADeviceCategory] = d.ID
		}
	}

	results := []types.MatchResult{}
	for _, v := range vpps {
		if !v.IsActive() || !v.ServesRegion(region) {
			continue
		}
		res := types.MatchResult{
			ID:            v.ID,
			Name:          v.Name,
			Provider:      v.Provider,
			Description:   v.Description,
			EnrollmentURL: v.EnrollmentURL,
			ManagementURL: v.ManagementURL,
			Reward:        v.Reward,
		}
		for _, d := range devices {
			derType, ok := derTypes[d.Category]
			if !ok {
				continue
			}
			rule, ok := matchingRule(v.SupportedDevices, derType, d)
			if !ok {
				continue
			}
			res.Devices = append(res.Devices, types.MatchedDevice{
				CategorizedDevice: d,
				DERType:           derType,
				Notes:             rule.Notes,
			})
			if d.CurrentPowerW != nil {
				res.TotalPowerW += *d.CurrentPowerW
			}
			if d.EstimatedAnnualKWh != nil {
				res.TotalAnnualKWh += *d.EstimatedAnnualKWh
			}
		}
		if len(res.Devices) == 0 {
			continue
		}
		res.DeviceCount = len(res.Devices)
		res.Eligible = true
		results = append(results, res)
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"matched vpp programs",
		slog.String("state", region.State),
		slog.String("utility", region.Utility),
		slog.Int("devices", len(devices)),
		slog.Int("programs", len(results)),
	)
	return results
}

// matchingRule returns the first rule for derType the device satisfies.
func matchingRule(rules []types.SupportedDevice, derType string, d types.CategorizedDevice) (types.SupportedDevice, bool) {
	for _, rule := range rules {
		if rule.DERType == derType && RuleMatches(rule, d.Manufacturer, d.Model) {
			return rule, true
		}
	}
	return types.SupportedDevice{}, false
}

// RuleMatches reports whether a device with the given manufacturer and
// model satisfies the rule. DER types are not compared. Comparisons ignore
// case; a manufacturer of "*" in the rule matches any device manufacturer
// and a rule without a manufacturer matches nothing.
func RuleMatches(rule types.SupportedDevice, manufacturer, model string) bool {
	ruleManufacturer := strings.TrimSpace(rule.Manufacturer)
	switch {
	case ruleManufacturer == "":
		return false
	case ruleManufacturer != types.Wildcard &&
		!strings.EqualFold(ruleManufacturer, strings.TrimSpace(manufacturer)):
		return false
	}
	switch rule.Mode() {
	case types.MatchExact:
		return model != "" && strings.EqualFold(strings.TrimSpace(rule.Model), strings.TrimSpace(model))
	case types.MatchPrefix:
		prefix := strings.ToLower(strings.TrimSuffix(rule.Model, types.Wildcard))
		return model != "" && strings.HasPrefix(strings.ToLower(model), prefix)
	case types.MatchWildcard:
		return true
	default:
		return false
	}
}

// Unmatched counts the devices that appear in none of the results.
func Unmatched(devices []types.CategorizedDevice, results []types.MatchResult) int {
	matched := make(map[string]struct{})
	for _, r := range results {
		for _, d := range r.Devices {
			matched[d.EntityID] = struct{}{}
		}
	}
	var n int
	for _, d := range devices {
		if _, ok := matched[d.EntityID]; !ok {
			n++
		}
	}
	return n
}
