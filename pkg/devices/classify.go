// Package devices assigns discovered home automation entities to the DER
// categories used for program matching.
package devices

import (
	"context"
	"log/slog"
	"strings"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/types"
)

// SmartPlugManufacturers are manufacturers whose switches are treated as
// smart plugs even when the entity has no outlet device class.
var SmartPlugManufacturers = []string{
	"tp-link",
	"kasa",
	"shelly",
	"lutron",
	"wemo",
	"meross",
	"sonoff",
	"tuya",
	"tasmota",
	"gosund",
	"teckin",
}

// EVChargerKeywords identify EV chargers by name or model.
var EVChargerKeywords = []string{
	"ev_charger",
	"ev charger",
	"evse",
	"wallbox",
	"chargepoint",
	"juicebox",
	"grizzl-e",
	"openevse",
	"emporia",
	"tesla wall connector",
	"peblar",
	"keba",
}

// Rule assigns Category to devices satisfying Match.
type Rule struct {
	Category types.DeviceCategory
	Match    func(types.RawDevice) bool
}

// DefaultRules is the ordered rule list used by Classify. The first
// matching rule wins.
var DefaultRules = []Rule{
	{types.CategoryThermostat, domainIs("climate")},
	{types.CategoryWaterHeater, domainIs("water_heater")},
	{types.CategorySmartLight, domainIs("light")},
	{types.CategorySmartPlug, isSmartPlug},
	{types.CategoryEVCharger, isEVCharger},
	{types.CategoryPowerMonitor, isPowerMonitor},
}

func domainIs(domain string) func(types.RawDevice) bool {
	return func(d types.RawDevice) bool {
		return d.Domain == domain
	}
}

func isSmartPlug(d types.RawDevice) bool {
	if d.Domain != "switch" {
		return false
	}
	if d.DeviceClass == "outlet" {
		return true
	}
	m := strings.ToLower(strings.TrimSpace(d.Manufacturer))
	for _, known := range SmartPlugManufacturers {
		if m == known {
			return true
		}
	}
	return false
}

func isEVCharger(d types.RawDevice) bool {
	name := strings.ToLower(d.Name)
	model := strings.ToLower(d.Model)
	for _, kw := range EVChargerKeywords {
		if strings.Contains(name, kw) || strings.Contains(model, kw) {
			return true
		}
	}
	return false
}

func isPowerMonitor(d types.RawDevice) bool {
	return d.Domain == "sensor" && (d.DeviceClass == "power" || d.DeviceClass == "energy")
}

// Classifier assigns devices to categories with an ordered rule list.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier using rules, or DefaultRules when no
// rules are given.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Classify returns the devices that match a rule, each assigned to exactly
// one category. Entries missing an entity id or domain are logged and
// skipped. Entities sharing a device id are classified once, by the first
// entity that matches a rule. raw is not modified.
func Classify(ctx context.Context, raw []types.RawDevice) []types.CategorizedDevice {
	return NewClassifier().Classify(ctx, raw)
}

// Classify implements the package-level Classify with c's rules.
func (c *Classifier) Classify(ctx context.Context, raw []types.RawDevice) []types.CategorizedDevice {
	out := make([]types.CategorizedDevice, 0, len(raw))
	seen := make(map[string]struct{})
	var skipped, excluded int
	for i, d := range raw {
		if d.EntityID == "" || d.Domain == "" {
			log.Ctx(ctx).WarnContext(
				ctx,
				"skipping malformed device entry",
				slog.Int("index", i),
				slog.String("entityID", d.EntityID),
				slog.String("domain", d.Domain),
			)
			skipped++
			continue
		}
		if d.DeviceID != "" {
			if _, ok := seen[d.DeviceID]; ok {
				continue
			}
		}

		category, ok := c.category(d)
		if !ok {
			excluded++
			continue
		}
		if d.DeviceID != "" {
			seen[d.DeviceID] = struct{}{}
		}
		out = append(out, categorize(d, category))
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"classified devices",
		slog.Int("input", len(raw)),
		slog.Int("classified", len(out)),
		slog.Int("excluded", excluded),
		slog.Int("skipped", skipped),
	)
	return out
}

func (c *Classifier) category(d types.RawDevice) (types.DeviceCategory, bool) {
	for _, r := range c.rules {
		if r.Match(d) {
			return r.Category, true
		}
	}
	return "", false
}

// categorize copies d so the result shares no memory with the input.
func categorize(d types.RawDevice, category types.DeviceCategory) types.CategorizedDevice {
	cd := types.CategorizedDevice{
		RawDevice: d,
		Category:  category,
	}
	if d.CurrentPowerW != nil {
		w := *d.CurrentPowerW
		cd.CurrentPowerW = &w
		kwh := AnnualKWh(w)
		cd.EstimatedAnnualKWh = &kwh
	}
	return cd
}

// AnnualKWh extrapolates a constant draw in watts over a 8760 hour year.
func AnnualKWh(watts float64) float64 {
	return watts * types.HoursPerYear / 1000
}
