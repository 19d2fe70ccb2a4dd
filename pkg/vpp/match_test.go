package vpp

import (
	"context"
	"testing"

	"github.com/communalgrid/communalgrid/pkg/devices"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watts(w float64) *float64 {
	return &w
}

var testDERs = []types.DEREntry{
	{ID: "smart_thermostat", Name: "Smart Thermostat", HADomain: "climate", HADeviceCategory: types.CategoryThermostat, VPPCompatible: true},
	{ID: "smart_plug", Name: "Smart Plug", HADomain: "switch", HADeviceCategory: types.CategorySmartPlug, VPPCompatible: true},
	{ID: "plug_load", Name: "Plug Load", HADomain: "switch", HADeviceCategory: types.CategorySmartPlug},
	{ID: "heat_pump_water_heater", Name: "HPWH", HADomain: "water_heater", HADeviceCategory: types.CategoryWaterHeater, VPPCompatible: true},
	{ID: "ev_charger", Name: "EV Charger", HADomain: "switch", HADeviceCategory: types.CategoryEVCharger, VPPCompatible: true},
}

func classify(t *testing.T, raw ...types.RawDevice) []types.CategorizedDevice {
	t.Helper()
	out := devices.Classify(context.Background(), raw)
	require.Len(t, out, len(raw))
	return out
}

func plug(entityID, manufacturer, model string, power *float64) types.RawDevice {
	return types.RawDevice{
		EntityID:      entityID,
		Domain:        "switch",
		DeviceClass:   "outlet",
		Manufacturer:  manufacturer,
		Model:         model,
		CurrentPowerW: power,
	}
}

func TestRuleMatches(t *testing.T) {
	exact := types.SupportedDevice{DERType: "smart_plug", Manufacturer: "TP-Link", Model: "KP115", Match: types.MatchExact}
	prefix := types.SupportedDevice{DERType: "heat_pump_water_heater", Manufacturer: "Rheem", Model: "EcoNet*", Match: types.MatchPrefix}
	wildcard := types.SupportedDevice{DERType: "smart_plug", Manufacturer: "TP-Link", Model: "*", Match: types.MatchWildcard}
	anyone := types.SupportedDevice{DERType: "smart_plug", Manufacturer: "*", Model: "*"}

	t.Run("exact", func(t *testing.T) {
		assert.True(t, RuleMatches(exact, "TP-Link", "KP115"))
		assert.True(t, RuleMatches(exact, "tp-link", "kp115"))
		assert.False(t, RuleMatches(exact, "TP-Link", "KP125M"))
		assert.False(t, RuleMatches(exact, "TP-Link", "KP1150"))
		assert.False(t, RuleMatches(exact, "Kasa", "KP115"))
		assert.False(t, RuleMatches(exact, "", "KP115"))
		assert.False(t, RuleMatches(exact, "TP-Link", ""))
	})

	t.Run("prefix", func(t *testing.T) {
		assert.True(t, RuleMatches(prefix, "Rheem", "EcoNet WH-50"))
		assert.True(t, RuleMatches(prefix, "RHEEM", "econet wh-50"))
		assert.False(t, RuleMatches(prefix, "Rheem", "Performance WH-40"))
		assert.False(t, RuleMatches(prefix, "A. O. Smith", "EcoNet WH-50"))
		assert.False(t, RuleMatches(prefix, "Rheem", ""))
	})

	t.Run("wildcard", func(t *testing.T) {
		assert.True(t, RuleMatches(wildcard, "TP-Link", "KP125M"))
		assert.True(t, RuleMatches(wildcard, "TP-Link", ""))
		assert.False(t, RuleMatches(wildcard, "Shelly", "Plug S"))
		assert.True(t, RuleMatches(anyone, "Shelly", "Plug S"))
		assert.True(t, RuleMatches(anyone, "", ""))
	})

	t.Run("manufacturer required", func(t *testing.T) {
		rule := types.SupportedDevice{DERType: "smart_plug", Model: "KP115", Match: types.MatchExact}
		assert.False(t, RuleMatches(rule, "TP-Link", "KP115"))
		assert.False(t, RuleMatches(rule, "Kasa", "KP115"))
		assert.False(t, RuleMatches(rule, "", "KP115"))
	})

	t.Run("inferred mode", func(t *testing.T) {
		inferred := types.SupportedDevice{DERType: "heat_pump_water_heater", Manufacturer: "Rheem", Model: "EcoNet*"}
		assert.True(t, RuleMatches(inferred, "Rheem", "EcoNet WH-50"))
	})

	t.Run("strictness is monotonic", func(t *testing.T) {
		cases := [][2]string{
			{"TP-Link", "KP115"}, {"tp-link", "kp115"}, {"TP-Link", "KP125M"},
			{"TP-Link", "KP115 v2"}, {"Shelly", "KP115"}, {"TP-Link", ""},
		}
		prefixRule := types.SupportedDevice{Manufacturer: "TP-Link", Model: "KP115*", Match: types.MatchPrefix}
		for _, c := range cases {
			if RuleMatches(exact, c[0], c[1]) {
				assert.True(t, RuleMatches(prefixRule, c[0], c[1]), "%v", c)
			}
			if RuleMatches(prefixRule, c[0], c[1]) {
				assert.True(t, RuleMatches(wildcard, c[0], c[1]), "%v", c)
			}
		}
		assert.True(t, RuleMatches(wildcard, "TP-Link", "KP125M"))
		assert.False(t, RuleMatches(exact, "TP-Link", "KP125M"))
	})
}

func TestMatchSmartPlugScenario(t *testing.T) {
	vpps := []types.VPPEntry{{
		ID:       "plug_program",
		Name:     "Plug Program",
		Provider: "Utility",
		Regions:  []types.VPPRegion{{State: "CA"}},
		SupportedDevices: []types.SupportedDevice{
			{DERType: "smart_plug", Manufacturer: "TP-Link", Model: "KP115", Match: types.MatchExact, Notes: "metering plug"},
		},
		Reward:        types.VPPReward{Type: types.RewardPerEvent},
		EnrollmentURL: "https://example.com/enroll",
	}}
	devs := classify(t,
		plug("switch.kp115", "TP-Link", "KP115", watts(42)),
		plug("switch.kp125m", "TP-Link", "KP125M", watts(10)),
	)

	results := Match(context.Background(), devs, testDERs, vpps, types.Region{State: "CA", Utility: "Pacific Gas & Electric"})
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.Eligible)
	assert.Equal(t, "plug_program", r.ID)
	assert.Equal(t, "https://example.com/enroll", r.EnrollmentURL)
	require.Len(t, r.Devices, 1)
	assert.Equal(t, "switch.kp115", r.Devices[0].EntityID)
	assert.Equal(t, "smart_plug", r.Devices[0].DERType)
	assert.Equal(t, "metering plug", r.Devices[0].Notes)
	assert.Equal(t, 1, r.DeviceCount)
	assert.InDelta(t, 42.0, r.TotalPowerW, 1e-9)
	assert.InDelta(t, 367.92, r.TotalAnnualKWh, 1e-9)

	assert.Equal(t, 1, Unmatched(devs, results))
}

func TestMatchWaterHeaterPrefixScenario(t *testing.T) {
	vpps := []types.VPPEntry{{
		ID:       "hpwh",
		Name:     "Water Heater Program",
		Provider: "Rheem",
		Regions:  []types.VPPRegion{{State: types.Wildcard, Utilities: []string{types.Wildcard}}},
		SupportedDevices: []types.SupportedDevice{
			{DERType: "heat_pump_water_heater", Manufacturer: "Rheem", Model: "EcoNet*", Match: types.MatchPrefix},
		},
		Reward: types.VPPReward{Type: types.RewardFlatYearly},
	}}
	devs := classify(t,
		types.RawDevice{EntityID: "water_heater.garage", Domain: "water_heater", Manufacturer: "Rheem", Model: "EcoNet WH-50"},
		types.RawDevice{EntityID: "water_heater.basement", Domain: "water_heater", Manufacturer: "Rheem", Model: "Performance WH-40"},
	)
	results := Match(context.Background(), devs, testDERs, vpps, types.Region{})
	require.Len(t, results, 1)
	require.Len(t, results[0].Devices, 1)
	assert.Equal(t, "water_heater.garage", results[0].Devices[0].EntityID)
	assert.Equal(t, 0.0, results[0].TotalPowerW)
}

func TestMatchAggregates(t *testing.T) {
	vpps := []types.VPPEntry{{
		ID:       "thermostats",
		Name:     "Thermostats",
		Provider: "p",
		Regions:  []types.VPPRegion{{State: types.Wildcard}},
		SupportedDevices: []types.SupportedDevice{
			{DERType: "smart_thermostat", Manufacturer: types.Wildcard, Model: types.Wildcard},
			{DERType: "smart_thermostat", Manufacturer: "ecobee", Model: "*", Notes: "second rule"},
		},
	}}
	devs := classify(t,
		types.RawDevice{EntityID: "climate.a", Domain: "climate", Manufacturer: "ecobee", CurrentPowerW: watts(1200)},
		types.RawDevice{EntityID: "climate.b", Domain: "climate", Manufacturer: "Google Nest"},
		types.RawDevice{EntityID: "climate.c", Domain: "climate", Manufacturer: "Honeywell", CurrentPowerW: watts(300.5)},
	)
	results := Match(context.Background(), devs, testDERs, vpps, types.Region{State: "NY"})
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, 3, r.DeviceCount, "devices without power are still counted")
	assert.Len(t, r.Devices, r.DeviceCount)
	assert.Empty(t, r.Devices[0].Notes, "first matching rule supplies notes")

	var power, kwh float64
	for _, d := range r.Devices {
		if d.CurrentPowerW != nil {
			power += *d.CurrentPowerW
		}
		if d.EstimatedAnnualKWh != nil {
			kwh += *d.EstimatedAnnualKWh
		}
	}
	assert.InDelta(t, power, r.TotalPowerW, 1e-9)
	assert.InDelta(t, kwh, r.TotalAnnualKWh, 1e-9)
	assert.InDelta(t, 1500.5, r.TotalPowerW, 1e-9)
	assert.Equal(t, 0, Unmatched(devs, results))
}

func TestMatchNoExclusivity(t *testing.T) {
	vpps := []types.VPPEntry{
		{ID: "a", Name: "A", Provider: "p", Regions: []types.VPPRegion{{State: "CA"}}, SupportedDevices: []types.SupportedDevice{{DERType: "smart_plug", Manufacturer: "*", Model: "*"}}},
		{ID: "b", Name: "B", Provider: "p", Regions: []types.VPPRegion{{State: "CA"}}, SupportedDevices: []types.SupportedDevice{{DERType: "smart_plug", Manufacturer: "Shelly", Model: "*"}}},
	}
	devs := classify(t, plug("switch.shelly", "Shelly", "Plug S", watts(5)))
	results := Match(context.Background(), devs, testDERs, vpps, types.Region{State: "CA"})
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, "switch.shelly", results[1].Devices[0].EntityID)
}

func TestMatchFiltering(t *testing.T) {
	inactive := false
	rule := []types.SupportedDevice{{DERType: "smart_thermostat", Manufacturer: "*", Model: "*"}}
	vpps := []types.VPPEntry{
		{ID: "ca_pge", Name: "x", Provider: "p", Regions: []types.VPPRegion{{State: "CA", Utilities: []string{"Pacific Gas & Electric"}}}, SupportedDevices: rule},
		{ID: "tx", Name: "x", Provider: "p", Regions: []types.VPPRegion{{State: "TX", Utilities: []string{"*"}}}, SupportedDevices: rule},
		{ID: "national_xcel", Name: "x", Provider: "p", Regions: []types.VPPRegion{{State: "*", Utilities: []string{"Xcel Energy"}}}, SupportedDevices: rule},
		{ID: "closed", Name: "x", Provider: "p", Regions: []types.VPPRegion{{State: "*"}}, SupportedDevices: rule, Active: &inactive},
		{ID: "plugs_only", Name: "x", Provider: "p", Regions: []types.VPPRegion{{State: "*"}}, SupportedDevices: []types.SupportedDevice{{DERType: "smart_plug", Manufacturer: "*", Model: "*"}}},
	}
	devs := classify(t, types.RawDevice{EntityID: "climate.a", Domain: "climate"})

	ids := func(results []types.MatchResult) []string {
		out := []string{}
		for _, r := range results {
			out = append(out, r.ID)
		}
		return out
	}

	assert.Equal(t, []string{"ca_pge"}, ids(Match(context.Background(), devs, testDERs, vpps, types.Region{State: "CA", Utility: "pacific gas & electric"})))
	assert.Empty(t, ids(Match(context.Background(), devs, testDERs, vpps, types.Region{State: "CA", Utility: "Southern California Edison"})))
	assert.Equal(t, []string{"tx"}, ids(Match(context.Background(), devs, testDERs, vpps, types.Region{State: "tx", Utility: "Oncor"})))
	assert.Equal(t, []string{"national_xcel"}, ids(Match(context.Background(), devs, testDERs, vpps, types.Region{State: "CO", Utility: "Xcel Energy"})))
	assert.Equal(t, []string{"ca_pge", "tx", "national_xcel"}, ids(Match(context.Background(), devs, testDERs, vpps, types.Region{})))
}

func TestMatchEmpty(t *testing.T) {
	reg, err := DefaultRegistry(context.Background())
	require.NoError(t, err)

	results := reg.Match(context.Background(), nil, types.Region{State: "CA"})
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 0, Unmatched(nil, results))
}

func TestMatchCategoryWithoutDER(t *testing.T) {
	vpps := []types.VPPEntry{{
		ID: "lights", Name: "x", Provider: "p",
		Regions:          []types.VPPRegion{{State: "*"}},
		SupportedDevices: []types.SupportedDevice{{DERType: "smart_light", Manufacturer: "*", Model: "*"}},
	}}
	devs := classify(t, types.RawDevice{EntityID: "light.kitchen", Domain: "light"})
	assert.Empty(t, Match(context.Background(), devs, testDERs, vpps, types.Region{}))
	assert.Equal(t, 1, Unmatched(devs, nil))
}

func TestMatchUsesFirstDERForCategory(t *testing.T) {
	vpps := []types.VPPEntry{{
		ID: "plug_load", Name: "x", Provider: "p",
		Regions:          []types.VPPRegion{{State: "*"}},
		SupportedDevices: []types.SupportedDevice{{DERType: "plug_load", Manufacturer: "*", Model: "*"}},
	}}
	devs := classify(t, plug("switch.a", "TP-Link", "KP115", nil))
	assert.Empty(t, Match(context.Background(), devs, testDERs, vpps, types.Region{}))
}

func TestMatchOmitsProgramsWithoutDevices(t *testing.T) {
	vpps := []types.VPPEntry{
		{ID: "thermostats", Name: "x", Provider: "p", Regions: []types.VPPRegion{{State: "*"}}, SupportedDevices: []types.SupportedDevice{{DERType: "smart_thermostat", Manufacturer: "*", Model: "*"}}},
		{ID: "plugs", Name: "x", Provider: "p", Regions: []types.VPPRegion{{State: "*"}}, SupportedDevices: []types.SupportedDevice{{DERType: "smart_plug", Manufacturer: "*", Model: "*"}}},
	}
	devs := classify(t, types.RawDevice{EntityID: "climate.a", Domain: "climate"})

	results := Match(context.Background(), devs, testDERs, vpps, types.Region{})
	require.Len(t, results, 1)
	assert.Equal(t, "thermostats", results[0].ID)
	assert.True(t, results[0].Eligible)
	assert.Equal(t, 1, results[0].DeviceCount)
}
