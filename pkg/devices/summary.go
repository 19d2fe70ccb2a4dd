package devices

import (
	"github.com/communalgrid/communalgrid/pkg/types"
)

// Summarize counts devices per category and totals their power and
// estimated annual energy. Every category is present in Counts.
func Summarize(devices []types.CategorizedDevice) types.DeviceSummary {
	s := types.DeviceSummary{
		Counts: make(map[types.DeviceCategory]int, len(types.DeviceCategories)),
		Total:  len(devices),
	}
	for _, c := range types.DeviceCategories {
		s.Counts[c] = 0
	}
	for _, d := range devices {
		s.Counts[d.Category]++
		if d.CurrentPowerW != nil {
			s.TotalPowerW += *d.CurrentPowerW
		}
		if d.EstimatedAnnualKWh != nil {
			s.TotalAnnualKWh += *d.EstimatedAnnualKWh
		}
	}
	return s
}

// ByCategory groups devices by category, preserving input order.
func ByCategory(devices []types.CategorizedDevice) map[types.DeviceCategory][]types.CategorizedDevice {
	out := make(map[types.DeviceCategory][]types.CategorizedDevice)
	for _, d := range devices {
		out[d.Category] = append(out[d.Category], d)
	}
	return out
}
