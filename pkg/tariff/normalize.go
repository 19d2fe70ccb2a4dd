package tariff

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/types"
)

// Normalize selects the rate structure of doc that is effective at the
// given time and converts it into a Schedule. The schedule's Location is
// taken from at, which should therefore be expressed in the household's
// timezone.
//
// A flat or block-tiered structure yields a single-tier schedule carrying a
// non_tou warning. A *SchemaError is returned when the selected structure
// cannot be interpreted.
func Normalize(ctx context.Context, doc Document, at time.Time) (*types.Schedule, error) {
	if len(doc.Items) == 0 {
		return nil, &SchemaError{Reason: "no rate structures", Err: ErrNoItems}
	}

	item, warnings := selectItem(doc.Items, at)
	l := log.Ctx(ctx).With(
		slog.String("label", item.Label),
		slog.String("utility", item.Utility),
	)

	if err := validateItem(item); err != nil {
		return nil, err
	}

	s := &types.Schedule{
		Utility:     item.Utility,
		RatePlan:    item.Name,
		Label:       item.Label,
		Description: item.Description,
		Location:    at.Location(),
	}
	if s.RatePlan == "" {
		s.RatePlan = item.Label
	}
	if !item.StartDate.IsZero() {
		s.EffectiveDate = item.StartDate.In(at.Location())
	}

	periods := periodPrices(item)
	if !item.TOU() {
		price := 0.0
		if len(periods) > 0 {
			price = periods[0]
		}
		buildFlat(s, price)
		warnings = append(warnings, types.ParseWarning{
			Code:    types.WarningNonTOU,
			Message: fmt.Sprintf("rate plan %q has no time-of-use structure, using a single tier at %g $/kWh", s.RatePlan, price),
		})
	} else {
		tiers, names := assignTiers(periods)
		s.Tiers = tiers
		s.Seasons = buildSeasons(item, names)
	}

	validation, err := s.Validate()
	if err != nil {
		return nil, &SchemaError{Label: item.Label, Reason: "inconsistent schedule", Err: err}
	}
	s.Warnings = append(warnings, validation...)

	for _, w := range s.Warnings {
		l.WarnContext(ctx, "tariff parse warning", slog.String("code", w.Code), slog.String("message", w.Message))
	}
	l.DebugContext(
		ctx,
		"normalized tariff",
		slog.Int("tiers", len(s.Tiers)),
		slog.Int("seasons", len(s.Seasons)),
	)
	return s, nil
}

// effective reports whether the item's date range contains at. The start
// is inclusive and the end exclusive.
func (i Item) effective(at time.Time) bool {
	if !i.StartDate.IsZero() && at.Before(i.StartDate.Time) {
		return false
	}
	if !i.EndDate.IsZero() && !at.Before(i.EndDate.Time) {
		return false
	}
	return true
}

// TOU reports whether the item describes more than one distinct price that
// varies by time.
func (i Item) TOU() bool {
	if len(i.EnergyWeekdaySchedule) == 0 {
		return false
	}
	distinct := make(map[float64]struct{})
	for _, p := range periodPrices(i) {
		distinct[p] = struct{}{}
	}
	return len(distinct) > 1
}

// selectItem picks the item to normalize. Effective items are preferred;
// among them is_default wins, then TOU structures, then the latest start
// date, then document order.
func selectItem(items []Item, at time.Time) (Item, []types.ParseWarning) {
	var warnings []types.ParseWarning
	candidates := make([]Item, 0, len(items))
	for _, item := range items {
		if item.effective(at) {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, items...)
		if len(items) > 1 {
			warnings = append(warnings, types.ParseWarning{
				Code:    types.WarningNoneEffective,
				Message: fmt.Sprintf("none of %d rate structures is effective at %s", len(items), at.Format(time.DateOnly)),
			})
		} else {
			warnings = append(warnings, types.ParseWarning{
				Code:    types.WarningNoneEffective,
				Message: fmt.Sprintf("rate structure is not effective at %s", at.Format(time.DateOnly)),
			})
		}
	}

	slices.SortStableFunc(candidates, func(a, b Item) int {
		if a.IsDefault != b.IsDefault {
			if a.IsDefault {
				return -1
			}
			return 1
		}
		if aTOU, bTOU := a.TOU(), b.TOU(); aTOU != bTOU {
			if aTOU {
				return -1
			}
			return 1
		}
		return b.StartDate.Compare(a.StartDate.Time)
	})
	return candidates[0], warnings
}

// validateItem checks the shape of the schedule matrices and that every
// slot refers to a defined period.
func validateItem(item Item) error {
	if len(item.EnergyWeekdaySchedule) == 0 {
		if len(item.EnergyWeekendSchedule) > 0 {
			return schemaErrorf(item.Label, "weekend schedule without weekday schedule")
		}
		return nil
	}
	for _, m := range []struct {
		name string
		rows [][]int
	}{
		{"weekday", item.EnergyWeekdaySchedule},
		{"weekend", item.EnergyWeekendSchedule},
	} {
		if m.name == "weekend" && len(m.rows) == 0 {
			continue
		}
		if len(m.rows) != 12 {
			return schemaErrorf(item.Label, "%s schedule has %d rows, want 12", m.name, len(m.rows))
		}
		slots := len(m.rows[0])
		if slots == 0 || types.MinutesPerDay%slots != 0 {
			return schemaErrorf(item.Label, "%s schedule has %d slots per day, want a divisor of %d", m.name, slots, types.MinutesPerDay)
		}
		for month, row := range m.rows {
			if len(row) != slots {
				return schemaErrorf(item.Label, "%s schedule %s has %d slots, want %d", m.name, time.Month(month+1), len(row), slots)
			}
			for slot, idx := range row {
				if idx < 0 || idx >= len(item.EnergyRateStructure) {
					return schemaErrorf(item.Label, "%s schedule %s slot %d references period %d of %d", m.name, time.Month(month+1), slot, idx, len(item.EnergyRateStructure))
				}
			}
		}
	}
	return nil
}

// periodPrices returns the price of each period from its first block.
func periodPrices(item Item) []float64 {
	prices := make([]float64, len(item.EnergyRateStructure))
	for i, blocks := range item.EnergyRateStructure {
		if len(blocks) > 0 {
			prices[i] = blocks[0].Price()
		}
	}
	return prices
}

// tierNames returns the names for n distinct prices ordered from most to
// least expensive.
func tierNames(n int) []string {
	switch n {
	case 0:
		return nil
	case 1:
		return []string{types.TierOffPeak}
	case 2:
		return []string{types.TierPeak, types.TierOffPeak}
	case 3:
		return []string{types.TierPeak, types.TierPartialPeak, types.TierOffPeak}
	}
	names := []string{types.TierPeak, types.TierPartialPeak, types.TierOffPeak}
	for i := 2; i <= n-3; i++ {
		names = append(names, fmt.Sprintf("%s_%d", types.TierOffPeak, i))
	}
	return append(names, types.TierSuperOffPeak)
}

// assignTiers ranks the distinct period prices and names them. It returns
// the tiers from most to least expensive and the tier name of each period.
func assignTiers(periods []float64) ([]types.Tier, []string) {
	distinct := slices.Clone(periods)
	slices.SortFunc(distinct, func(a, b float64) int {
		return cmp.Compare(b, a)
	})
	distinct = slices.Compact(distinct)

	names := tierNames(len(distinct))
	tiers := make([]types.Tier, len(distinct))
	byPrice := make(map[float64]string, len(distinct))
	for i, price := range distinct {
		tiers[i] = types.Tier{Name: names[i], DollarsPerKWH: price}
		byPrice[price] = names[i]
	}

	periodTiers := make([]string, len(periods))
	for i, price := range periods {
		periodTiers[i] = byPrice[price]
	}
	return tiers, periodTiers
}

// buildFlat fills s with a single all-day tier.
func buildFlat(s *types.Schedule, price float64) {
	table := make([]string, 24)
	for i := range table {
		table[i] = types.TierOffPeak
	}
	s.Tiers = []types.Tier{{Name: types.TierOffPeak, DollarsPerKWH: price}}
	s.Seasons = []types.Season{{
		Name:       types.SeasonYearRound,
		StartMonth: time.January,
		EndMonth:   time.December,
		Weekday:    table,
		Weekend:    slices.Clone(table),
	}}
}

// monthTables maps the month's matrix rows to tier names.
func monthTables(item Item, periodTiers []string, month int) (weekday, weekend []string) {
	weekday = make([]string, len(item.EnergyWeekdaySchedule[month]))
	for i, idx := range item.EnergyWeekdaySchedule[month] {
		weekday[i] = periodTiers[idx]
	}
	if len(item.EnergyWeekendSchedule) == 0 {
		return weekday, slices.Clone(weekday)
	}
	weekend = make([]string, len(item.EnergyWeekendSchedule[month]))
	for i, idx := range item.EnergyWeekendSchedule[month] {
		weekend[i] = periodTiers[idx]
	}
	return weekday, weekend
}

// buildSeasons groups consecutive months with identical weekday and weekend
// tables into seasons. Runs may wrap around the end of the year.
func buildSeasons(item Item, periodTiers []string) []types.Season {
	var weekdays, weekends [12][]string
	for m := range 12 {
		weekdays[m], weekends[m] = monthTables(item, periodTiers, m)
	}
	same := func(a, b int) bool {
		return slices.Equal(weekdays[a], weekdays[b]) && slices.Equal(weekends[a], weekends[b])
	}

	// find a month that starts a run so that runs crossing December stay
	// whole
	start := -1
	for m := range 12 {
		if !same(m, (m+11)%12) {
			start = m
			break
		}
	}
	if start < 0 {
		return []types.Season{{
			Name:       types.SeasonYearRound,
			StartMonth: time.January,
			EndMonth:   time.December,
			Weekday:    weekdays[0],
			Weekend:    weekends[0],
		}}
	}

	var seasons []types.Season
	runStart := start
	for i := 1; i <= 12; i++ {
		m := (start + i) % 12
		prev := (m + 11) % 12
		if i < 12 && same(m, prev) {
			continue
		}
		seasons = append(seasons, types.Season{
			StartMonth: time.Month(runStart + 1),
			EndMonth:   time.Month(prev + 1),
			Weekday:    weekdays[runStart],
			Weekend:    weekends[runStart],
		})
		runStart = m
	}

	slices.SortFunc(seasons, func(a, b types.Season) int {
		return cmp.Compare(a.StartMonth, b.StartMonth)
	})
	for i := range seasons {
		seasons[i].Name = seasonName(seasons[i], i)
	}
	return seasons
}

func seasonName(s types.Season, i int) string {
	switch {
	case s.Contains(time.July):
		return types.SeasonSummer
	case s.Contains(time.January):
		return types.SeasonWinter
	case s.Contains(time.April):
		return types.SeasonSpring
	case s.Contains(time.October):
		return types.SeasonFall
	default:
		return fmt.Sprintf("season_%d", i+1)
	}
}
