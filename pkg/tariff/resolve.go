package tariff

import (
	"time"

	"github.com/communalgrid/communalgrid/pkg/types"
)

// nextChangeHorizon bounds how far ahead NextChange looks for a different
// tier. A week plus a day covers every weekday/weekend combination.
const nextChangeHorizon = 8 * 24 * time.Hour

// Resolve returns the tier and price active at t. t is converted into the
// schedule's Location first. The returned price spans the slot containing
// t; a slot starting at midnight belongs to the day it starts.
//
// Resolve never fails for a schedule produced by Normalize. A month not
// covered by any season falls back to the first season and the returned
// price carries a season_gap warning.
func Resolve(s *types.Schedule, t time.Time) types.Price {
	if s.Location != nil {
		t = t.In(s.Location)
	}
	if len(s.Seasons) == 0 {
		return types.Price{
			TSStart: t,
			TSEnd:   t,
			Tier:    types.TierOffPeak,
			Warning: types.WarningNonTOU,
		}
	}

	season, ok := seasonFor(s, t.Month())
	p := types.Price{
		Season: season.Name,
	}
	if !ok {
		p.Warning = types.WarningSeasonGap
	}

	table := season.Weekday
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		table = season.Weekend
		p.Weekend = true
	}

	slotMinutes := types.MinutesPerDay / len(table)
	slot := (t.Hour()*60 + t.Minute()) / slotMinutes
	p.TSStart, p.TSEnd = slotBounds(t, slot, slotMinutes)

	p.Tier = table[slot]
	if tier, ok := s.Tier(p.Tier); ok {
		p.DollarsPerKWH = tier.DollarsPerKWH
	}
	return p
}

// slotBounds returns the wall-clock bounds of the slot containing t. Across
// a daylight saving transition a wall time may not exist or may occur twice;
// the bounds are then measured from t so that start <= t < end always holds.
func slotBounds(t time.Time, slot, slotMinutes int) (time.Time, time.Time) {
	y, m, d := t.Date()
	length := time.Duration(slotMinutes) * time.Minute
	start := time.Date(y, m, d, 0, slot*slotMinutes, 0, 0, t.Location())
	if start.After(t) {
		into := time.Duration((t.Hour()*60+t.Minute())%slotMinutes)*time.Minute +
			time.Duration(t.Second())*time.Second +
			time.Duration(t.Nanosecond())
		start = t.Add(-into)
	}
	end := time.Date(y, m, d, 0, (slot+1)*slotMinutes, 0, 0, t.Location())
	if !end.After(t) {
		end = start.Add(length)
	}
	return start, end
}

// seasonFor returns the first season containing the month. When none does
// it returns the first season and false.
func seasonFor(s *types.Schedule, m time.Month) (types.Season, bool) {
	for _, season := range s.Seasons {
		if season.Contains(m) {
			return season, true
		}
	}
	return s.Seasons[0], false
}

// NextChange returns the start of the next slot after t whose tier differs
// from the tier active at t. It returns false if the tier does not change
// within the next eight days, which is always the case for a single-tier
// schedule.
func NextChange(s *types.Schedule, t time.Time) (time.Time, bool) {
	if len(s.Tiers) < 2 {
		return time.Time{}, false
	}
	current := Resolve(s, t)
	limit := t.Add(nextChangeHorizon)
	cursor := current.TSEnd
	for cursor.Before(limit) {
		p := Resolve(s, cursor)
		if p.Tier != current.Tier {
			return p.TSStart, true
		}
		if !p.TSEnd.After(cursor) {
			break
		}
		cursor = p.TSEnd
	}
	return time.Time{}, false
}

// Window returns the hourly prices covering [start, end). Each price is
// resolved at the top of its hour.
func Window(s *types.Schedule, start, end time.Time) []types.Price {
	var prices []types.Price
	for cur := start.Truncate(time.Hour); cur.Before(end); cur = cur.Add(time.Hour) {
		p := Resolve(s, cur)
		p.TSStart = cur
		p.TSEnd = cur.Add(time.Hour)
		prices = append(prices, p)
	}
	return prices
}
