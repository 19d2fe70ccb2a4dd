package utility

import (
	"context"
	"testing"
	"time"

	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eveningPeakSchedule(t *testing.T) *types.Schedule {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	weekday := make([]string, 24)
	weekend := make([]string, 24)
	for h := range weekday {
		weekday[h] = types.TierOffPeak
		weekend[h] = types.TierOffPeak
		if h >= 16 && h < 21 {
			weekday[h] = types.TierPeak
		}
	}
	return &types.Schedule{
		Label: "example",
		Tiers: []types.Tier{
			{Name: types.TierPeak, DollarsPerKWH: 0.40},
			{Name: types.TierOffPeak, DollarsPerKWH: 0.10},
		},
		Seasons: []types.Season{{
			Name:       types.SeasonYearRound,
			StartMonth: time.January,
			EndMonth:   time.December,
			Weekday:    weekday,
			Weekend:    weekend,
		}},
		Location: loc,
	}
}

func TestTOUUtility(t *testing.T) {
	ctx := context.Background()
	u := NewTOU()

	t.Run("NoSchedule", func(t *testing.T) {
		_, err := u.GetCurrentPrice(ctx)
		assert.ErrorIs(t, err, ErrNoSchedule)
		_, err = u.GetFuturePrices(ctx)
		assert.ErrorIs(t, err, ErrNoSchedule)
		_, _, err = u.NextChange(ctx)
		assert.ErrorIs(t, err, ErrNoSchedule)
	})

	s := eveningPeakSchedule(t)
	assert.Nil(t, u.Swap(s))
	assert.Same(t, s, u.Schedule())

	// Wednesday 17:30 Eastern
	u.now = func() time.Time { return time.Date(2025, time.July, 16, 17, 30, 0, 0, s.Location) }

	t.Run("GetCurrentPrice", func(t *testing.T) {
		p, err := u.GetCurrentPrice(ctx)
		require.NoError(t, err)
		assert.Equal(t, TOUProviderName, p.Provider)
		assert.Equal(t, types.TierPeak, p.Tier)
		assert.Equal(t, 0.40, p.DollarsPerKWH)
		assert.Equal(t, 17, p.TSStart.Hour())
	})

	t.Run("GetFuturePrices", func(t *testing.T) {
		future, err := u.GetFuturePrices(ctx)
		require.NoError(t, err)
		require.Len(t, future, 48)
		assert.Equal(t, types.TierPeak, future[0].Tier)
		assert.Equal(t, types.TierOffPeak, future[4].Tier, "21:00 is off peak")
		for i, p := range future {
			assert.Equal(t, TOUProviderName, p.Provider)
			assert.Equal(t, time.Hour, p.TSEnd.Sub(p.TSStart))
			if i > 0 {
				assert.True(t, p.TSStart.Equal(future[i-1].TSEnd))
			}
		}
	})

	t.Run("GetConfirmedPrices", func(t *testing.T) {
		start := time.Date(2023, 1, 2, 0, 0, 0, 0, s.Location)
		confirmed, err := u.GetConfirmedPrices(ctx, start, start.AddDate(0, 0, 1))
		require.NoError(t, err)
		require.Len(t, confirmed, 24)
		for _, cp := range confirmed {
			h := cp.TSStart.In(s.Location).Hour()
			if h >= 16 && h < 21 {
				assert.Equal(t, 0.40, cp.DollarsPerKWH, "hour %d", h)
			} else {
				assert.Equal(t, 0.10, cp.DollarsPerKWH, "hour %d", h)
			}
		}
	})

	t.Run("NextChange", func(t *testing.T) {
		next, ok, err := u.NextChange(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, time.Date(2025, time.July, 16, 21, 0, 0, 0, s.Location).Equal(next))
	})

	t.Run("Swap", func(t *testing.T) {
		flat := &types.Schedule{
			Tiers: []types.Tier{{Name: types.TierOffPeak, DollarsPerKWH: 0.2}},
			Seasons: []types.Season{{
				Name: types.SeasonYearRound, StartMonth: time.January, EndMonth: time.December,
				Weekday: []string{types.TierOffPeak}, Weekend: []string{types.TierOffPeak},
			}},
		}
		assert.Same(t, s, u.Swap(flat))

		p, err := u.GetCurrentPrice(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.TierOffPeak, p.Tier)
		assert.Equal(t, 0.2, p.DollarsPerKWH)

		_, ok, err := u.NextChange(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
