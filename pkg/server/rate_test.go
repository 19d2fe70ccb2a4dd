package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/communalgrid/communalgrid/pkg/coordinator"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/communalgrid/communalgrid/pkg/utility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCurrentRate(t *testing.T) {
	env := newTestEnv(t)

	t.Run("NoSchedule", func(t *testing.T) {
		w := env.get(t, "/api/rate/current")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "no rate schedule loaded", decodeError(t, w))

		w = env.get(t, "/api/rate/forecast")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	env.load(t)

	t.Run("Current", func(t *testing.T) {
		w := env.get(t, "/api/rate/current")
		require.Equal(t, http.StatusOK, w.Code)

		var status coordinator.RateStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.InDelta(t, 0.15, status.DollarsPerKWH, 1e-9)
		assert.Equal(t, types.TierOffPeak, status.Tier)
		assert.Equal(t, utility.TOUProviderName, status.Provider)
		assert.Equal(t, "E-1 Flat", status.RatePlan)
		assert.Nil(t, status.NextChange, "a flat rate never changes")
		require.Len(t, status.Warnings, 1)
		assert.Equal(t, types.WarningNonTOU, status.Warnings[0].Code)
	})

	t.Run("Forecast", func(t *testing.T) {
		w := env.get(t, "/api/rate/forecast")
		require.Equal(t, http.StatusOK, w.Code)

		var prices []types.Price
		require.NoError(t, json.NewDecoder(w.Body).Decode(&prices))
		require.Len(t, prices, 48)
		for _, p := range prices {
			assert.Equal(t, time.Hour, p.TSEnd.Sub(p.TSStart))
		}
	})
}

func TestHandleRateHistory(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	t.Run("Today", func(t *testing.T) {
		w := env.get(t, "/api/rate/history")
		require.Equal(t, http.StatusOK, w.Code)

		var prices []types.Price
		require.NoError(t, json.NewDecoder(w.Body).Decode(&prices))
		assert.NotEmpty(t, prices, "the refresh records today's prices")
		for i := 1; i < len(prices); i++ {
			assert.True(t, prices[i].TSStart.After(prices[i-1].TSStart))
		}
	})

	t.Run("TodayIsHouseholdDay", func(t *testing.T) {
		la, err := time.LoadLocation("America/Los_Angeles")
		require.NoError(t, err)
		now := time.Now().In(la)
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, la)
		next := midnight.AddDate(0, 0, 1)

		w := env.get(t, "/api/rate/history")
		require.Equal(t, http.StatusOK, w.Code)
		var prices []types.Price
		require.NoError(t, json.NewDecoder(w.Body).Decode(&prices))
		require.Len(t, prices, int(next.Sub(midnight)/time.Hour))
		assert.True(t, prices[0].TSStart.Equal(midnight), "got %s", prices[0].TSStart)
	})

	t.Run("Empty", func(t *testing.T) {
		w := env.get(t, "/api/rate/history?start=2020-01-01&end=2020-01-02")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("RFC3339", func(t *testing.T) {
		w := env.get(t, "/api/rate/history?start=2020-01-01T00:00:00Z&end=2020-01-01T06:00:00Z")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("InvalidStart", func(t *testing.T) {
		w := env.get(t, "/api/rate/history?start=yesterday")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, `invalid time "yesterday"`, decodeError(t, w))
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		w := env.get(t, "/api/rate/history?start=2024-01-02&end=2024-01-01")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("RangeTooLarge", func(t *testing.T) {
		w := env.get(t, "/api/rate/history?start=2024-01-01&end=2024-03-01")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "range too large", decodeError(t, w))
	})
}
