package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/communalgrid/communalgrid/pkg/coordinator"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleDevices(t *testing.T) {
	env := newTestEnv(t)

	t.Run("BeforeScan", func(t *testing.T) {
		w := env.get(t, "/api/devices")
		require.Equal(t, http.StatusOK, w.Code)

		var report coordinator.DeviceReport
		require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
		assert.NotNil(t, report.Devices)
		assert.Empty(t, report.Devices)
		assert.Equal(t, 0, report.Summary.Total)
	})

	env.load(t)

	t.Run("AfterScan", func(t *testing.T) {
		w := env.get(t, "/api/devices")
		require.Equal(t, http.StatusOK, w.Code)

		var report coordinator.DeviceReport
		require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
		require.Len(t, report.Devices, 2)
		assert.Equal(t, 2, report.Summary.Total)
		assert.Equal(t, 1, report.Summary.Counts[types.CategorySmartLight])
		assert.InDelta(t, 42.0, report.Summary.TotalPowerW, 1e-9)
		assert.False(t, report.ScannedAt.IsZero())
	})

	t.Run("Category", func(t *testing.T) {
		w := env.get(t, "/api/devices?category=smart_plug")
		require.Equal(t, http.StatusOK, w.Code)

		var report coordinator.DeviceReport
		require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
		require.Len(t, report.Devices, 1)
		assert.Equal(t, "switch.kp115", report.Devices[0].EntityID)
	})
}

func TestHandleMatches(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	w := env.get(t, "/api/vpp/matches")
	require.Equal(t, http.StatusOK, w.Code)

	var report coordinator.MatchReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.Equal(t, "CA", report.Region.State)
	assert.Equal(t, 2, report.Devices)
	assert.Equal(t, 1, report.Unmatched)

	var ids []string
	for _, p := range report.Programs {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, "ohmconnect")
}

func TestHandleRegistry(t *testing.T) {
	env := newTestEnv(t)

	t.Run("AllDERs", func(t *testing.T) {
		w := env.get(t, "/api/registry/der")
		require.Equal(t, http.StatusOK, w.Code)
		var ders []types.DEREntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&ders))
		assert.Len(t, ders, len(env.coord.Registry().DERs()))
	})

	t.Run("DERByID", func(t *testing.T) {
		w := env.get(t, "/api/registry/der?id=smart_plug")
		require.Equal(t, http.StatusOK, w.Code)
		var der types.DEREntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&der))
		assert.Equal(t, types.CategorySmartPlug, der.HADeviceCategory)

		w = env.get(t, "/api/registry/der?id=flux_capacitor")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("DERsByCategory", func(t *testing.T) {
		w := env.get(t, "/api/registry/der?category=ev_charger,smart_plug")
		require.Equal(t, http.StatusOK, w.Code)
		var ders []types.DEREntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&ders))
		require.Len(t, ders, 2)
		assert.Equal(t, "ev_charger", ders[0].ID)
		assert.Equal(t, "smart_plug", ders[1].ID)
	})

	t.Run("VPPCompatible", func(t *testing.T) {
		w := env.get(t, "/api/registry/der?vppCompatible=true")
		require.Equal(t, http.StatusOK, w.Code)
		var ders []types.DEREntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&ders))
		require.NotEmpty(t, ders)
		for _, d := range ders {
			assert.True(t, d.VPPCompatible, d.ID)
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		w := env.get(t, "/api/registry/der?category=toaster")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("VPPsByRegion", func(t *testing.T) {
		w := env.get(t, "/api/registry/vpp?state=tx")
		require.Equal(t, http.StatusOK, w.Code)
		var vpps []types.VPPEntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&vpps))
		var ids []string
		for _, v := range vpps {
			ids = append(ids, v.ID)
		}
		assert.Contains(t, ids, "ohmconnect")
		assert.NotContains(t, ids, "rheem_econet_demand_response")
	})

	t.Run("VPPsByDERType", func(t *testing.T) {
		w := env.get(t, "/api/registry/vpp?derType=heat_pump_water_heater")
		require.Equal(t, http.StatusOK, w.Code)
		var vpps []types.VPPEntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&vpps))
		for _, v := range vpps {
			assert.True(t, v.SupportsDERType("heat_pump_water_heater"), v.ID)
		}
	})

	t.Run("VPPByID", func(t *testing.T) {
		w := env.get(t, "/api/registry/vpp?id=ohmconnect")
		require.Equal(t, http.StatusOK, w.Code)
		var v types.VPPEntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
		assert.Equal(t, "OhmConnect", v.Name)

		w = env.get(t, "/api/registry/vpp?id=missing")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
