package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleUpdate(t *testing.T) {
	post := func(env *testEnv) (*httptest.ResponseRecorder, updateResponse) {
		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		w := httptest.NewRecorder()
		env.srv.setupHandler().ServeHTTP(w, req)
		var resp updateResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return w, resp
	}

	t.Run("Success", func(t *testing.T) {
		env := newTestEnv(t)
		w, resp := post(env)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "success", resp.Status)
		assert.Empty(t, resp.Errors)
		require.NotNil(t, resp.Rate)
		assert.InDelta(t, 0.15, resp.Rate.DollarsPerKWH, 1e-9)
		assert.Equal(t, 2, resp.Devices)

		rec, err := env.db.GetTariff(t.Context(), "none")
		require.NoError(t, err)
		assert.Equal(t, "flat-label", rec.Label)
	})

	t.Run("ScanFails", func(t *testing.T) {
		env := newTestEnv(t)
		env.scanner.err = errors.New("hass offline")
		w, resp := post(env)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "partial", resp.Status)
		require.Len(t, resp.Errors, 1)
		assert.Contains(t, resp.Errors[0], "hass offline")
		assert.NotNil(t, resp.Rate)
		assert.Equal(t, 0, resp.Devices)
	})

	t.Run("NothingLoaded", func(t *testing.T) {
		env := newTestEnv(t)
		env.rates.err = errors.New("openei down")
		env.scanner.err = errors.New("hass offline")
		w, resp := post(env)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "failed", resp.Status)
		assert.Len(t, resp.Errors, 2)
		assert.Nil(t, resp.Rate)
	})

	t.Run("RequiresAuth", func(t *testing.T) {
		env := newTestEnv(t)
		env.srv.bypassAuth = false
		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		w := httptest.NewRecorder()
		env.srv.setupHandler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
