package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/utility"
)

// maxHistoryRange bounds a single price history query.
const maxHistoryRange = 31 * 24 * time.Hour

func (s *Server) handleCurrentRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := s.coord.CurrentRate(ctx)
	if err != nil {
		if errors.Is(err, utility.ErrNoSchedule) {
			writeJSONError(w, "no rate schedule loaded", http.StatusServiceUnavailable)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get current rate", slog.Any("error", err))
		writeJSONError(w, "failed to get current rate", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prices, err := s.coord.Forecast(ctx)
	if err != nil {
		if errors.Is(err, utility.ErrNoSchedule) {
			writeJSONError(w, "no rate schedule loaded", http.StatusServiceUnavailable)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get forecast", slog.Any("error", err))
		writeJSONError(w, "failed to get forecast", http.StatusInternalServerError)
		return
	}
	writeJSON(w, prices)
}

// handleRateHistory returns the recorded prices between start (inclusive)
// and end (exclusive). Both accept RFC 3339 timestamps or dates; the
// default is the current day in the household's timezone, which is also
// where bare dates are interpreted.
func (s *Server) handleRateHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.coord.LocalNow(ctx)
	start, err := parseTimeParam(r.URL.Query().Get("start"), truncateDay(now))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseTimeParam(r.URL.Query().Get("end"), truncateDay(start).AddDate(0, 0, 1))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		writeJSONError(w, "end must be after start", http.StatusBadRequest)
		return
	}
	if end.Sub(start) > maxHistoryRange {
		writeJSONError(w, "range too large", http.StatusBadRequest)
		return
	}

	prices, err := s.coord.PriceHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get price history", slog.Any("error", err))
		writeJSONError(w, "failed to get price history", http.StatusInternalServerError)
		return
	}
	if prices == nil {
		writeJSON(w, []struct{}{})
		return
	}
	writeJSON(w, prices)
}

func parseTimeParam(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, def.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", v)
	}
	return t, nil
}
