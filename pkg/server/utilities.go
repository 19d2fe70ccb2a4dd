package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/communalgrid/communalgrid/pkg/coordinator"
	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/utility"
)

func (s *Server) handleListUtilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state")))
	utilities, err := s.coord.Utilities(ctx, state)
	if err != nil {
		s.writeRateSourceError(w, r, "failed to list utilities", err)
		return
	}
	writeJSON(w, utilities)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plans, err := s.coord.RatePlans(ctx, r.URL.Query().Get("utilityID"))
	if err != nil {
		s.writeRateSourceError(w, r, "failed to list rate plans", err)
		return
	}
	writeJSON(w, plans)
}

func (s *Server) writeRateSourceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	if errors.Is(err, coordinator.ErrNoUtility) {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if errors.Is(err, utility.ErrUnauthorized) {
		// the rate database rejected our key, not the caller's request
		writeJSONError(w, msg, http.StatusBadGateway)
		return
	}
	writeJSONError(w, msg, http.StatusInternalServerError)
}
