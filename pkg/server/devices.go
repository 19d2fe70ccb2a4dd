package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/types"
)

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	report := s.coord.Devices(r.Context())
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := make([]types.CategorizedDevice, 0, len(report.Devices))
		for _, d := range report.Devices {
			if string(d.Category) == category {
				filtered = append(filtered, d)
			}
		}
		report.Devices = filtered
	}
	writeJSON(w, report)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := s.coord.Matches(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to match programs", slog.Any("error", err))
		writeJSONError(w, "failed to match programs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

// handleDERRegistry lists DER types, optionally filtered by category or to
// those that can take part in a VPP.
func (s *Server) handleDERRegistry(w http.ResponseWriter, r *http.Request) {
	reg := s.coord.Registry()
	q := r.URL.Query()

	var ders []types.DEREntry
	switch {
	case q.Get("id") != "":
		d, ok := reg.DER(q.Get("id"))
		if !ok {
			writeJSONError(w, "der type not found", http.StatusNotFound)
			return
		}
		writeJSON(w, d)
		return
	case q.Get("category") != "":
		var categories []types.DeviceCategory
		for _, c := range strings.Split(q.Get("category"), ",") {
			categories = append(categories, types.DeviceCategory(strings.TrimSpace(c)))
		}
		ders = reg.DERsForCategories(categories...)
	case q.Get("vppCompatible") == "true":
		ders = reg.VPPCompatible()
	default:
		ders = reg.DERs()
	}
	if ders == nil {
		ders = []types.DEREntry{}
	}
	writeJSON(w, ders)
}

// handleVPPRegistry lists programs, optionally filtered to the active ones
// serving a region or supporting a DER type.
func (s *Server) handleVPPRegistry(w http.ResponseWriter, r *http.Request) {
	reg := s.coord.Registry()
	q := r.URL.Query()

	var vpps []types.VPPEntry
	switch {
	case q.Get("id") != "":
		v, ok := reg.VPP(q.Get("id"))
		if !ok {
			writeJSONError(w, "program not found", http.StatusNotFound)
			return
		}
		writeJSON(w, v)
		return
	case q.Get("state") != "" || q.Get("utility") != "":
		vpps = reg.VPPsForRegion(types.Region{
			State:   strings.ToUpper(q.Get("state")),
			Utility: q.Get("utility"),
		})
	case q.Get("derType") != "":
		vpps = reg.VPPsForDERType(q.Get("derType"))
	default:
		vpps = reg.VPPs()
	}
	if vpps == nil {
		vpps = []types.VPPEntry{}
	}
	writeJSON(w, vpps)
}
