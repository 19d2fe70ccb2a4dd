package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/communalgrid/communalgrid/pkg/coordinator"
	"github.com/communalgrid/communalgrid/pkg/log"
)

type updateResponse struct {
	Status string                  `json:"status"`
	Errors []string                `json:"errors,omitempty"`
	Rate   *coordinator.RateStatus `json:"rate,omitempty"`
	// Devices is the number of classified devices after the update.
	Devices int `json:"devices"`
}

// handleUpdate refreshes the tariff and rescans devices on demand, for
// deployments driven by an external scheduler instead of the cron loop.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	started := time.Now()

	resp := updateResponse{Status: "success"}
	if err := s.coord.Update(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "update failed", slog.Any("error", err))
		resp.Status = "partial"
		resp.Errors = splitErrors(err)
	}
	if rate, err := s.coord.CurrentRate(ctx); err == nil {
		resp.Rate = &rate
	} else {
		resp.Status = "failed"
	}
	resp.Devices = len(s.coord.Devices(ctx).Devices)

	log.Ctx(ctx).InfoContext(
		ctx,
		"update: finished",
		slog.String("status", resp.Status),
		slog.Duration("took", time.Since(started)),
	)
	if resp.Status == "failed" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, resp)
}

// splitErrors flattens an errors.Join result into its messages.
func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}
