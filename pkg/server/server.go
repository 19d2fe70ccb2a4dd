package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/communalgrid/communalgrid/pkg/coordinator"
	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/metrics"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// tokenVerifier validates an OIDC ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server exposes the household's rates, devices and program matches over
// HTTP.
type Server struct {
	coord *coordinator.Coordinator

	listenAddr string
	httpServer *http.Server

	updateSpecificEmail string
	verifier            tokenVerifier
	bypassAuth          bool
	serverName          string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(coord *coordinator.Coordinator) *Server {
	srv := New(coord)
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	updateSpecificEmail := lflag.String("update-specific-email", "", "email to validate for /api/update")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "Issuer of the id tokens sent to /api/update")
	oidcAudience := lflag.String("oidc-audience", "", "audience to validate on id tokens sent to /api/update")
	bypassAuth := lflag.Bool("bypass-auth", false, "Allow /api/update without authentication")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.updateSpecificEmail = *updateSpecificEmail
		srv.bypassAuth = *bypassAuth
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		}
		if srv.verifier != nil && srv.updateSpecificEmail == "" {
			log.Ctx(context.Background()).Error("update-specific-email is required with oidc-audience")
			os.Exit(1)
		}
	})

	return srv
}

// New returns a Server for coord listening on :8080 with update
// authentication disabled until a verifier is configured.
func New(coord *coordinator.Coordinator) *Server {
	return &Server{
		coord:      coord,
		listenAddr: ":8080",
		serverName: "communalgrid",
	}
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/rate/current", s.handleCurrentRate)
	apiMux.HandleFunc("GET /api/rate/forecast", s.handleForecast)
	apiMux.HandleFunc("GET /api/rate/history", s.handleRateHistory)
	apiMux.HandleFunc("GET /api/devices", s.handleDevices)
	apiMux.HandleFunc("GET /api/vpp/matches", s.handleMatches)
	apiMux.HandleFunc("GET /api/registry/der", s.handleDERRegistry)
	apiMux.HandleFunc("GET /api/registry/vpp", s.handleVPPRegistry)
	apiMux.HandleFunc("GET /api/list/utilities", s.handleListUtilities)
	apiMux.HandleFunc("GET /api/list/plans", s.handleListPlans)
	apiMux.Handle("POST /api/update", s.updateAuthMiddleware(http.HandlerFunc(s.handleUpdate)))

	mux := http.NewServeMux()
	mux.Handle("/api/", s.logMiddleware(s.metricsMiddleware(apiMux)))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := log.WithAttrs(
			r.Context(),
			slog.String("reqID", reqID),
			slog.String("reqPath", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware observes request durations labeled by the matched
// route pattern.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestDurationSeconds.WithLabelValues(path).Observe(time.Since(started).Seconds())
	})
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
