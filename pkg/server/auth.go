package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/communalgrid/communalgrid/pkg/log"
)

// updateAuthMiddleware only lets through requests carrying an ID token
// for the configured update email, unless authentication is bypassed.
func (s *Server) updateAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.bypassAuth {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Ctx(ctx).WarnContext(ctx, "missing authentication for update")
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}

		email, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "update token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if s.updateSpecificEmail == "" || subtle.ConstantTimeCompare([]byte(email), []byte(s.updateSpecificEmail)) != 1 {
			log.Ctx(ctx).WarnContext(ctx, "update email mismatch", slog.String("got", email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}
		log.Ctx(ctx).DebugContext(ctx, "update: authorized", slog.String("email", email))
		next.ServeHTTP(w, r)
	})
}

// authenticateToken verifies token and returns its verified email claim.
func (s *Server) authenticateToken(ctx context.Context, token string) (string, error) {
	if s.verifier == nil {
		return "", errors.New("no token verifier configured")
	}
	idToken, err := s.verifier(ctx, token)
	if err != nil {
		return "", err
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to decode claims: %w", err)
	}
	if claims.Email == "" {
		return "", errors.New("token has no email claim")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return "", errors.New("token email is not verified")
	}
	return claims.Email, nil
}
