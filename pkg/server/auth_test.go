package server

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "test-audience"
)

// signTestToken returns an RS256 JWT carrying claims.
func signTestToken(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT","kid":"test"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	signing := header + "." + base64.RawURLEncoding.EncodeToString(payload)
	sum := sha256.Sum256([]byte(signing))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	require.NoError(t, err)
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func testClaims(email string) map[string]any {
	now := time.Now()
	return map[string]any{
		"iss":            testIssuer,
		"aud":            testAudience,
		"sub":            "1234",
		"email":          email,
		"email_verified": true,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func TestUpdateAuthMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	srv := &Server{
		updateSpecificEmail: "scheduler@example.com",
		verifier:            oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testAudience}).Verify,
	}

	var called bool
	handler := srv.updateAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	do := func(authHeader string) *httptest.ResponseRecorder {
		called = false
		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("Valid", func(t *testing.T) {
		w := do("Bearer " + signTestToken(t, key, testClaims("scheduler@example.com")))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, called)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		w := do("")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("NotBearer", func(t *testing.T) {
		w := do("Basic dXNlcjpwYXNz")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, called)
	})

	t.Run("WrongEmail", func(t *testing.T) {
		w := do("Bearer " + signTestToken(t, key, testClaims("someone@example.com")))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "forbidden", decodeError(t, w))
		assert.False(t, called)
	})

	t.Run("UnverifiedEmail", func(t *testing.T) {
		claims := testClaims("scheduler@example.com")
		claims["email_verified"] = false
		w := do("Bearer " + signTestToken(t, key, claims))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("WrongAudience", func(t *testing.T) {
		claims := testClaims("scheduler@example.com")
		claims["aud"] = "someone-else"
		w := do("Bearer " + signTestToken(t, key, claims))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("Expired", func(t *testing.T) {
		claims := testClaims("scheduler@example.com")
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		w := do("Bearer " + signTestToken(t, key, claims))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("WrongKey", func(t *testing.T) {
		w := do("Bearer " + signTestToken(t, otherKey, testClaims("scheduler@example.com")))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("NoVerifier", func(t *testing.T) {
		srv := &Server{updateSpecificEmail: "scheduler@example.com"}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		req.Header.Set("Authorization", "Bearer "+signTestToken(t, key, testClaims("scheduler@example.com")))
		srv.updateAuthMiddleware(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Bypass", func(t *testing.T) {
		srv := &Server{bypassAuth: true}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		srv.updateAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})).ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}
