package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/auth"
)

const testSecret = "tracking-admin-secret"

func signToken(t *testing.T, issuer string, expiresAt time.Time) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Subject("ops").
		IssuedAt(time.Now().Add(-time.Minute)).
		Expiration(expiresAt).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	require.NoError(t, err)
	return string(signed)
}

func newGuardedHandler() (auth.Middleware, http.Handler) {
	mw := auth.Middleware{
		Secret: []byte(testSecret),
		Validator: auth.TokenValidator{
			Issuer:    "parcelhub",
			Algorithm: jwa.HS256,
		},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return mw, mw.RequireAdmin(next)
}

func TestRequireAdminAcceptsValidToken(t *testing.T) {
	t.Parallel()

	_, handler := newGuardedHandler()
	req := httptest.NewRequest(http.MethodPost, "/admin/batch-tracking-run", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "parcelhub", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequireAdminRejectsMissingToken(t *testing.T) {
	t.Parallel()

	_, handler := newGuardedHandler()
	req := httptest.NewRequest(http.MethodPost, "/admin/batch-tracking-run", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "AUTH")
}

func TestRequireAdminRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	_, handler := newGuardedHandler()
	req := httptest.NewRequest(http.MethodPost, "/admin/batch-tracking-run", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "parcelhub", time.Now().Add(-time.Hour)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdminRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	_, handler := newGuardedHandler()
	req := httptest.NewRequest(http.MethodPost, "/admin/batch-tracking-run", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "someone-else", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
