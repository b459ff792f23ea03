package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditshare-backend/pkg/auth"
	"github.com/angelmondragon/creditshare-backend/pkg/config"
)

var testIdentity = config.IdentityConfig{Secret: "secret", Issuer: "https://id.example.com", ClockSkew: time.Second}

func identityHandler(captured *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFromContext(r.Context()); ok {
			*captured = id
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	var captured Identity
	handler := Auth(testIdentity, nil)(identityHandler(&captured))

	for _, header := range []string{"", "Bearer ", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, "header %q", header)
	}
	assert.Empty(t, captured.ExternalID)
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	other := testIdentity
	other.Issuer = "https://evil.example.com"
	token, err := auth.SignIdentityToken(other, time.Now(), time.Hour, "user_1", "", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	var captured Identity
	Auth(testIdentity, nil)(identityHandler(&captured)).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSeedsIdentity(t *testing.T) {
	token, err := auth.SignIdentityToken(testIdentity, time.Now(), time.Hour, "user_42", "Ana", "ana@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	var captured Identity
	Auth(testIdentity, nil)(identityHandler(&captured)).ServeHTTP(resp, req)

	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, Identity{ExternalID: "user_42", Name: "Ana", Email: "ana@example.com"}, captured)
}
