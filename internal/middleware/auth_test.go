package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/auth"
)

func newAuthTestRouter(t *testing.T) (*gin.Engine, *auth.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "middleware-test", Issuer: "corral"})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/protected", RequireAuth(tokens), func(c *gin.Context) {
		claims, ok := GetClaims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})
	router.GET("/admin", RequireAuth(tokens), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router, tokens
}

func doRequest(router *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthAcceptsAccessToken(t *testing.T) {
	router, tokens := newAuthTestRouter(t)

	token, err := tokens.IssueAccessToken(auth.TokenInput{Subject: "user-1"})
	require.NoError(t, err)

	rec := doRequest(router, "/protected", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", rec.Body.String())
}

func TestRequireAuthRejectsMissingAndMalformedHeaders(t *testing.T) {
	router, _ := newAuthTestRouter(t)

	require.Equal(t, http.StatusUnauthorized, doRequest(router, "/protected", "").Code)
	require.Equal(t, http.StatusUnauthorized, doRequest(router, "/protected", "Basic abc").Code)
	require.Equal(t, http.StatusUnauthorized, doRequest(router, "/protected", "Bearer not-a-token").Code)
}

func TestRequireAuthRejectsRefreshToken(t *testing.T) {
	router, tokens := newAuthTestRouter(t)

	refresh, err := tokens.IssueRefreshToken(auth.TokenInput{Subject: "user-1"})
	require.NoError(t, err)

	rec := doRequest(router, "/protected", "Bearer "+refresh)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	router, tokens := newAuthTestRouter(t)

	plain, err := tokens.IssueAccessToken(auth.TokenInput{Subject: "user-1"})
	require.NoError(t, err)
	admin, err := tokens.IssueAccessToken(auth.TokenInput{Subject: "user-2", Admin: true})
	require.NoError(t, err)

	require.Equal(t, http.StatusForbidden, doRequest(router, "/admin", "Bearer "+plain).Code)
	require.Equal(t, http.StatusOK, doRequest(router, "/admin", "Bearer "+admin).Code)
}
