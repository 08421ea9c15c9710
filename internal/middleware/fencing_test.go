package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/auth"
)

func TestParseFencingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/write", ParseFencing(), func(c *gin.Context) {
		guard := GetFencingGuard(c)
		if guard == nil {
			c.String(http.StatusOK, "unguarded")
			return
		}
		c.String(http.StatusOK, guard.Key)
	})

	req := httptest.NewRequest(http.MethodGet, "/write", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, "unguarded", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/write", nil)
	req.Header.Set(auth.FencingHeader, "deploy#3")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, "deploy", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/write", nil)
	req.Header.Set(auth.FencingHeader, "garbage")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
