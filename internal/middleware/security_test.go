package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestSecurityHeadersOnCounterResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/api/v1/youtube/channel/metrics/subscribers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"value": 1500})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/youtube/channel/metrics/subscribers", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	require.Equal(t, APIContentSecurityPolicy, w.Header().Get("Content-Security-Policy"))
	require.Equal(t, "cross-origin", w.Header().Get("Cross-Origin-Resource-Policy"))
	require.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	require.Empty(t, w.Header().Get("Permissions-Policy"))
}

func TestSecurityHeadersOnAbortedRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(SecurityHeaders(), func(c *gin.Context) {
		c.AbortWithStatus(http.StatusUnauthorized)
	})
	r.GET("/api/admin/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/health", nil))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, APIContentSecurityPolicy, w.Header().Get("Content-Security-Policy"))
}
