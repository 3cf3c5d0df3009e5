package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestCORSPreflightAllowsKeyHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	called := false
	r := gin.New()
	r.Use(CORS())
	r.POST("/api/v1/scheduler", func(c *gin.Context) {
		called = true
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scheduler", nil)
	req.Header.Set("Origin", "https://widgets.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.False(t, called)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
	for _, header := range []string{"X-Api-Key", "X-Admin-Key", "X-Request-ID"} {
		require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), header)
	}
	require.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORSPassesThroughCounterReads(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(CORS())
	r.GET("/api/v1/platforms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"platforms": []string{"instagram", "youtube"}})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/platforms", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Body.String(), "instagram")
}
