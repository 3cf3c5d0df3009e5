package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/pkg/errors"
	"github.com/charlesng35/socialcounter/pkg/logger"
	"github.com/charlesng35/socialcounter/pkg/response"
)

const (
	// CtxClientKey holds the authenticated caller kind ("api" or "admin").
	CtxClientKey = "authClient"

	headerAPIKey   = "X-Api-Key"
	headerAdminKey = "X-Admin-Key"
)

var (
	errAPIKeyRequired = errors.New("API_KEY_REQUIRED", "API key is required", http.StatusUnauthorized)
	errInvalidAPIKey  = errors.New("INVALID_API_KEY", "Invalid API key", http.StatusUnauthorized)

	errAdminKeyNotConfigured = errors.New("ADMIN_KEY_NOT_CONFIGURED", "Admin key is not configured on the server", http.StatusInternalServerError)
	errAdminKeyRequired      = errors.New("ADMIN_KEY_REQUIRED", "Admin key is required", http.StatusUnauthorized)
	errInvalidAdminKey       = errors.New("INVALID_ADMIN_KEY", "Invalid admin key", http.StatusUnauthorized)
)

// APIKey guards public API routes with a shared key read from the X-Api-Key
// header, an "ApiKey" authorization scheme, or the api_key query parameter.
// An empty key disables the check.
func APIKey(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	if key == "" {
		logger.WithModule("http").Warn("api key not configured; /api/v1 is unauthenticated")
		return func(c *gin.Context) {
			c.Set(CtxClientKey, "anonymous")
			c.Next()
		}
	}

	return func(c *gin.Context) {
		provided := firstNonEmpty(
			c.GetHeader(headerAPIKey),
			schemeToken(c.GetHeader("Authorization"), "apikey"),
			c.Query("api_key"),
		)
		if provided == "" {
			response.Error(c, errAPIKeyRequired)
			c.Abort()
			return
		}
		if !equalKeys(provided, key) {
			response.Error(c, errInvalidAPIKey)
			c.Abort()
			return
		}

		c.Set(CtxClientKey, "api")
		c.Next()
	}
}

// AdminKey guards operator routes. Unlike APIKey it fails closed when no key
// is configured.
func AdminKey(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	return func(c *gin.Context) {
		if key == "" {
			response.Error(c, errAdminKeyNotConfigured)
			c.Abort()
			return
		}

		provided := firstNonEmpty(
			c.GetHeader(headerAdminKey),
			c.GetHeader(headerAPIKey),
			c.Query("admin_key"),
		)
		if provided == "" {
			response.Error(c, errAdminKeyRequired)
			c.Abort()
			return
		}
		if !equalKeys(provided, key) {
			response.Error(c, errInvalidAdminKey)
			c.Abort()
			return
		}

		c.Set(CtxClientKey, "admin")
		c.Next()
	}
}

func equalKeys(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func schemeToken(header, scheme string) string {
	header = strings.TrimSpace(header)
	prefix := scheme + " "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
