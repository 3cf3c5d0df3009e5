package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/cache"
	"github.com/charlesng35/socialcounter/internal/credentials"
	appErrors "github.com/charlesng35/socialcounter/pkg/errors"
	"github.com/charlesng35/socialcounter/pkg/response"
)

// AdminHandler serves operator endpoints for credentials and the cache.
type AdminHandler struct {
	managers map[string]*credentials.Manager
	cache    *cache.MetricCache
	now      func() time.Time
}

// NewAdminHandler constructs an AdminHandler. Managers are keyed by the platform they manage.
func NewAdminHandler(metricCache *cache.MetricCache, managers ...*credentials.Manager) *AdminHandler {
	indexed := make(map[string]*credentials.Manager, len(managers))
	for _, manager := range managers {
		if manager == nil {
			continue
		}
		indexed[manager.Platform()] = manager
	}
	return &AdminHandler{
		managers: indexed,
		cache:    metricCache,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type updateTokenRequest struct {
	AccessToken   string     `json:"access_token" validate:"required"`
	ExpiresAt     *time.Time `json:"expires_at"`
	ExpiresInDays *int       `json:"expires_in_days" validate:"omitempty,gte=1,lte=90"`
}

func (h *AdminHandler) manager(c *gin.Context) (*credentials.Manager, bool) {
	platform := strings.ToLower(strings.TrimSpace(c.Param("platform")))
	manager, ok := h.managers[platform]
	if !ok {
		response.Error(c, appErrors.NewNotFound("no managed credential for platform "+platform))
		return nil, false
	}
	return manager, true
}

// TokenStatus reports the managed credential state.
// GET /api/admin/:platform/token-status
func (h *AdminHandler) TokenStatus(c *gin.Context) {
	manager, ok := h.manager(c)
	if !ok {
		return
	}
	status, err := manager.Status(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// RefreshToken renews the managed credential synchronously.
// POST /api/admin/:platform/refresh-token
func (h *AdminHandler) RefreshToken(c *gin.Context) {
	manager, ok := h.manager(c)
	if !ok {
		return
	}
	token, err := manager.Refresh(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"message":      "Token refreshed successfully",
		"expires_at":   token.ExpiresAt,
		"refreshed_at": h.now(),
	})
}

// UpdateToken stores an operator supplied credential.
// PUT /api/admin/:platform/token
func (h *AdminHandler) UpdateToken(c *gin.Context) {
	manager, ok := h.manager(c)
	if !ok {
		return
	}
	var req updateTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var expiresAt time.Time
	switch {
	case req.ExpiresAt != nil:
		expiresAt = req.ExpiresAt.UTC()
	case req.ExpiresInDays != nil:
		expiresAt = h.now().AddDate(0, 0, *req.ExpiresInDays)
	}

	token, err := manager.UpdateToken(requestContext(c), req.AccessToken, expiresAt)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"message":    "Token updated successfully",
		"expires_at": token.ExpiresAt,
		"updated_at": token.UpdatedAt,
	})
}

// CacheStats reports cache row counts.
// GET /api/admin/cache/stats
func (h *AdminHandler) CacheStats(c *gin.Context) {
	response.Success(c, http.StatusOK, h.cache.Stats(requestContext(c)))
}

// PurgeCache removes expired cache rows immediately.
// POST /api/admin/cache/purge
func (h *AdminHandler) PurgeCache(c *gin.Context) {
	removed := h.cache.PurgeExpired(requestContext(c))
	response.Success(c, http.StatusOK, gin.H{"removed": removed})
}

// Health is a liveness probe for the admin surface.
// GET /api/admin/health
func (h *AdminHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"status":    "ok",
		"message":   "Admin API is running",
		"timestamp": h.now(),
	})
}
