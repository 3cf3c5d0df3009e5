package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/services"
	appErrors "github.com/charlesng35/socialcounter/pkg/errors"
	"github.com/charlesng35/socialcounter/pkg/response"
)

// resourceQueryKeys are accepted, in order, as the resource identifier.
var resourceQueryKeys = []string{"id", "url", "username", "channel"}

// MetricHandler serves on-demand counter reads.
type MetricHandler struct {
	svc *services.MetricService
}

// NewMetricHandler constructs a MetricHandler.
func NewMetricHandler(svc *services.MetricService) *MetricHandler {
	return &MetricHandler{svc: svc}
}

type platformDTO struct {
	Platform string   `json:"platform"`
	Metrics  []string `json:"metrics"`
}

// Platforms lists the supported platforms and their metrics.
// GET /api/v1/platforms
func (h *MetricHandler) Platforms(c *gin.Context) {
	platforms := h.svc.Platforms()
	out := make([]platformDTO, 0, len(platforms))
	for _, platform := range platforms {
		metrics, err := h.svc.SupportedMetrics(platform)
		if err != nil {
			continue
		}
		out = append(out, platformDTO{Platform: platform, Metrics: metrics})
	}
	response.SuccessWithMeta(c, http.StatusOK, out, &response.Meta{Total: len(out)})
}

// Get reads one counter through the cache.
// GET /api/v1/:platform/:resource/metrics/:metric?id=...
func (h *MetricHandler) Get(c *gin.Context) {
	resourceID := ""
	for _, key := range resourceQueryKeys {
		if value := strings.TrimSpace(c.Query(key)); value != "" {
			resourceID = value
			break
		}
	}
	if resourceID == "" {
		response.Error(c, appErrors.NewValidation("query parameter id is required"))
		return
	}

	result, err := h.svc.Fetch(requestContext(c), services.FetchRequest{
		Platform:   c.Param("platform"),
		Resource:   c.Param("resource"),
		ResourceID: resourceID,
		Metric:     c.Param("metric"),
		Origin:     requestOrigin(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, result, &response.Meta{Total: 1, Cached: result.Cached})
}
