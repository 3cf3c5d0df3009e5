package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/notifications"
	appErrors "github.com/charlesng35/socialcounter/pkg/errors"
	"github.com/charlesng35/socialcounter/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into websocket subscriptions.
type RealtimeHandler struct {
	hub *notifications.Hub
}

// NewRealtimeHandler constructs a RealtimeHandler.
func NewRealtimeHandler(hub *notifications.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream subscribes the client to the topic filters given as repeated or
// comma separated `topic` query parameters.
// GET /api/v1/stream?topic=social-counter/youtube/#
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	var filters []string
	for _, raw := range c.QueryArray("topic") {
		for _, filter := range strings.Split(raw, ",") {
			filter = strings.TrimSpace(filter)
			if filter == "" {
				continue
			}
			if !notifications.ValidFilter(filter) {
				response.Error(c, appErrors.NewValidation("invalid topic filter "+filter))
				return
			}
			filters = append(filters, filter)
		}
	}

	h.hub.Serve(c.Writer, c.Request, filters)
}
