package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/cache"
	"github.com/charlesng35/socialcounter/internal/middleware"
)

// requestContext returns the request context, or a background one when the
// handler is invoked without a request.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// callerIdentity names who asked: the authenticated API client when there is
// one, always suffixed with the remote address.
func callerIdentity(c *gin.Context) string {
	if client := c.GetString(middleware.CtxClientKey); client != "" {
		return client + "@" + c.ClientIP()
	}
	return c.ClientIP()
}

// requestOrigin records where a cache write came from.
func requestOrigin(c *gin.Context) cache.Origin {
	return cache.Origin{
		RequestID:   c.GetString(middleware.CtxRequestIDKey),
		RequestedBy: callerIdentity(c),
	}
}
