package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/quorum/internal/auditctx"
	"github.com/charlesng35/quorum/internal/middleware"
)

// requestContext returns the request context carrying the caller's audit
// identity, with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return auditctx.WithActor(c.Request.Context(), auditctx.Actor{
		Subject:   c.GetString(middleware.CtxSubjectKey),
		RequestID: c.GetString(middleware.CtxRequestIDKey),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
}
