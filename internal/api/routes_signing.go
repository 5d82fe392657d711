package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/quorum/internal/handlers"
)

func registerSigningRoutes(router gin.IRoutes, h *handlers.SigningHandler, limit, requireOperator gin.HandlerFunc) {
	router.OPTIONS("/request-signatures", preflight)
	router.POST("/request-signatures", limit, requireOperator, h.RequestSignatures)

	router.OPTIONS("/sign", preflight)
	router.POST("/sign", limit, h.Sign)
}
