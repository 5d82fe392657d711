package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/quorum/internal/auth"
	"github.com/charlesng35/quorum/internal/handlers"
	"github.com/charlesng35/quorum/internal/middleware"
	"github.com/charlesng35/quorum/internal/signing"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	DB       *gorm.DB
	Issuer   *signing.Issuer
	Verifier *signing.Verifier

	// JWT protects credential issuance when set.
	JWT *iauth.JWTService

	RateStore  middleware.RateStore
	RatePolicy middleware.RatePolicy

	// MetricsPath exposes Prometheus metrics when non-empty.
	MetricsPath string
}

// NewRouter builds the Gin engine, wires middleware and registers the routes.
// Signing routes are served at the root and again under /api.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, errors.New("database handle must be provided")
	}
	signingHandler, err := handlers.NewSigningHandler(deps.Issuer, deps.Verifier)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	registerHealthRoutes(r, deps.DB)
	registerMonitoringRoutes(r, deps.MetricsPath)

	limit := middleware.RateLimit(deps.RateStore, deps.RatePolicy)
	requireOperator := middleware.Auth(deps.JWT)

	registerSigningRoutes(r, signingHandler, limit, requireOperator)
	registerSigningRoutes(r.Group("/api"), signingHandler, limit, requireOperator)

	return r, nil
}

func preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
