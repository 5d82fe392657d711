package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/quorum/internal/database"
	appErrors "github.com/charlesng35/quorum/pkg/errors"
	"github.com/charlesng35/quorum/pkg/logger"
	"github.com/charlesng35/quorum/pkg/response"
)

const healthPingTimeout = 2 * time.Second

var errDatabaseUnavailable = appErrors.New("DATABASE_UNAVAILABLE", "Database is unavailable", http.StatusServiceUnavailable)

// Health reports readiness. The database must answer a ping.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthPingTimeout)
		defer cancel()

		if err := database.Ping(ctx, db); err != nil {
			logger.WithModule("http").Warn("health check failed", zap.Error(err))
			response.Error(c, errDatabaseUnavailable.WithInternal(err))
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
