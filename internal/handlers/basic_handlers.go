package handlers

import (
	"net/http"

	"aa-backend/internal/db"

	"github.com/gin-gonic/gin"
)

// HealthCheckHandler liveness probe.
// GET /health
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "aa-backend",
		"api":     "healthy",
	})
}

// ReadyCheckHandler readiness probe, verifies the database connection.
// GET /ready
func ReadyCheckHandler(c *gin.Context) {
	if db.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  "database not initialized",
		})
		return
	}

	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"database": "healthy",
	})
}
