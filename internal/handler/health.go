package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	DB *gorm.DB
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/healthz", h.alive)
}

func (h *HealthHandler) alive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// health reports readiness including a database round trip.
func (h *HealthHandler) health(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339)
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy", "database": "missing", "timestamp": now,
		})
		return
	}
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy", "database": "unreachable", "timestamp": now,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy", "database": "connected", "timestamp": now,
	})
}
