package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	ragengine "github.com/twattier/rag-engine"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	engine ragengine.Engine
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(engine ragengine.Engine) *HealthHandler {
	return &HealthHandler{engine: engine}
}

// HealthCheck handles GET /health - basic liveness check.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "rag-engine",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// LivenessCheck handles GET /live - Kubernetes liveness probe.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessCheck handles GET /ready. The store is probed with a cheap stats
// call under a short timeout.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK
	overall := "ready"

	start := time.Now()
	if _, err := h.engine.GraphStats(ctx); err != nil {
		checks["store"] = gin.H{
			"status":   "unhealthy",
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		}
		status = http.StatusServiceUnavailable
		overall = "not ready"
	} else {
		checks["store"] = gin.H{
			"status":   "healthy",
			"duration": time.Since(start).String(),
		}
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "rag-engine",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    Version,
		"go_version": GoVersion,
		"checks":     checks,
	})
}
