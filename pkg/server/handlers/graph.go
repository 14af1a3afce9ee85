package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ragengine "github.com/twattier/rag-engine"
)

// GraphHandler serves graph-level introspection.
type GraphHandler struct {
	engine ragengine.Engine
}

// NewGraphHandler creates a graph handler.
func NewGraphHandler(engine ragengine.Engine) *GraphHandler {
	return &GraphHandler{engine: engine}
}

// Stats handles GET /api/v1/graph/stats.
func (h *GraphHandler) Stats(c *gin.Context) {
	stats, err := h.engine.GraphStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
