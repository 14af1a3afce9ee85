package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ragengine "github.com/twattier/rag-engine"
	"github.com/twattier/rag-engine/pkg/server/dto"
	"github.com/twattier/rag-engine/pkg/types"
)

// QueryHandler handles retrieval requests.
type QueryHandler struct {
	engine ragengine.Engine
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(engine ragengine.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

// Query handles POST /api/v1/query.
func (h *QueryHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.engine.Query(c.Request.Context(), &ragengine.QueryRequest{
		Query:         req.Query,
		Mode:          types.QueryMode(req.Mode),
		TopK:          req.TopK,
		Filter:        req.Filter,
		DisableRerank: req.DisableRerank,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
