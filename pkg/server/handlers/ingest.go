package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	ragengine "github.com/twattier/rag-engine"
	"github.com/twattier/rag-engine/pkg/server/dto"
	"github.com/twattier/rag-engine/pkg/utils"
)

// ingestTimeout bounds one background document ingestion.
const ingestTimeout = 30 * time.Minute

// IngestHandler handles document ingestion requests.
type IngestHandler struct {
	engine ragengine.Engine
	logger *slog.Logger
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(engine ragengine.Engine, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{engine: engine, logger: logger}
}

// generateProcessID generates a unique ID for tracking async ingestions.
func generateProcessID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("proc_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("proc_%s", hex.EncodeToString(bytes))
}

// Ingest handles POST /api/v1/ingest. By default the document is queued and
// processed in the background; wait=true runs synchronously and returns the
// full ingestion result.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	engineReq := &ragengine.IngestRequest{
		DocID:       req.DocID,
		ContentType: req.ContentType,
		Chunks:      req.Chunks,
		Metadata:    req.Metadata,
	}

	if req.Wait {
		result, err := h.engine.Ingest(c.Request.Context(), engineReq)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	processID := generateProcessID()
	utils.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		defer cancel()

		h.logger.Info("ingestion started", "process_id", processID, "doc_id", req.DocID, "chunks", len(req.Chunks))
		result, err := h.engine.Ingest(ctx, engineReq)
		if err != nil {
			h.logger.Error("ingestion failed", "process_id", processID, "doc_id", req.DocID, "error", err)
			return
		}
		h.logger.Info("ingestion finished",
			"process_id", processID,
			"doc_id", req.DocID,
			"entities", result.EntityCount,
			"relationships", result.RelationshipCount,
			"failed_chunks", len(result.FailedChunks))
	}, func(err error) {
		h.logger.Error("ingestion panicked", "process_id", processID, "doc_id", req.DocID, "error", err)
	})

	c.JSON(http.StatusAccepted, dto.IngestAccepted{
		Success:   true,
		Message:   fmt.Sprintf("Queued document %s (%d chunks) for processing", req.DocID, len(req.Chunks)),
		ProcessID: processID,
	})
}

// DeleteDocument handles DELETE /api/v1/documents/:id.
func (h *IngestHandler) DeleteDocument(c *gin.Context) {
	docID := c.Param("id")
	if docID == "" {
		badRequest(c, "document id is required")
		return
	}

	result, err := h.engine.Delete(c.Request.Context(), docID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"doc_id":                docID,
		"chunks_deleted":        result.ChunksDeleted,
		"entities_deleted":      result.EntitiesDeleted,
		"relationships_deleted": result.RelationshipsDeleted,
	})
}
