// Package dto holds the HTTP request and response shapes for the API.
package dto

import (
	"errors"
	"strconv"
	"strings"

	"github.com/twattier/rag-engine/pkg/metafilter"
)

// MaxChunksPerDocument bounds one ingestion request.
const MaxChunksPerDocument = 5000

// IngestRequest is the body of POST /api/v1/ingest.
type IngestRequest struct {
	DocID       string                 `json:"doc_id" binding:"required"`
	ContentType string                 `json:"content_type,omitempty"`
	Chunks      []string               `json:"chunks" binding:"required"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	// Wait makes the call synchronous: the response carries the full
	// ingestion result instead of a queued acknowledgement.
	Wait bool `json:"wait,omitempty"`
}

// Validate performs structural validation before the engine is involved.
func (r *IngestRequest) Validate() error {
	if strings.TrimSpace(r.DocID) == "" {
		return errors.New("doc_id is required")
	}
	if len(r.Chunks) == 0 {
		return errors.New("chunks array cannot be empty")
	}
	if len(r.Chunks) > MaxChunksPerDocument {
		return errors.New("too many chunks in one request")
	}
	for i, chunk := range r.Chunks {
		if strings.TrimSpace(chunk) == "" {
			return errors.New("chunks cannot be empty: chunk " + strconv.Itoa(i))
		}
	}
	return nil
}

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Query         string             `json:"query" binding:"required"`
	Mode          string             `json:"mode,omitempty"`
	TopK          int                `json:"top_k,omitempty"`
	Filter        *metafilter.Filter `json:"filter,omitempty"`
	DisableRerank bool               `json:"disable_rerank,omitempty"`
}

// Validate performs structural validation.
func (r *QueryRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.New("query is required")
	}
	if r.TopK < 0 {
		return errors.New("top_k cannot be negative")
	}
	return nil
}

// IngestAccepted acknowledges an asynchronous ingestion.
type IngestAccepted struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ProcessID string `json:"process_id"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
