package types

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrEmptyName     = errors.New("name cannot be empty")
	ErrEmptyDocID    = errors.New("doc_id cannot be empty")
	ErrEmptyContent  = errors.New("content cannot be empty")
	ErrEmptyType     = errors.New("entity type cannot be empty")
	ErrInvalidTopK   = errors.New("top_k must be positive")
	ErrInvalidWeight = errors.New("weight must be within [0,1]")
	ErrUnknownMode   = errors.New("unknown query mode")
)

// ErrDocumentNotFound is returned by store lookups for unknown documents,
// typically wrapped in a StorageError.
var ErrDocumentNotFound = errors.New("document not found")

// ExtractionError reports a failed extraction for a single chunk. It is
// recoverable: the chunk is skipped and ingestion continues for the rest of
// the document.
type ExtractionError struct {
	DocID      string
	ChunkIndex int
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for chunk %d of document %s: %v", e.ChunkIndex, e.DocID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StorageError reports a transactional write failure. The document it belongs
// to is marked failed and only retried on explicit re-ingestion.
type StorageError struct {
	DocID string
	Op    string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for document %s: %v", e.Op, e.DocID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError reports a malformed metadata filter or a schema violation.
// It is surfaced synchronously before any retrieval or ingestion work starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

// CollaboratorError reports an unavailable external collaborator (LLM,
// embedder or reranker): a timeout, exhausted retries or an open circuit.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
