package types

import (
	"time"
)

// DocumentStatus tracks the ingestion lifecycle of a document.
type DocumentStatus string

const (
	// DocumentPending means the document is queued but not yet picked up.
	DocumentPending DocumentStatus = "pending"
	// DocumentProcessing means extraction or graph writes are in flight.
	DocumentProcessing DocumentStatus = "processing"
	// DocumentIndexed means all graph writes completed.
	DocumentIndexed DocumentStatus = "indexed"
	// DocumentFailed means an unrecoverable storage error occurred. Failed
	// documents are only retried on explicit re-ingestion.
	DocumentFailed DocumentStatus = "failed"
)

// CanTransition reports whether the lifecycle allows moving to next.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	switch s {
	case DocumentPending:
		return next == DocumentProcessing
	case DocumentProcessing:
		return next == DocumentIndexed || next == DocumentFailed
	case DocumentIndexed:
		// idempotent re-ingestion
		return next == DocumentProcessing
	case DocumentFailed:
		// explicit re-ingestion
		return next == DocumentProcessing
	default:
		return false
	}
}

// Document is the unit of ingestion. Mutated only by the graph construction
// manager; deleting it cascades to its chunks and to entities/relationships
// that lose their last source reference.
type Document struct {
	ID          string                 `json:"id"`
	ContentType string                 `json:"content_type,omitempty"`
	Status      DocumentStatus         `json:"status"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ChunkCount  int                    `json:"chunk_count"`
	EntityCount int                    `json:"entity_count"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Validate checks the Document required fields.
func (d *Document) Validate() error {
	if d.ID == "" {
		return ErrEmptyDocID
	}
	return nil
}

// TextChunk is an ordered text segment belonging to exactly one document.
// Immutable once created; deleted with its document.
type TextChunk struct {
	ID         string    `json:"id"`
	DocID      string    `json:"doc_id"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the TextChunk required fields.
func (c *TextChunk) Validate() error {
	if c.DocID == "" {
		return ErrEmptyDocID
	}
	if c.Content == "" {
		return ErrEmptyContent
	}
	return nil
}
