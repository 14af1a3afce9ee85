/*
Package builder persists one document's resolved graph into the store: the
document record, its chunks, canonical entities and relationships, in bounded
transactional batches with entities written before the edges that reference
them.

The builder is the only component that mutates document lifecycle state. A
hard storage failure marks the document failed and surfaces the error; soft
failures (individually invalid items) are skipped and reported without
blocking the rest of the document.
*/
package builder

import (
	"context"
	"log/slog"

	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/types"
)

// DefaultBatchSize bounds items per write transaction.
const DefaultBatchSize = 100

// Config parameterizes a Manager.
type Config struct {
	BatchSize int
}

// PersistResult reports what one document's graph write accomplished.
type PersistResult struct {
	ChunksWritten        int
	EntitiesWritten      int
	RelationshipsWritten int
	// SkippedRelationships counts individually invalid edges dropped without
	// failing the document.
	SkippedRelationships int
}

// Manager writes resolved graphs and drives the document state machine.
type Manager struct {
	store     driver.GraphStore
	batchSize int
	logger    *slog.Logger
}

// New creates a Manager.
func New(store driver.GraphStore, config Config, logger *slog.Logger) *Manager {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, batchSize: config.BatchSize, logger: logger}
}

// Begin registers the document and moves it into processing. A document
// already present must be in a state that allows reprocessing: failed
// documents are explicitly retryable, indexed documents are re-ingested
// idempotently, but a document currently processing is rejected.
func (m *Manager) Begin(ctx context.Context, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	existing, err := m.store.GetDocument(ctx, doc.ID)
	if err == nil {
		if !existing.Status.CanTransition(types.DocumentProcessing) {
			return &types.ValidationError{Field: "doc_id", Reason: "document is already being processed"}
		}
		doc.CreatedAt = existing.CreatedAt
	}

	doc.Status = types.DocumentProcessing
	return m.store.UpsertDocument(ctx, doc)
}

// Persist writes chunks, entities and relationships for one document.
// Entities land before relationships so no edge is ever visible without both
// endpoints. A storage error marks the document failed.
func (m *Manager) Persist(ctx context.Context, doc *types.Document, chunks []*types.TextChunk, entities []*types.Entity, relationships []*types.Relationship) (*PersistResult, error) {
	result := &PersistResult{}

	for _, batch := range batches(chunks, m.batchSize) {
		if err := m.store.UpsertChunks(ctx, batch); err != nil {
			return result, m.fail(ctx, doc.ID, err)
		}
		result.ChunksWritten += len(batch)
	}

	for _, batch := range batches(entities, m.batchSize) {
		if err := m.store.UpsertEntities(ctx, batch); err != nil {
			return result, m.fail(ctx, doc.ID, err)
		}
		result.EntitiesWritten += len(batch)
	}

	valid := make([]*types.Relationship, 0, len(relationships))
	for _, rel := range relationships {
		if err := rel.Validate(); err != nil {
			m.logger.Warn("skipping invalid relationship",
				"doc_id", doc.ID, "source", rel.SourceID, "target", rel.TargetID, "error", err)
			result.SkippedRelationships++
			continue
		}
		valid = append(valid, rel)
	}
	for _, batch := range batches(valid, m.batchSize) {
		if err := m.store.UpsertRelationships(ctx, batch); err != nil {
			return result, m.fail(ctx, doc.ID, err)
		}
		result.RelationshipsWritten += len(batch)
	}

	doc.ChunkCount = len(chunks)
	doc.EntityCount = len(entities)
	doc.Status = types.DocumentIndexed
	if err := m.store.UpsertDocument(ctx, doc); err != nil {
		return result, m.fail(ctx, doc.ID, err)
	}
	return result, nil
}

// Fail marks the document failed, for callers whose pipeline broke before
// any graph write.
func (m *Manager) Fail(ctx context.Context, docID string) error {
	return m.store.UpdateDocumentStatus(ctx, docID, types.DocumentFailed)
}

func (m *Manager) fail(ctx context.Context, docID string, cause error) error {
	if err := m.store.UpdateDocumentStatus(ctx, docID, types.DocumentFailed); err != nil {
		m.logger.Error("failed to mark document failed", "doc_id", docID, "error", err)
	}
	if _, ok := cause.(*types.StorageError); ok {
		return cause
	}
	return &types.StorageError{DocID: docID, Op: "persist graph", Err: cause}
}

func batches[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
