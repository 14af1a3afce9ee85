package ragengine

import (
	"context"
	"fmt"
	"time"

	"github.com/twattier/rag-engine/pkg/extraction"
	"github.com/twattier/rag-engine/pkg/resilience"
	"github.com/twattier/rag-engine/pkg/resolver"
	"github.com/twattier/rag-engine/pkg/types"
	"github.com/twattier/rag-engine/pkg/utils"
)

// IngestRequest carries one document into the engine. Chunking happens
// upstream; the engine receives the ordered chunk texts as opaque segments.
type IngestRequest struct {
	DocID       string                 `json:"doc_id"`
	ContentType string                 `json:"content_type,omitempty"`
	Chunks      []string               `json:"chunks"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Ingest runs the full ingestion path for one document: metadata validation,
// chunk embedding, parallel per-chunk extraction, entity resolution, and
// batched graph construction. Chunks whose extraction fails even after the
// stricter retry are reported in FailedChunks; the rest of the document still
// lands. A storage or embedding failure marks the document failed, retryable
// via explicit re-ingestion.
func (c *Client) Ingest(ctx context.Context, req *IngestRequest) (*types.IngestResult, error) {
	started := time.Now()

	if req.DocID == "" {
		return nil, types.ErrEmptyDocID
	}
	if len(req.Chunks) == 0 {
		return nil, &types.ValidationError{Field: "chunks", Reason: "at least one chunk is required"}
	}
	metadata, err := c.schema.ValidateMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	doc := &types.Document{
		ID:          req.DocID,
		ContentType: req.ContentType,
		Metadata:    metadata,
	}
	if err := c.builder.Begin(ctx, doc); err != nil {
		return nil, err
	}

	// Snapshot once: a taxonomy update mid-ingestion never reaches this
	// document.
	taxonomy := c.taxonomy.Current()

	chunks, err := c.buildChunks(ctx, req)
	if err != nil {
		return nil, c.abort(ctx, req.DocID, err)
	}

	extracted, failedChunks := c.extractChunks(ctx, taxonomy, chunks)
	if err := ctx.Err(); err != nil {
		return nil, c.abort(ctx, req.DocID, err)
	}

	entities, relationships, err := c.resolve(ctx, taxonomy, req.DocID, extracted)
	if err != nil {
		return nil, c.abort(ctx, req.DocID, err)
	}

	persisted, err := c.builder.Persist(ctx, doc, chunks, entities, relationships)
	if err != nil {
		return nil, err
	}

	if !c.config.DisableCommunityRebuild {
		if count, err := c.detector.Rebuild(ctx); err != nil {
			c.logger.Warn("community rebuild failed", "doc_id", req.DocID, "error", err)
		} else {
			c.logger.Debug("communities rebuilt", "count", count)
		}
	}

	result := &types.IngestResult{
		DocID:             req.DocID,
		Status:            doc.Status,
		ChunkCount:        persisted.ChunksWritten,
		EntityCount:       persisted.EntitiesWritten,
		RelationshipCount: persisted.RelationshipsWritten,
		FailedChunks:      failedChunks,
		Elapsed:           time.Since(started),
	}
	c.logger.Info("document ingested",
		"doc_id", req.DocID,
		"chunks", result.ChunkCount,
		"entities", result.EntityCount,
		"relationships", result.RelationshipCount,
		"failed_chunks", len(failedChunks),
		"elapsed", result.Elapsed)
	return result, nil
}

// buildChunks materializes TextChunks with deterministic IDs (so
// re-ingestion overwrites rather than duplicates) and embeds their content.
func (c *Client) buildChunks(ctx context.Context, req *IngestRequest) ([]*types.TextChunk, error) {
	texts := make([]string, len(req.Chunks))
	chunks := make([]*types.TextChunk, len(req.Chunks))
	for i, content := range req.Chunks {
		texts[i] = content
		chunks[i] = &types.TextChunk{
			ID:      fmt.Sprintf("%s-chunk-%d", req.DocID, i),
			DocID:   req.DocID,
			Index:   i,
			Content: content,
		}
	}

	embeddings, err := resilience.DoValue(ctx, c.embedExec, func(ctx context.Context) ([][]float32, error) {
		return c.embedder.Embed(ctx, texts)
	})
	if err != nil {
		return nil, &types.CollaboratorError{Collaborator: "embedder", Err: err}
	}
	for i, chunk := range chunks {
		if i < len(embeddings) {
			chunk.Embedding = embeddings[i]
		}
	}
	return chunks, nil
}

// extractChunks fans chunk extraction out over the worker pool. Extraction
// failures are partial: the failed chunk indexes are reported and the rest of
// the document continues.
func (c *Client) extractChunks(ctx context.Context, taxonomy *types.Taxonomy, chunks []*types.TextChunk) ([]*extraction.ChunkResult, []int) {
	pool := utils.NewWorkerPool(c.config.Workers, func(ctx context.Context, chunk *types.TextChunk) (*extraction.ChunkResult, error) {
		return c.extractor.ExtractChunk(ctx, taxonomy, chunk), nil
	})
	results, errs := pool.ProcessItems(ctx, chunks)

	var failed []int
	kept := make([]*extraction.ChunkResult, 0, len(results))
	for i, res := range results {
		if errs[i] != nil {
			c.logger.Error("chunk extraction did not complete", "chunk_index", i, "error", errs[i])
			failed = append(failed, i)
			continue
		}
		if res.Failed {
			c.logger.Warn("chunk extraction failed", "chunk_index", res.ChunkIndex, "error", res.Err)
			failed = append(failed, res.ChunkIndex)
			continue
		}
		kept = append(kept, res)
	}
	return kept, failed
}

// resolve merges this document's candidates into the persisted canonical
// entities and maps candidate relationships onto canonical IDs. New entities
// are embedded so graph-mode retrieval can seed from them.
func (c *Client) resolve(ctx context.Context, taxonomy *types.Taxonomy, docID string, extracted []*extraction.ChunkResult) ([]*types.Entity, []*types.Relationship, error) {
	var candidates []*types.CandidateEntity
	var relCandidates []*types.CandidateRelationship
	for _, res := range extracted {
		candidates = append(candidates, res.Entities...)
		relCandidates = append(relCandidates, res.Relationships...)
	}

	existing, err := c.store.EntitiesByTypes(ctx, taxonomy.TypeNames())
	if err != nil {
		return nil, nil, err
	}

	resolved, err := c.resolver.Resolve(ctx, docID, candidates, existing)
	if err != nil {
		return nil, nil, err
	}

	// A mention bridging several persisted canonicals retires the duplicates:
	// the store re-points their relationships to the survivor and deletes them.
	if len(resolved.Retired) > 0 {
		if err := c.store.MergeEntities(ctx, resolved.Retired); err != nil {
			return nil, nil, err
		}
		c.logger.Info("consolidated duplicate entities", "doc_id", docID, "retired", len(resolved.Retired))
	}

	if err := c.embedEntities(ctx, resolved.Entities); err != nil {
		return nil, nil, err
	}

	relationships := resolver.ResolveRelationships(relCandidates, resolved.NameToID, docID)
	return resolved.Entities, relationships, nil
}

func (c *Client) embedEntities(ctx context.Context, entities []*types.Entity) error {
	var missing []*types.Entity
	var texts []string
	for _, e := range entities {
		if len(e.Embedding) > 0 {
			continue
		}
		missing = append(missing, e)
		text := e.Name
		if e.Description != "" {
			text += ": " + e.Description
		}
		texts = append(texts, text)
	}
	if len(missing) == 0 {
		return nil
	}

	embeddings, err := resilience.DoValue(ctx, c.embedExec, func(ctx context.Context) ([][]float32, error) {
		return c.embedder.Embed(ctx, texts)
	})
	if err != nil {
		return &types.CollaboratorError{Collaborator: "embedder", Err: err}
	}
	for i, e := range missing {
		if i < len(embeddings) {
			e.Embedding = embeddings[i]
		}
	}
	return nil
}

// abort marks the document failed and returns the cause. The status write
// must survive the cancellation that triggered the abort, or the document
// stays wedged in processing and rejects re-ingestion.
func (c *Client) abort(ctx context.Context, docID string, cause error) error {
	if err := c.builder.Fail(context.WithoutCancel(ctx), docID); err != nil {
		c.logger.Error("failed to mark document failed", "doc_id", docID, "error", err)
	}
	return cause
}
