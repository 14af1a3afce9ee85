/*
Package driver abstracts the graph/vector store collaborator behind the
GraphStore interface. The Neo4j implementation is the production backend;
MemoryStore implements the same contract in process for tests.

Metadata restrictions are pushed down: the compiled predicate narrows the
candidate document set inside the store before similarity scoring, instead of
filtering results client-side.
*/
package driver

import (
	"context"

	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/types"
)

// Neighborhood is the one-hop expansion around a set of seed entities.
type Neighborhood struct {
	Entities      []*types.Entity
	Relationships []*types.Relationship
}

// DeleteResult reports what a cascading document delete removed.
type DeleteResult struct {
	ChunksDeleted        int `json:"chunks_deleted"`
	EntitiesDeleted      int `json:"entities_deleted"`
	RelationshipsDeleted int `json:"relationships_deleted"`
}

// GraphStore is the persistence contract consumed by the construction
// manager, the retrieval orchestrator and the engine.
type GraphStore interface {
	// UpsertDocument creates or updates a document node.
	UpsertDocument(ctx context.Context, doc *types.Document) error
	// GetDocument returns a document or types.StorageError wrapping
	// ErrDocumentNotFound.
	GetDocument(ctx context.Context, docID string) (*types.Document, error)
	// UpdateDocumentStatus moves a document through its lifecycle.
	UpdateDocumentStatus(ctx context.Context, docID string, status types.DocumentStatus) error
	// DeleteDocument removes a document, its chunks, and any entities or
	// relationships whose source_ids become empty.
	DeleteDocument(ctx context.Context, docID string) (*DeleteResult, error)
	// CountDocuments returns how many documents satisfy the restriction
	// (all documents when nil).
	CountDocuments(ctx context.Context, restriction *metafilter.Restriction) (int, error)

	// UpsertChunks writes a document's chunks.
	UpsertChunks(ctx context.Context, chunks []*types.TextChunk) error

	// EntitiesByTypes returns the persisted canonical entities of the given
	// types, for incremental resolution.
	EntitiesByTypes(ctx context.Context, typeNames []string) ([]*types.Entity, error)
	// GetEntities returns entities by ID, skipping missing ones.
	GetEntities(ctx context.Context, ids []string) ([]*types.Entity, error)
	// UpsertEntities writes canonical entities. Idempotent by ID.
	UpsertEntities(ctx context.Context, entities []*types.Entity) error
	// UpsertRelationships writes edges. Both endpoints must already be
	// persisted. Idempotent by the canonical triple.
	UpsertRelationships(ctx context.Context, relationships []*types.Relationship) error
	// MergeEntities re-points relationships from each retired entity to its
	// survivor and deletes the retired entities. retired maps retired ID to
	// surviving ID.
	MergeEntities(ctx context.Context, retired map[string]string) error

	// ChunksByEmbedding runs dense nearest-neighbor search over chunks,
	// restricted to documents matching the restriction when non-nil.
	ChunksByEmbedding(ctx context.Context, embedding []float32, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error)
	// ChunksByKeyword runs sparse lexical matching over chunk text.
	ChunksByKeyword(ctx context.Context, query string, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error)
	// ChunksForDocuments runs dense search restricted to the given documents.
	ChunksForDocuments(ctx context.Context, docIDs []string, embedding []float32, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error)
	// EntitiesByEmbedding runs dense nearest-neighbor search over entities.
	EntitiesByEmbedding(ctx context.Context, embedding []float32, topK int) ([]*types.ScoredEntity, error)
	// Neighborhood expands one hop from the seed entities.
	Neighborhood(ctx context.Context, entityIDs []string, limit int) (*Neighborhood, error)
	// TopDegreeEntities returns the most connected entities.
	TopDegreeEntities(ctx context.Context, limit int) ([]*types.ScoredEntity, error)

	// EntityGraph returns the full entity graph, for community detection.
	EntityGraph(ctx context.Context) ([]*types.Entity, []*types.Relationship, error)
	// ReplaceCommunities swaps the stored community set wholesale.
	ReplaceCommunities(ctx context.Context, communities []*types.Community) error
	// CommunitiesForEntities returns the communities containing any of the
	// given entities.
	CommunitiesForEntities(ctx context.Context, entityIDs []string) ([]*types.Community, error)

	// Stats summarizes the persisted graph.
	Stats(ctx context.Context) (*types.GraphStats, error)
	// Close releases store resources.
	Close(ctx context.Context) error
}
