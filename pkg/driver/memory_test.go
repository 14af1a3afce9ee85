package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/types"
)

func seedDocument(t *testing.T, store *MemoryStore, docID string, metadata map[string]interface{}) {
	t.Helper()
	require.NoError(t, store.UpsertDocument(context.Background(), &types.Document{
		ID:       docID,
		Status:   types.DocumentIndexed,
		Metadata: metadata,
	}))
}

func TestMemoryStoreDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seedDocument(t, store, "doc-1", nil)

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIndexed, doc.Status)

	require.NoError(t, store.UpdateDocumentStatus(ctx, "doc-1", types.DocumentFailed))
	doc, err = store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, doc.Status)

	_, err = store.GetDocument(ctx, "missing")
	var storageErr *types.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)
}

func TestMemoryStoreDeleteCascade(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seedDocument(t, store, "doc-1", nil)
	seedDocument(t, store, "doc-2", nil)

	require.NoError(t, store.UpsertChunks(ctx, []*types.TextChunk{
		{ID: "c1", DocID: "doc-1", Content: "alpha", Embedding: []float32{1, 0}},
		{ID: "c2", DocID: "doc-2", Content: "beta", Embedding: []float32{0, 1}},
	}))

	// Shared entity referenced by both documents; solo entity only by doc-1.
	require.NoError(t, store.UpsertEntities(ctx, []*types.Entity{
		{ID: "shared", Name: "Shared", Type: "person", SourceIDs: []string{"doc-1", "doc-2"}},
		{ID: "solo", Name: "Solo", Type: "person", SourceIDs: []string{"doc-1"}},
	}))
	require.NoError(t, store.UpsertRelationships(ctx, []*types.Relationship{
		{ID: "r1", SourceID: "shared", TargetID: "solo", Type: "KNOWS", Weight: 0.5, SourceIDs: []string{"doc-1"}},
	}))

	result, err := store.DeleteDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksDeleted)
	assert.Equal(t, 1, result.EntitiesDeleted)
	assert.Equal(t, 1, result.RelationshipsDeleted)

	remaining, err := store.GetEntities(ctx, []string{"shared", "solo"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "shared", remaining[0].ID)
	assert.Equal(t, []string{"doc-2"}, remaining[0].SourceIDs)
}

func TestMemoryStoreRelationshipMerge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seedDocument(t, store, "doc-1", nil)
	require.NoError(t, store.UpsertEntities(ctx, []*types.Entity{
		{ID: "a", Name: "A", Type: "person", SourceIDs: []string{"doc-1"}},
		{ID: "b", Name: "B", Type: "person", SourceIDs: []string{"doc-1"}},
	}))

	require.NoError(t, store.UpsertRelationships(ctx, []*types.Relationship{
		{ID: "r1", SourceID: "a", TargetID: "b", Type: "KNOWS", Weight: 0.4, SourceIDs: []string{"doc-1"}},
	}))
	require.NoError(t, store.UpsertRelationships(ctx, []*types.Relationship{
		{ID: "r2", SourceID: "a", TargetID: "b", Type: "knows", Weight: 0.9, SourceIDs: []string{"doc-2"}},
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RelationshipCount)

	hood, err := store.Neighborhood(ctx, []string{"a"}, 10)
	require.NoError(t, err)
	require.Len(t, hood.Relationships, 1)
	assert.Equal(t, 0.9, hood.Relationships[0].Weight)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, hood.Relationships[0].SourceIDs)
}

func TestMemoryStoreMergeEntities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedDocument(t, store, "doc-1", nil)
	seedDocument(t, store, "doc-2", nil)

	require.NoError(t, store.UpsertEntities(ctx, []*types.Entity{
		{ID: "survivor", Name: "Acme Incorporated", Type: "organization", SourceIDs: []string{"doc-1", "doc-2"}},
		{ID: "retired", Name: "Acme Incorporation", Type: "organization", SourceIDs: []string{"doc-2"}},
		{ID: "emp", Name: "Bob", Type: "person", SourceIDs: []string{"doc-2"}},
		{ID: "city", Name: "Springfield", Type: "location", SourceIDs: []string{"doc-2"}},
	}))
	require.NoError(t, store.UpsertRelationships(ctx, []*types.Relationship{
		{ID: "r1", SourceID: "emp", TargetID: "survivor", Type: "WORKS_AT", Weight: 0.3, SourceIDs: []string{"doc-1"}},
		{ID: "r2", SourceID: "emp", TargetID: "retired", Type: "WORKS_AT", Weight: 0.8, SourceIDs: []string{"doc-2"}},
		{ID: "r3", SourceID: "retired", TargetID: "city", Type: "LOCATED_IN", Weight: 0.5, SourceIDs: []string{"doc-2"}},
		{ID: "r4", SourceID: "survivor", TargetID: "retired", Type: "ABSORBED", Weight: 0.4, SourceIDs: []string{"doc-2"}},
	}))

	require.NoError(t, store.MergeEntities(ctx, map[string]string{"retired": "survivor"}))

	remaining, err := store.GetEntities(ctx, []string{"survivor", "retired"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "survivor", remaining[0].ID)

	// The re-pointed edge collides with an existing triple and merges into
	// it; the edge to the city just moves; the survivor-retired edge becomes
	// a self-loop and is dropped.
	hood, err := store.Neighborhood(ctx, []string{"survivor"}, 10)
	require.NoError(t, err)
	require.Len(t, hood.Relationships, 2)

	byType := map[string]*types.Relationship{}
	for _, rel := range hood.Relationships {
		byType[rel.Type] = rel
	}
	worksAt := byType["WORKS_AT"]
	require.NotNil(t, worksAt)
	assert.Equal(t, "survivor", worksAt.TargetID)
	assert.Equal(t, 0.8, worksAt.Weight)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, worksAt.SourceIDs)

	located := byType["LOCATED_IN"]
	require.NotNil(t, located)
	assert.Equal(t, "survivor", located.SourceID)
	assert.Equal(t, "city", located.TargetID)
}

func TestMemoryStoreRelationshipRequiresEndpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedDocument(t, store, "doc-1", nil)

	err := store.UpsertRelationships(ctx, []*types.Relationship{
		{ID: "r1", SourceID: "ghost", TargetID: "ghost2", Type: "KNOWS", Weight: 0.4},
	})
	var storageErr *types.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestMemoryStoreFilteredSearch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	schema, err := metafilter.NewSchema([]metafilter.FieldDef{
		{FieldName: "department", Type: metafilter.FieldString},
	})
	require.NoError(t, err)

	seedDocument(t, store, "doc-hr", map[string]interface{}{"department": "hr"})
	seedDocument(t, store, "doc-eng", map[string]interface{}{"department": "engineering"})

	require.NoError(t, store.UpsertChunks(ctx, []*types.TextChunk{
		{ID: "c1", DocID: "doc-hr", Content: "vacation policy", Embedding: []float32{1, 0}},
		{ID: "c2", DocID: "doc-eng", Content: "vacation deployment", Embedding: []float32{1, 0}},
	}))

	restriction, err := metafilter.Compile(metafilter.Eq("department", "hr"), schema)
	require.NoError(t, err)

	count, err := store.CountDocuments(ctx, restriction)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	dense, err := store.ChunksByEmbedding(ctx, []float32{1, 0}, 10, restriction)
	require.NoError(t, err)
	require.Len(t, dense, 1)
	assert.Equal(t, "doc-hr", dense[0].Chunk.DocID)

	sparse, err := store.ChunksByKeyword(ctx, "vacation", 10, restriction)
	require.NoError(t, err)
	require.Len(t, sparse, 1)
	assert.Equal(t, "doc-hr", sparse[0].Chunk.DocID)
}

func TestMemoryStoreKeywordScoring(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedDocument(t, store, "doc-1", nil)

	require.NoError(t, store.UpsertChunks(ctx, []*types.TextChunk{
		{ID: "c1", DocID: "doc-1", Content: "the quarterly revenue report"},
		{ID: "c2", DocID: "doc-1", Content: "revenue only"},
		{ID: "c3", DocID: "doc-1", Content: "nothing relevant"},
	}))

	scored, err := store.ChunksByKeyword(ctx, "quarterly revenue", 10, nil)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "c1", scored[0].Chunk.ID)
	assert.Equal(t, 1.0, scored[0].Score)
	assert.Equal(t, 0.5, scored[1].Score)
}

func TestMemoryStoreTopDegreeEntities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedDocument(t, store, "doc-1", nil)

	require.NoError(t, store.UpsertEntities(ctx, []*types.Entity{
		{ID: "hub", Name: "Hub", Type: "organization", SourceIDs: []string{"doc-1"}},
		{ID: "a", Name: "A", Type: "person", SourceIDs: []string{"doc-1"}},
		{ID: "b", Name: "B", Type: "person", SourceIDs: []string{"doc-1"}},
	}))
	require.NoError(t, store.UpsertRelationships(ctx, []*types.Relationship{
		{ID: "r1", SourceID: "a", TargetID: "hub", Type: "WORKS_AT", Weight: 0.5, SourceIDs: []string{"doc-1"}},
		{ID: "r2", SourceID: "b", TargetID: "hub", Type: "WORKS_AT", Weight: 0.5, SourceIDs: []string{"doc-1"}},
	}))

	top, err := store.TopDegreeEntities(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "hub", top[0].Entity.ID)
	assert.Equal(t, 1.0, top[0].Score)
}

func TestMemoryStoreCommunities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.ReplaceCommunities(ctx, []*types.Community{
		{ID: "com-1", MemberIDs: []string{"a", "b"}, Summary: "first", Size: 2, UpdatedAt: time.Now()},
		{ID: "com-2", MemberIDs: []string{"c"}, Summary: "second", Size: 1, UpdatedAt: time.Now()},
	}))

	found, err := store.CommunitiesForEntities(ctx, []string{"b"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "com-1", found[0].ID)

	require.NoError(t, store.ReplaceCommunities(ctx, nil))
	found, err = store.CommunitiesForEntities(ctx, []string{"b"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, float64(CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})), 1e-6)
	assert.InDelta(t, 0.0, float64(CosineSimilarity([]float32{1, 0}, []float32{0, 1})), 1e-6)
	assert.Equal(t, float32(0), CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, float32(0), CosineSimilarity(nil, nil))
}
