package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/types"
)

func testEntities(docID string) []*types.Entity {
	return []*types.Entity{
		{ID: "e1", Name: "Acme", Type: "organization", SourceIDs: []string{docID}},
		{ID: "e2", Name: "Jane", Type: "person", SourceIDs: []string{docID}},
	}
}

func TestBeginLifecycle(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	m := New(store, Config{}, nil)

	doc := &types.Document{ID: "doc-1"}
	require.NoError(t, m.Begin(ctx, doc))
	assert.Equal(t, types.DocumentProcessing, doc.Status)

	// A document mid-processing cannot be re-ingested.
	err := m.Begin(ctx, &types.Document{ID: "doc-1"})
	var validationErr *types.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	// Failed documents are explicitly retryable.
	require.NoError(t, m.Fail(ctx, "doc-1"))
	require.NoError(t, m.Begin(ctx, &types.Document{ID: "doc-1"}))

	// Indexed documents are re-ingestable in place.
	require.NoError(t, store.UpdateDocumentStatus(ctx, "doc-1", types.DocumentIndexed))
	require.NoError(t, m.Begin(ctx, &types.Document{ID: "doc-1"}))

	assert.ErrorIs(t, m.Begin(ctx, &types.Document{}), types.ErrEmptyDocID)
}

func TestPersistWritesGraph(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	m := New(store, Config{BatchSize: 1}, nil)

	doc := &types.Document{ID: "doc-1"}
	require.NoError(t, m.Begin(ctx, doc))

	chunks := []*types.TextChunk{
		{ID: "c1", DocID: "doc-1", Index: 0, Content: "Jane leads Acme"},
	}
	relationships := []*types.Relationship{
		{ID: "r1", SourceID: "e2", TargetID: "e1", Type: "LEADS", Weight: 0.8, SourceIDs: []string{"doc-1"}},
		// Invalid weight: skipped as a soft failure.
		{ID: "r2", SourceID: "e1", TargetID: "e2", Type: "EMPLOYS", Weight: 1.7, SourceIDs: []string{"doc-1"}},
	}

	result, err := m.Persist(ctx, doc, chunks, testEntities("doc-1"), relationships)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksWritten)
	assert.Equal(t, 2, result.EntitiesWritten)
	assert.Equal(t, 1, result.RelationshipsWritten)
	assert.Equal(t, 1, result.SkippedRelationships)

	persisted, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIndexed, persisted.Status)
	assert.Equal(t, 1, persisted.ChunkCount)
	assert.Equal(t, 2, persisted.EntityCount)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RelationshipCount)
}

// brokenEntityStore fails entity writes to exercise the hard-failure path.
type brokenEntityStore struct {
	*driver.MemoryStore
}

func (b *brokenEntityStore) UpsertEntities(ctx context.Context, entities []*types.Entity) error {
	return errors.New("store unavailable")
}

func TestPersistHardFailureMarksDocumentFailed(t *testing.T) {
	ctx := context.Background()
	inner := driver.NewMemoryStore()
	m := New(&brokenEntityStore{MemoryStore: inner}, Config{}, nil)

	doc := &types.Document{ID: "doc-1"}
	require.NoError(t, m.Begin(ctx, doc))

	_, err := m.Persist(ctx, doc, nil, testEntities("doc-1"), nil)
	var storageErr *types.StorageError
	require.ErrorAs(t, err, &storageErr)

	persisted, err := inner.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, persisted.Status)
}

func TestReingestionAfterFailureDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	m := New(store, Config{}, nil)

	doc := &types.Document{ID: "doc-1"}
	require.NoError(t, m.Begin(ctx, doc))
	_, err := m.Persist(ctx, doc, nil, testEntities("doc-1"), nil)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, "doc-1"))

	// Retry writes the same canonical IDs; counts must not grow.
	retry := &types.Document{ID: "doc-1"}
	require.NoError(t, m.Begin(ctx, retry))
	_, err = m.Persist(ctx, retry, nil, testEntities("doc-1"), nil)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntityCount)

	persisted, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIndexed, persisted.Status)
}

func TestPersistRespectsMetadata(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	m := New(store, Config{}, nil)

	doc := &types.Document{ID: "doc-1", Metadata: map[string]interface{}{"department": "hr"}}
	require.NoError(t, m.Begin(ctx, doc))
	_, err := m.Persist(ctx, doc, nil, nil, nil)
	require.NoError(t, err)

	schema, err := metafilter.NewSchema([]metafilter.FieldDef{
		{FieldName: "department", Type: metafilter.FieldString},
	})
	require.NoError(t, err)
	restriction, err := metafilter.Compile(metafilter.Eq("department", "hr"), schema)
	require.NoError(t, err)

	count, err := store.CountDocuments(ctx, restriction)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBatches(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	got := batches(items, 2)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2}, got[0])
	assert.Equal(t, []int{5}, got[2])

	assert.Nil(t, batches([]int{}, 2))
	assert.Len(t, batches(items, 10), 1)
}
