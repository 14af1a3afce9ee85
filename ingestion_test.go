package ragengine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/llm"
	"github.com/twattier/rag-engine/pkg/types"
)

const acmeExtraction = `{
	"entities": [
		{"name": "Jane Smith", "type": "person", "description": "CEO of Acme Corp", "confidence": 0.95},
		{"name": "Acme Corp", "type": "organization", "description": "A company", "confidence": 0.9}
	],
	"relationships": [
		{"source": "Jane Smith", "target": "Acme Corp", "type": "leads", "description": "Jane Smith leads Acme Corp", "confidence": 0.9}
	]
}`

const bobExtraction = `{
	"entities": [
		{"name": "Bob Jones", "type": "person", "description": "Engineer", "confidence": 0.9},
		{"name": "Acme Corp", "type": "organization", "description": "Employer", "confidence": 0.9}
	],
	"relationships": [
		{"source": "Bob Jones", "target": "Acme Corp", "type": "employed by", "confidence": 0.85}
	]
}`

// chunkLLM keys responses by a marker found in the prompt, which keeps the
// chunk-to-response mapping stable under parallel extraction workers.
type chunkLLM struct {
	mu        sync.Mutex
	responses map[string]string // prompt substring -> response
	calls     int
}

func (m *chunkLLM) Generate(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	prompt := ""
	for _, msg := range messages {
		prompt += msg.Content
	}
	for marker, response := range m.responses {
		if strings.Contains(prompt, marker) {
			return &llm.Response{Content: response}, nil
		}
	}
	return &llm.Response{Content: "this is not json at all"}, nil
}

func (m *chunkLLM) Model() string { return "mock" }
func (m *chunkLLM) Close() error  { return nil }

func TestIngestBuildsGraph(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	llmClient := &chunkLLM{responses: map[string]string{
		"Dr. Jane Smith": acmeExtraction,
	}}
	client := newTestClient(t, store, llmClient, &fakeEmbedder{}, nil)

	result, err := client.Ingest(ctx, &IngestRequest{
		DocID:    "doc-1",
		Chunks:   []string{"Dr. Jane Smith, CEO of Acme Corp"},
		Metadata: map[string]interface{}{"department": "engineering"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.DocumentIndexed, result.Status)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, 2, result.EntityCount)
	assert.Equal(t, 1, result.RelationshipCount)
	assert.Empty(t, result.FailedChunks)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntityCount)
	assert.Equal(t, int64(1), stats.RelationshipCount)

	entities, err := store.EntitiesByTypes(ctx, []string{"person", "organization"})
	require.NoError(t, err)
	for _, e := range entities {
		assert.NotEmpty(t, e.Embedding, "resolved entities are embedded for graph retrieval")
	}
}

func TestIngestMergesIntoExistingCanonicals(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	llmClient := &chunkLLM{responses: map[string]string{
		"Dr. Jane Smith": acmeExtraction,
		"Bob Jones":      bobExtraction,
	}}
	client := newTestClient(t, store, llmClient, &fakeEmbedder{}, nil)

	_, err := client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-1",
		Chunks: []string{"Dr. Jane Smith, CEO of Acme Corp"},
	})
	require.NoError(t, err)

	_, err = client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-2",
		Chunks: []string{"Bob Jones works at Acme Corp"},
	})
	require.NoError(t, err)

	// Acme Corp resolves to the same canonical entity across documents.
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.EntityCount)

	entities, err := store.EntitiesByTypes(ctx, []string{"organization"})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, entities[0].SourceIDs)
}

func TestIngestContinuesPastFailedChunks(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	// The second chunk has no keyed response, so the mock answers with
	// garbage on both the first attempt and the strict retry.
	llmClient := &chunkLLM{responses: map[string]string{
		"Dr. Jane Smith": acmeExtraction,
	}}
	client := newTestClient(t, store, llmClient, &fakeEmbedder{}, nil)

	result, err := client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-1",
		Chunks: []string{"Dr. Jane Smith, CEO of Acme Corp", "garbled scan fragment"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.DocumentIndexed, result.Status)
	assert.Equal(t, 2, result.ChunkCount)
	assert.Equal(t, []int{1}, result.FailedChunks)
	assert.Equal(t, 2, result.EntityCount)
}

func TestIngestEmbedderFailureMarksDocumentFailed(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	embed := &fakeEmbedder{err: errors.New("embedding service down")}
	client := newTestClient(t, store, &chunkLLM{}, embed, nil)

	_, err := client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-1",
		Chunks: []string{"some text"},
	})
	var collabErr *types.CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, "embedder", collabErr.Collaborator)

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, doc.Status)

	// Failed documents are retryable once the collaborator recovers.
	embed.err = nil
	llmOK := &chunkLLM{responses: map[string]string{"some text": acmeExtraction}}
	client2 := newTestClient(t, store, llmOK, embed, nil)
	result, err := client2.Ingest(ctx, &IngestRequest{
		DocID:  "doc-1",
		Chunks: []string{"some text"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIndexed, result.Status)
}

// Variant spellings of one firm: the first two score below the merge
// threshold against each other, while the third scores above it against both.
const firmDocOne = `{
	"entities": [
		{"name": "Global Dynamics Engineering Incorporated", "type": "organization", "description": "Engineering firm", "confidence": 0.9}
	],
	"relationships": []
}`

const firmDocTwo = `{
	"entities": [
		{"name": "Global Dynamics Engineering Incorporation", "type": "organization", "description": "Engineering company", "confidence": 0.85},
		{"name": "Bob Jones", "type": "person", "description": "Engineer", "confidence": 0.9}
	],
	"relationships": [
		{"source": "Bob Jones", "target": "Global Dynamics Engineering Incorporation", "type": "employed by", "confidence": 0.8}
	]
}`

const firmDocThree = `{
	"entities": [
		{"name": "Global Dynamics Engineering Incorporat", "type": "organization", "description": "The engineering firm", "confidence": 0.9}
	],
	"relationships": []
}`

func TestIngestConsolidatesBridgedCanonicals(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	llmClient := &chunkLLM{responses: map[string]string{
		"alpha filing": firmDocOne,
		"beta filing":  firmDocTwo,
		"gamma filing": firmDocThree,
	}}
	client := newTestClient(t, store, llmClient, &fakeEmbedder{}, nil)

	_, err := client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-1",
		Chunks: []string{"alpha filing on the engineering firm"},
	})
	require.NoError(t, err)
	_, err = client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-2",
		Chunks: []string{"beta filing naming the firm with a variant spelling"},
	})
	require.NoError(t, err)

	// The two spellings stay apart, so two canonicals coexist.
	orgs, err := store.EntitiesByTypes(ctx, []string{"organization"})
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	// A third mention close to both bridges them: the earlier-created
	// canonical survives and absorbs the other.
	_, err = client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-3",
		Chunks: []string{"gamma filing on the firm once more"},
	})
	require.NoError(t, err)

	orgs, err = store.EntitiesByTypes(ctx, []string{"organization"})
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "Global Dynamics Engineering Incorporated", orgs[0].Name)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2", "doc-3"}, orgs[0].SourceIDs)

	// The retired canonical's relationship was re-pointed to the survivor.
	hood, err := store.Neighborhood(ctx, []string{orgs[0].ID}, 10)
	require.NoError(t, err)
	require.Len(t, hood.Relationships, 1)
	assert.Equal(t, orgs[0].ID, hood.Relationships[0].TargetID)
}

// cancellingLLM cancels the ingestion context from inside the first
// extraction call, simulating a caller timeout mid-document.
type cancellingLLM struct {
	cancel context.CancelFunc
}

func (m *cancellingLLM) Generate(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	m.cancel()
	return nil, ctx.Err()
}

func (m *cancellingLLM) Model() string { return "mock" }
func (m *cancellingLLM) Close() error  { return nil }

func TestIngestCancellationMarksDocumentFailed(t *testing.T) {
	store := driver.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newTestClient(t, store, &cancellingLLM{cancel: cancel}, &fakeEmbedder{}, nil)

	_, err := client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-1",
		Chunks: []string{"first chunk", "second chunk", "third chunk", "fourth chunk"},
	})
	assert.ErrorIs(t, err, context.Canceled)

	// The status write outlives the cancellation: the document lands in
	// failed, not stuck in processing.
	doc, err := store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, doc.Status)

	// And stays retryable with a fresh context.
	llmOK := &chunkLLM{responses: map[string]string{"first chunk": acmeExtraction}}
	client2 := newTestClient(t, store, llmOK, &fakeEmbedder{}, nil)
	result, err := client2.Ingest(context.Background(), &IngestRequest{
		DocID:  "doc-1",
		Chunks: []string{"first chunk"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIndexed, result.Status)
}

func TestIngestValidatesInput(t *testing.T) {
	client := newTestClient(t, driver.NewMemoryStore(), &chunkLLM{}, &fakeEmbedder{}, nil)
	ctx := context.Background()

	_, err := client.Ingest(ctx, &IngestRequest{Chunks: []string{"x"}})
	assert.ErrorIs(t, err, types.ErrEmptyDocID)

	_, err = client.Ingest(ctx, &IngestRequest{DocID: "doc-1"})
	var validationErr *types.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	_, err = client.Ingest(ctx, &IngestRequest{
		DocID:    "doc-1",
		Chunks:   []string{"x"},
		Metadata: map[string]interface{}{"year": "not-a-number"},
	})
	assert.ErrorAs(t, err, &validationErr)
}

func TestIngestUsesTaxonomySnapshotAtCallStart(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	llmClient := &chunkLLM{responses: map[string]string{
		"Dr. Jane Smith": acmeExtraction,
	}}
	client := newTestClient(t, store, llmClient, &fakeEmbedder{}, nil)

	// Swapping to a taxonomy without "organization" drops those candidates
	// on the next ingestion.
	require.NoError(t, client.UpdateTaxonomy(2, []types.EntityTypeDef{
		{TypeName: "person", Description: "A person"},
	}))

	result, err := client.Ingest(ctx, &IngestRequest{
		DocID:  "doc-1",
		Chunks: []string{"Dr. Jane Smith, CEO of Acme Corp"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntityCount)
	// The relationship loses its organization endpoint with it.
	assert.Equal(t, 0, result.RelationshipCount)
}
