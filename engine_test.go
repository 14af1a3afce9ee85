package ragengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/llm"
	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/reranker"
	"github.com/twattier/rag-engine/pkg/resilience"
	"github.com/twattier/rag-engine/pkg/types"
)

// mockLLM replays canned responses in order.
type mockLLM struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockLLM) Generate(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	content := "{}"
	if i < len(m.responses) {
		content = m.responses[i]
	} else if len(m.responses) > 0 {
		content = m.responses[len(m.responses)-1]
	}
	return &llm.Response{Content: content}, nil
}

func (m *mockLLM) Model() string { return "mock" }
func (m *mockLLM) Close() error  { return nil }

// fakeEmbedder maps texts to fixed vectors, defaulting to the x axis.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.EmbedSingle(ctx, t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Close() error    { return nil }

// mockReranker reverses the passage order so reordering is observable.
type mockReranker struct {
	err   error
	calls int
}

func (m *mockReranker) Rank(ctx context.Context, query string, passages []string) ([]reranker.RankedPassage, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]reranker.RankedPassage, len(passages))
	for i := range passages {
		idx := len(passages) - 1 - i
		out[i] = reranker.RankedPassage{Index: idx, Score: float64(len(passages) - i)}
	}
	return out, nil
}

func (m *mockReranker) Close() error { return nil }

func testTaxonomy(t *testing.T) *types.Taxonomy {
	t.Helper()
	tax, err := types.NewTaxonomy(1, []types.EntityTypeDef{
		{TypeName: "person", Description: "A person"},
		{TypeName: "organization", Description: "A company or institution"},
	})
	require.NoError(t, err)
	return tax
}

func testSchema(t *testing.T) *metafilter.Schema {
	t.Helper()
	schema, err := metafilter.NewSchema([]metafilter.FieldDef{
		{FieldName: "department", Type: metafilter.FieldString},
		{FieldName: "year", Type: metafilter.FieldInteger},
	})
	require.NoError(t, err)
	return schema
}

func fastResilience() resilience.Config {
	return resilience.Config{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		Timeout:        5 * time.Second,
	}
}

func newTestClient(t *testing.T, store driver.GraphStore, llmClient llm.Client, embed *fakeEmbedder, rerank reranker.Client) *Client {
	t.Helper()
	client, err := NewClient(store, llmClient, embed, rerank, testTaxonomy(t), testSchema(t), Config{
		Workers:                 2,
		DisableCommunityRebuild: true,
		Resilience:              fastResilience(),
	}, nil)
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresCollaborators(t *testing.T) {
	store := driver.NewMemoryStore()
	embed := &fakeEmbedder{}
	tax := testTaxonomy(t)
	schema := testSchema(t)

	_, err := NewClient(nil, &mockLLM{}, embed, nil, tax, schema, Config{}, nil)
	assert.Error(t, err)

	_, err = NewClient(store, nil, embed, nil, tax, schema, Config{}, nil)
	assert.Error(t, err)

	_, err = NewClient(store, &mockLLM{}, nil, nil, tax, schema, Config{}, nil)
	assert.Error(t, err)

	_, err = NewClient(store, &mockLLM{}, embed, nil, nil, schema, Config{}, nil)
	assert.Error(t, err)

	// Reranker is optional.
	client, err := NewClient(store, &mockLLM{}, embed, nil, tax, schema, Config{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestDeleteValidatesDocID(t *testing.T) {
	client := newTestClient(t, driver.NewMemoryStore(), &mockLLM{}, &fakeEmbedder{}, nil)

	_, err := client.Delete(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrEmptyDocID)
}

func TestUpdateTaxonomyRejectsStaleVersion(t *testing.T) {
	client := newTestClient(t, driver.NewMemoryStore(), &mockLLM{}, &fakeEmbedder{}, nil)

	defs := []types.EntityTypeDef{{TypeName: "location", Description: "A place"}}
	require.NoError(t, client.UpdateTaxonomy(2, defs))

	err := client.UpdateTaxonomy(2, defs)
	var validationErr *types.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	assert.Equal(t, int64(2), client.taxonomy.Current().Version())
}

func TestGraphStats(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore()
	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "doc-1", Status: types.DocumentIndexed}))

	client := newTestClient(t, store, &mockLLM{}, &fakeEmbedder{}, nil)
	stats, err := client.GraphStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DocumentCount)
}
