package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twattier/rag-engine/pkg/llm"
	"github.com/twattier/rag-engine/pkg/resilience"
	"github.com/twattier/rag-engine/pkg/types"
)

type mockLLM struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockLLM) Generate(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	idx := m.calls
	m.calls++
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return &llm.Response{Content: m.responses[idx]}, nil
}

func (m *mockLLM) Model() string { return "mock" }
func (m *mockLLM) Close() error  { return nil }

func testTaxonomy(t *testing.T) *types.Taxonomy {
	t.Helper()
	tax, err := types.NewTaxonomy(1, []types.EntityTypeDef{
		{TypeName: "person", Description: "A human being"},
		{TypeName: "organization", Description: "A company or institution"},
	})
	require.NoError(t, err)
	return tax
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor("llm-test", resilience.Config{
		MaxAttempts:    1,
		Timeout:        time.Second,
		InitialBackoff: time.Millisecond,
	}, nil)
}

func TestExtractChunk(t *testing.T) {
	validJSON := `{
		"entities": [
			{"name": "Marie Curie", "type": "person", "description": "Physicist", "confidence": 0.95},
			{"name": "Sorbonne", "type": "organization", "description": "University", "confidence": 0.9}
		],
		"relationships": [
			{"source": "Marie Curie", "target": "Sorbonne", "type": "employed_by", "description": "taught there", "keywords": "professor", "confidence": 0.85}
		]
	}`

	chunk := &types.TextChunk{
		DocID:   "doc-1",
		Index:   0,
		Content: "Marie Curie taught at the Sorbonne in Paris.",
	}

	t.Run("parses valid response", func(t *testing.T) {
		mock := &mockLLM{responses: []string{validJSON}}
		ex := New(mock, testExecutor(), Config{}, nil)

		result := ex.ExtractChunk(context.Background(), testTaxonomy(t), chunk)

		require.False(t, result.Failed)
		require.Len(t, result.Entities, 2)
		assert.Equal(t, "Marie Curie", result.Entities[0].Name)
		assert.Equal(t, "person", result.Entities[0].Type)
		assert.Equal(t, "doc-1", result.Entities[0].DocID)
		require.Len(t, result.Relationships, 1)
		assert.Equal(t, "employed_by", result.Relationships[0].Type)
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		mock := &mockLLM{responses: []string{"```json\n" + validJSON + "\n```"}}
		ex := New(mock, testExecutor(), Config{}, nil)

		result := ex.ExtractChunk(context.Background(), testTaxonomy(t), chunk)

		require.False(t, result.Failed)
		assert.Len(t, result.Entities, 2)
	})

	t.Run("repairs trailing comma", func(t *testing.T) {
		broken := `{"entities": [{"name": "Marie Curie", "type": "person", "confidence": 0.9},], "relationships": []}`
		mock := &mockLLM{responses: []string{broken}}
		ex := New(mock, testExecutor(), Config{}, nil)

		result := ex.ExtractChunk(context.Background(), testTaxonomy(t), chunk)

		require.False(t, result.Failed)
		assert.Len(t, result.Entities, 1)
	})

	t.Run("retries with strict prompt on garbage then succeeds", func(t *testing.T) {
		mock := &mockLLM{responses: []string{"I could not find any JSON to produce", validJSON}}
		ex := New(mock, testExecutor(), Config{}, nil)

		result := ex.ExtractChunk(context.Background(), testTaxonomy(t), chunk)

		require.False(t, result.Failed)
		assert.Equal(t, 2, mock.calls)
		assert.Len(t, result.Entities, 2)
	})

	t.Run("marks chunk failed after second garbage response", func(t *testing.T) {
		mock := &mockLLM{responses: []string{"nonsense", "still nonsense"}}
		ex := New(mock, testExecutor(), Config{}, nil)

		result := ex.ExtractChunk(context.Background(), testTaxonomy(t), chunk)

		require.True(t, result.Failed)
		var extractionErr *types.ExtractionError
		require.ErrorAs(t, result.Err, &extractionErr)
		assert.Equal(t, "doc-1", extractionErr.DocID)
		assert.Equal(t, 0, extractionErr.ChunkIndex)
	})

	t.Run("marks chunk failed on llm error", func(t *testing.T) {
		mock := &mockLLM{errs: []error{errors.New("boom")}, responses: []string{""}}
		ex := New(mock, testExecutor(), Config{}, nil)

		result := ex.ExtractChunk(context.Background(), testTaxonomy(t), chunk)

		require.True(t, result.Failed)
		var collabErr *types.CollaboratorError
		assert.ErrorAs(t, result.Err, &collabErr)
	})
}

func TestToCandidatesFiltering(t *testing.T) {
	ex := New(&mockLLM{}, testExecutor(), Config{MinConfidence: 0.6}, nil)
	tax := testTaxonomy(t)
	chunk := &types.TextChunk{DocID: "doc-1", Index: 3, Content: "Alice met Bob at Acme."}

	parsed := &rawExtraction{
		Entities: []rawEntity{
			{Name: "Alice", Type: "person", Confidence: 0.9},
			{Name: "", Type: "person", Confidence: 0.9},
			{Name: "Bob", Type: "person", Confidence: 0.4},
			{Name: "Acme", Type: "spaceship", Confidence: 0.9},
		},
		Relationships: []rawRelationship{
			{Source: "Alice", Target: "Bob", Type: "knows", Confidence: 0.8},
			{Source: "Alice", Target: "Alice", Type: "self", Confidence: 0.8},
		},
	}

	entities, relationships := ex.toCandidates(parsed, tax, chunk)

	require.Len(t, entities, 1)
	assert.Equal(t, "Alice", entities[0].Name)
	// Bob was dropped for low confidence, so the edge referencing him goes too.
	assert.Empty(t, relationships)
}

func TestFindTextSpan(t *testing.T) {
	tests := []struct {
		name     string
		entity   string
		text     string
		expected string
	}{
		{"verbatim match", "Marie Curie", "In 1903 Marie Curie won the Nobel Prize.", "char 8-19"},
		{"case insensitive", "SORBONNE", "She taught at the Sorbonne.", "char 18-26"},
		{"paraphrased mention", "Pierre Curie", "Her husband shared the prize.", "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, findTextSpan(tt.entity, tt.text))
		})
	}
}
