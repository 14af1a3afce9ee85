package reranker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twattier/rag-engine/pkg/llm"
)

// verdictLLM answers the relevance classifier based on passage content and
// tracks how many calls run at once.
type verdictLLM struct {
	err      error
	inFlight int64
	peak     int64
	calls    int64
}

func (m *verdictLLM) Generate(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	atomic.AddInt64(&m.calls, 1)
	cur := atomic.AddInt64(&m.inFlight, 1)
	for {
		old := atomic.LoadInt64(&m.peak)
		if cur <= old || atomic.CompareAndSwapInt64(&m.peak, old, cur) {
			break
		}
	}
	defer atomic.AddInt64(&m.inFlight, -1)

	if m.err != nil {
		return nil, m.err
	}
	prompt := ""
	for _, msg := range messages {
		prompt += msg.Content
	}
	switch {
	case strings.Contains(prompt, "relevant passage"):
		return &llm.Response{Content: "True"}, nil
	case strings.Contains(prompt, "noise passage"):
		return &llm.Response{Content: "False"}, nil
	default:
		return &llm.Response{Content: "hard to say"}, nil
	}
}

func (m *verdictLLM) Model() string { return "mock" }
func (m *verdictLLM) Close() error  { return nil }

func TestRankOrdersByVerdict(t *testing.T) {
	client := NewOpenAIClient(&verdictLLM{}, Config{MaxConcurrency: 2})

	ranked, err := client.Rank(context.Background(), "q", []string{
		"noise passage one",
		"relevant passage",
		"ambiguous text",
	})
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, 1, ranked[0].Index)
	assert.Equal(t, 0.8, ranked[0].Score)
	assert.Equal(t, 2, ranked[1].Index)
	assert.Equal(t, 0.5, ranked[1].Score)
	assert.Equal(t, 0, ranked[2].Index)
	assert.Equal(t, 0.2, ranked[2].Score)
}

func TestRankBoundsConcurrency(t *testing.T) {
	m := &verdictLLM{}
	client := NewOpenAIClient(m, Config{MaxConcurrency: 2})

	passages := make([]string, 8)
	for i := range passages {
		passages[i] = "relevant passage"
	}
	_, err := client.Rank(context.Background(), "q", passages)
	require.NoError(t, err)

	assert.LessOrEqual(t, atomic.LoadInt64(&m.peak), int64(2))
	assert.EqualValues(t, 8, atomic.LoadInt64(&m.calls))
}

func TestRankFailsWholeCallOnAnyError(t *testing.T) {
	client := NewOpenAIClient(&verdictLLM{err: errors.New("scoring backend down")}, Config{})

	_, err := client.Rank(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}

func TestRankEmptyInput(t *testing.T) {
	client := NewOpenAIClient(&verdictLLM{}, Config{})

	ranked, err := client.Rank(context.Background(), "q", nil)
	assert.NoError(t, err)
	assert.Nil(t, ranked)
}
