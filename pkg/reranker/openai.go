package reranker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/twattier/rag-engine/pkg/llm"
	"github.com/twattier/rag-engine/pkg/utils"
)

// OpenAIClient implements Client by running a boolean relevance classifier
// prompt per passage and ranking by the classifier's verdict.
type OpenAIClient struct {
	llm  llm.Client
	exec *utils.ConcurrentExecutor
}

// NewOpenAIClient creates a reranker on top of an LLM client.
func NewOpenAIClient(llmClient llm.Client, config Config) *OpenAIClient {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	return &OpenAIClient{
		llm:  llmClient,
		exec: utils.NewConcurrentExecutor(config.MaxConcurrency),
	}
}

// Rank implements Client. Passages are scored concurrently under the bounded
// executor; a failure on any passage fails the whole call so the caller can
// fall back to the original order.
func (c *OpenAIClient) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	scores := make([]float64, len(passages))
	functions := make([]func() error, len(passages))
	for i, passage := range passages {
		functions[i] = func() error {
			score, err := c.scorePassage(ctx, query, passage)
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		}
	}

	for i, err := range c.exec.Execute(ctx, functions...) {
		if err != nil {
			return nil, fmt.Errorf("failed to score passage %d: %w", i, err)
		}
	}

	ranked := make([]RankedPassage, len(passages))
	for i, score := range scores {
		ranked[i] = RankedPassage{Index: i, Score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}

func (c *OpenAIClient) scorePassage(ctx context.Context, query, passage string) (float64, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an expert tasked with determining whether the passage is relevant to the query"},
		{Role: llm.RoleUser, Content: fmt.Sprintf(`Respond with "True" if PASSAGE is relevant to QUERY and "False" otherwise.
<PASSAGE>
%s
</PASSAGE>
<QUERY>
%s
</QUERY>`, passage, query)},
	}

	resp, err := c.llm.Generate(ctx, messages)
	if err != nil {
		return 0, err
	}

	verdict := strings.ToLower(strings.TrimSpace(resp.Content))
	switch {
	case strings.HasPrefix(verdict, "true"), strings.HasPrefix(verdict, "yes"):
		return 0.8, nil
	case strings.HasPrefix(verdict, "false"), strings.HasPrefix(verdict, "no"):
		return 0.2, nil
	default:
		return 0.5, nil
	}
}

// Close implements Client.
func (c *OpenAIClient) Close() error { return nil }
