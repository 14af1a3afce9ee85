package ragengine

import (
	"context"
	"time"

	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/reranker"
	"github.com/twattier/rag-engine/pkg/resilience"
	"github.com/twattier/rag-engine/pkg/search"
	"github.com/twattier/rag-engine/pkg/types"
)

// QueryRequest describes one query. An empty mode selects hybrid.
type QueryRequest struct {
	Query string          `json:"query"`
	Mode  types.QueryMode `json:"mode,omitempty"`
	TopK  int             `json:"top_k,omitempty"`
	// Filter narrows retrieval to documents matching the metadata filter.
	// Validated against the active schema before any retrieval work.
	Filter *metafilter.Filter `json:"filter,omitempty"`
	// DisableRerank skips the reranking stage for this query.
	DisableRerank bool `json:"disable_rerank,omitempty"`
}

// Query answers one query. Malformed filters are rejected synchronously; a
// failing non-naive retrieval degrades to a best-effort naive result with a
// warning, and an unavailable reranker keeps the original order with a
// warning. Cancelling the context aborts in-flight sub-strategies.
func (c *Client) Query(ctx context.Context, req *QueryRequest) (*types.QueryResult, error) {
	started := time.Now()

	if req.Query == "" {
		return nil, &types.ValidationError{Field: "query", Reason: "query text is required"}
	}
	mode, err := types.ParseQueryMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = c.config.DefaultTopK
	}

	// With reranking on, retrieval over-fetches up to RerankTopN candidates so
	// the cross-encoder can promote a passage from beyond the final top-k. The
	// result is cut back to top-k after reranking.
	useRerank := c.reranker != nil && !req.DisableRerank
	poolK := topK
	if useRerank && c.config.RerankTopN > poolK {
		poolK = c.config.RerankTopN
	}

	restriction, err := metafilter.Compile(req.Filter, c.schema)
	if err != nil {
		return nil, err
	}
	filteredDocs := -1
	if restriction != nil {
		filteredDocs, err = c.store.CountDocuments(ctx, restriction)
		if err != nil {
			return nil, err
		}
	}

	result := &types.QueryResult{
		Mode:             mode,
		FilteredDocCount: filteredDocs,
		AskedAt:          started,
	}

	retrievalStart := time.Now()
	retrieved, err := c.retrieve(ctx, &search.Request{
		Query:       req.Query,
		Mode:        mode,
		TopK:        poolK,
		Restriction: restriction,
	}, result)
	if err != nil {
		return nil, err
	}
	result.Latency.RetrievalMs = time.Since(retrievalStart).Milliseconds()
	result.Latency.EmbeddingMs = retrieved.EmbeddingMs
	result.Latency.PerStrategyMs = retrieved.PerStrategyMs

	result.Chunks = retrieved.Chunks
	result.Entities = retrieved.Entities
	result.Relationships = retrieved.Relationships

	if useRerank && len(result.Chunks) > 1 {
		c.rerank(ctx, req.Query, result)
	}
	truncateResult(result, topK)

	result.Latency.TotalMs = time.Since(started).Milliseconds()
	return result, nil
}

// truncateResult cuts the candidate pool back to the requested top-k.
func truncateResult(result *types.QueryResult, topK int) {
	if len(result.Chunks) > topK {
		result.Chunks = result.Chunks[:topK]
	}
	if len(result.Entities) > topK {
		result.Entities = result.Entities[:topK]
	}
	if len(result.Relationships) > topK {
		result.Relationships = result.Relationships[:topK]
	}
}

// retrieve runs the orchestrator, falling back to naive mode with a warning
// when a richer mode fails outright.
func (c *Client) retrieve(ctx context.Context, req *search.Request, result *types.QueryResult) (*search.Result, error) {
	retrieved, err := c.searcher.Retrieve(ctx, req)
	if err == nil {
		return retrieved, nil
	}
	if req.Mode == types.QueryModeNaive || ctx.Err() != nil {
		return nil, err
	}

	c.logger.Warn("retrieval degraded to naive mode", "mode", req.Mode, "error", err)
	naiveReq := *req
	naiveReq.Mode = types.QueryModeNaive
	retrieved, naiveErr := c.searcher.Retrieve(ctx, &naiveReq)
	if naiveErr != nil {
		// Degradation failed too; surface the original failure.
		return nil, err
	}
	result.Mode = types.QueryModeNaive
	result.Warning = "graph retrieval unavailable, returning naive results"
	return retrieved, nil
}

// rerank scores up to RerankTopN retrieved chunks with the cross-encoder and
// reorders them. Unavailability degrades to the original retrieval order.
func (c *Client) rerank(ctx context.Context, query string, result *types.QueryResult) {
	rerankStart := time.Now()

	n := c.config.RerankTopN
	if n > len(result.Chunks) {
		n = len(result.Chunks)
	}
	passages := make([]string, n)
	for i := 0; i < n; i++ {
		passages[i] = result.Chunks[i].Chunk.Content
	}

	ranked, err := resilience.DoValue(ctx, c.rankExec, func(ctx context.Context) ([]reranker.RankedPassage, error) {
		return c.reranker.Rank(ctx, query, passages)
	})
	result.Latency.RerankMs = time.Since(rerankStart).Milliseconds()
	if err != nil {
		c.logger.Warn("reranking unavailable, keeping retrieval order", "error", err)
		result.Warning = "reranking unavailable, results ordered by retrieval score"
		return
	}

	reordered := make([]*types.ScoredChunk, 0, len(result.Chunks))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= n {
			continue
		}
		chunk := result.Chunks[r.Index]
		score := r.Score
		chunk.RerankScore = &score
		reordered = append(reordered, chunk)
	}
	reordered = append(reordered, result.Chunks[n:]...)
	result.Chunks = reordered
	result.Reranked = true
}
