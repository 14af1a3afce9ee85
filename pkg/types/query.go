package types

import (
	"time"
)

// QueryMode selects the retrieval strategy.
type QueryMode string

const (
	// QueryModeNaive runs dense-embedding similarity over text chunks only.
	QueryModeNaive QueryMode = "naive"
	// QueryModeLocal embeds the query, finds nearest entities and expands one
	// hop along relationship edges.
	QueryModeLocal QueryMode = "local"
	// QueryModeGlobal aggregates over entity communities for broad,
	// thematic queries.
	QueryModeGlobal QueryMode = "global"
	// QueryModeHybrid unions local and global results and folds in sparse
	// lexical matches.
	QueryModeHybrid QueryMode = "hybrid"
)

// ParseQueryMode validates a mode string.
func ParseQueryMode(s string) (QueryMode, error) {
	switch QueryMode(s) {
	case QueryModeNaive, QueryModeLocal, QueryModeGlobal, QueryModeHybrid:
		return QueryMode(s), nil
	case "":
		return QueryModeHybrid, nil
	default:
		return "", ErrUnknownMode
	}
}

// ScoredChunk is a retrieved text chunk with its provenance scores.
type ScoredChunk struct {
	Chunk *TextChunk `json:"chunk"`
	// Score is the merged retrieval score across strategies.
	Score float64 `json:"score"`
	// RerankScore is set only when reranking ran.
	RerankScore *float64 `json:"rerank_score,omitempty"`
	// Sources lists the strategies that produced this candidate.
	Sources []string `json:"sources,omitempty"`
}

// ScoredEntity is a retrieved entity with its merged score.
type ScoredEntity struct {
	Entity  *Entity  `json:"entity"`
	Score   float64  `json:"score"`
	Sources []string `json:"sources,omitempty"`
}

// ScoredRelationship is a retrieved relationship with its merged score.
type ScoredRelationship struct {
	Relationship *Relationship `json:"relationship"`
	Score        float64       `json:"score"`
	Sources      []string      `json:"sources,omitempty"`
}

// LatencyBreakdown records wall-clock time per retrieval stage, used to
// verify the filtered-vs-unfiltered latency-reduction property.
type LatencyBreakdown struct {
	EmbeddingMs   int64            `json:"embedding_ms"`
	RetrievalMs   int64            `json:"retrieval_ms"`
	RerankMs      int64            `json:"rerank_ms"`
	TotalMs       int64            `json:"total_ms"`
	PerStrategyMs map[string]int64 `json:"per_strategy_ms,omitempty"`
}

// QueryResult is the assembled, ranked answer to one query. It is ephemeral:
// never persisted beyond caching.
type QueryResult struct {
	Mode          QueryMode             `json:"mode"`
	Chunks        []*ScoredChunk        `json:"chunks"`
	Entities      []*ScoredEntity       `json:"entities"`
	Relationships []*ScoredRelationship `json:"relationships"`
	// FilteredDocCount is the size of the allowed document set when a
	// metadata filter was applied, -1 otherwise.
	FilteredDocCount int  `json:"filtered_doc_count"`
	Reranked         bool `json:"reranked"`
	// Warning is set when the query degraded (e.g. reranker unavailable)
	// instead of failing.
	Warning string           `json:"warning,omitempty"`
	Latency LatencyBreakdown `json:"latency"`
	AskedAt time.Time        `json:"asked_at"`
}

// IngestResult summarizes one document ingestion.
type IngestResult struct {
	DocID             string         `json:"doc_id"`
	Status            DocumentStatus `json:"status"`
	ChunkCount        int            `json:"chunk_count"`
	EntityCount       int            `json:"entity_count"`
	RelationshipCount int            `json:"relationship_count"`
	// FailedChunks lists chunk indexes whose extraction failed after the
	// stricter-prompt retry. Partial failure, not document failure.
	FailedChunks []int         `json:"failed_chunks,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// GraphStats summarizes the persisted graph.
type GraphStats struct {
	DocumentCount          int64            `json:"document_count"`
	ChunkCount             int64            `json:"chunk_count"`
	EntityCount            int64            `json:"entity_count"`
	RelationshipCount      int64            `json:"relationship_count"`
	EntityTypeDistribution map[string]int64 `json:"entity_type_distribution"`
}
