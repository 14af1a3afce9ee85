/*
Package reranker provides second-pass relevance scoring over a small
candidate set. Reranking is optional per query and degrades gracefully: when
the collaborator is unavailable the caller keeps the original retrieval order
and flags a warning instead of failing the query.
*/
package reranker

import (
	"context"
)

// RankedPassage pairs a candidate passage with its rerank score.
type RankedPassage struct {
	// Index is the position of the passage in the input slice.
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Client scores candidate passages against a query.
type Client interface {
	// Rank returns one score per passage, ordered by score descending.
	Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error)
	// Close releases client resources.
	Close() error
}

// Config holds reranker configuration.
type Config struct {
	// MaxConcurrency bounds parallel scoring calls (default 5).
	MaxConcurrency int `json:"max_concurrency"`
	// TopN bounds how many candidates enter reranking (default 50).
	TopN int `json:"top_n"`
}
