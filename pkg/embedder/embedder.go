/*
Package embedder wraps the embedding collaborator behind a small client
interface used by ingestion (chunk and entity embeddings) and by retrieval
(query embeddings).
*/
package embedder

import (
	"context"
)

// Client generates dense embedding vectors for text.
type Client interface {
	// Embed generates embeddings for a batch of texts, one vector per input
	// in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle generates an embedding for one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector dimensionality.
	Dimensions() int
	// Close releases client resources.
	Close() error
}

// Config holds embedding client configuration.
type Config struct {
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url,omitempty"`
	Dimensions int    `json:"dimensions"`
}
