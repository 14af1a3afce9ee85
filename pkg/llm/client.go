/*
Package llm wraps the LLM collaborator behind a small client interface. The
engine never implements model inference; it orchestrates calls and interprets
outputs. An injectable badger-backed cache avoids redundant generation calls
for identical prompts.
*/
package llm

import (
	"context"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is a model completion.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	TotalTokens  int    `json:"total_tokens,omitempty"`
}

// Client is the generation interface consumed by the extractor.
type Client interface {
	// Generate produces a completion for the given messages.
	Generate(ctx context.Context, messages []Message) (*Response, error)
	// Model returns the configured model identifier.
	Model() string
	// Close releases client resources.
	Close() error
}

// Config holds generation parameters shared by client implementations.
type Config struct {
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url,omitempty"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}
