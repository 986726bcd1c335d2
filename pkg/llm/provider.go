// Package llm defines a minimal chat-completion interface for model backends.
package llm

import "context"

// Provider sends chat completion requests to a model backend.
type Provider interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
