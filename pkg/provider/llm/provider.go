// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic
// via any-llm, or a local Ollama instance) and exposes a uniform completion
// interface. The script generator builds prompts and parses responses; this
// package only moves text.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is the instruction prefix. Optional.
	SystemPrompt string

	// Prompt is the user message driving the response. Must be non-empty.
	Prompt string

	// Temperature controls output randomness in [0.0, 2.0]. 0 means backend default.
	Temperature float64

	// MaxTokens caps the response length. 0 means backend default.
	MaxTokens int

	// JSONOnly asks the backend to constrain output to a single JSON object,
	// on backends that support a response format parameter.
	JSONOnly bool
}

// CompletionResponse is the model's answer to a CompletionRequest.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete performs one full (non-streaming) completion. Returns an error
	// wrapping fault.ErrUpstream when the backend answers non-success.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
