// Package llm defines the Provider interface for the language-model backends
// that narrate the simulation. A provider wraps a remote or local model API
// (OpenAI, Anthropic, a local Ollama instance, …) behind a uniform completion
// call so workers never couple to a specific SDK.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Message is a single entry in a conversation history.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name for multi-speaker contexts.
	Name string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history; the last message drives
	// the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the history. Providers without a dedicated system field prepend it as a
	// system-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]; zero keeps the
	// provider default.
	Temperature float64

	// MaxTokens caps completion length; zero keeps the provider default.
	MaxTokens int
}

// CompletionResponse is the full reply to one request.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities is static metadata about a provider's model, constant
// for the lifetime of the Provider instance.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the most the model generates in one completion.
	MaxOutputTokens int
}

// Provider is the abstraction over any language-model backend.
type Provider interface {
	// Complete sends req and waits for the full response. Returns an error
	// if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would consume in the
	// model's context window. The estimate need not be exact but should not
	// undercount; callers use it to bound history before sending.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns the model's static metadata.
	Capabilities() ModelCapabilities
}
