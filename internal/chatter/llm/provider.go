// Package llm is the boundary to the chat-completion API. It defines the
// provider-neutral request and response types, an OpenAI-compatible HTTP
// client, and the per-sender and per-guild limiters the command layer uses
// to pace calls.
package llm

import (
	"context"
	"errors"
)

// Finish reasons reported by the provider.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Message is one entry of the request's message list.
type Message struct {
	Role    string
	Content string
	// Name identifies the speaker of a user message. It must already be
	// sanitised with SanitizeName.
	Name string
}

// Request is a single chat-completion call.
type Request struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Messages    []Message
}

// Usage is the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the first choice of a completion.
type Response struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Provider sends completion requests. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

var (
	// ErrRateLimit is returned when the provider answers HTTP 429.
	ErrRateLimit = errors.New("llm: provider rate limit exceeded")
	// ErrNoChoices is returned when a 2xx response carries no choices.
	ErrNoChoices = errors.New("llm: empty choice list")
)
