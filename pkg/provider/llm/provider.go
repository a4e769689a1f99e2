// Package llm defines the language model contract of the evaluation
// service. Every evaluator prompt is a single JSON-producing completion, so
// the contract is request/response only.
//
// Implementations must be safe for concurrent use and return promptly when
// the context ends.
package llm

import (
	"context"

	"github.com/MrWong99/realtalk/pkg/types"
)

// Usage is the token accounting of one completion, in the backend's own
// token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int // reported by some backends, else the sum
}

// CompletionRequest is one prompt. Messages must not be empty.
type CompletionRequest struct {
	// SystemPrompt goes before Messages. Backends without a system slot send
	// it as a leading "system" message.
	SystemPrompt string

	Messages []types.Message

	// Temperature in [0, 2]. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the reply. Zero leaves the backend default.
	MaxTokens int
}

// CompletionResponse is the reply to a [CompletionRequest].
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is a language model backend.
type Provider interface {
	// Complete runs req to completion. A rejection by an upstream rate
	// limit wraps [ErrRateLimited].
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities describes the model. It does not change over the life of
	// the provider.
	Capabilities() types.ModelCapabilities
}
