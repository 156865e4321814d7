// Package interfaces provides service interfaces for dependency injection.
package interfaces

import (
	"context"
)

// CompletionRequest describes one structured completion call. Providers
// are expected to return raw model text; callers decode it.
type CompletionRequest struct {
	// System is the system prompt establishing role and output contract.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int

	// Temperature controls sampling. Structured extraction calls use 0.
	Temperature float64

	// JSONOnly asks the provider to constrain output to a JSON document
	// where the underlying API supports it.
	JSONOnly bool
}

// CompletionProvider is a single LLM backend capable of serving a
// completion request.
type CompletionProvider interface {
	// Name identifies the provider in logs and error messages.
	Name() string

	// Configured reports whether the provider has credentials and can be
	// attempted at all. Unconfigured providers are skipped, not failed.
	Configured() bool

	// Complete executes the request and returns the raw model text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
