// Package llm provides clients for the external NL-to-SQL model call.
//
// The pipeline never depends on a concrete provider: everything upstream
// works against the Client interface so the safety path can be tested with
// deterministic stubs.
package llm

import (
	"context"
)

// Client defines the single-call interface to a generative model.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// GenerateResponse generates a completion for the prompt.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Compile-time interface checks.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
