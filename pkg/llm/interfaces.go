// Package llm provides clients for the external content-generation service
// and the boundary machinery around them: failure classification, JSON
// extraction from sloppy model output, and schema validation of generated
// payloads. Nothing unvalidated leaves this package.
package llm

import "context"

// GenerationClient is the interface to the content-generation service.
// Implementations must bound each call with a hard wall-clock timeout; a
// timeout surfaces as a retryable network error, never a fatal one.
type GenerationClient interface {
	// Complete generates a completion for the prompt.
	Complete(ctx context.Context, systemMessage, prompt string) (string, error)

	// Model returns the configured model name.
	Model() string

	// Endpoint returns the configured endpoint.
	Endpoint() string
}

// Compile-time interface checks.
var (
	_ GenerationClient = (*OpenAIClient)(nil)
	_ GenerationClient = (*AnthropicClient)(nil)
	_ GenerationClient = (*MockClient)(nil)
)
