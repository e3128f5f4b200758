// Package llm defines the language-model external collaborator. The
// generation pipeline only depends on this interface; http.go provides
// one concrete OpenAI-compatible implementation and retry.go wraps any
// Client with retry and circuit-breaker protection.
package llm

import "context"

// Client completes a single system+user prompt pair and returns the
// model's raw text response. The generation pipeline expects that text
// to be a JSON document (possibly loosely formatted) describing file
// operations; parsing and repair of that JSON is the pipeline's concern,
// not this package's.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
