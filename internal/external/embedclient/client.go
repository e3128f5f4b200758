// Package embedclient defines the embedding-provider external
// collaborator. The core only depends on this interface; http.go
// provides one concrete OpenAI-compatible implementation (base URL +
// bearer token + JSON body).
package embedclient

import "context"

// Client produces fixed-dimension dense vectors for text.
type Client interface {
	// Embed returns one vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns vectors in the same order as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the provider's fixed vector width D.
	Dimensions() int
}
