// Package embeddings provides the text-to-vector collaborators the engine
// depends on. The engine itself never issues network calls; it takes an
// Embedder and uses it for memory adds and cold-memory regeneration.
package embeddings

import "context"

// Embedder converts text into a dense vector.
type Embedder interface {
	// Embed returns the embedding for text. Implementations must return a
	// non-empty vector or an error.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension reports the vector length the provider produces.
	Dimension() int
}
