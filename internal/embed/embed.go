// Package embed defines the embedding-generation capability and a client
// for OpenAI-compatible embeddings endpoints.
package embed

import "context"

// Generator turns text into a fixed-dimension vector. Implementations may
// call out over the network; callers bound them with the request context.
type Generator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, text string) ([]float32, error)

func (f GeneratorFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
