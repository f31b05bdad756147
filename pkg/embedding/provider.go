package embedding

import (
	"context"
	"errors"
)

var ErrEmptyText = errors.New("embedding: empty text")

// EmbeddingProvider turns text into a fixed-length vector. Implementations must be
// deterministic for a given text and safe for concurrent use.
type EmbeddingProvider interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// EmbeddingProviderFunc adapts a plain function to EmbeddingProvider.
type EmbeddingProviderFunc struct {
	Fn   func(ctx context.Context, text string) ([]float32, error)
	Dims int
}

func (f EmbeddingProviderFunc) Generate(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	return f.Fn(ctx, text)
}

func (f EmbeddingProviderFunc) Dimensions() int {
	return f.Dims
}
