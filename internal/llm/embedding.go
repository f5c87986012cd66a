package llm

import (
	"context"
	"fmt"
)

// DefaultEmbeddingDimensions is the expected vector size from the
// text-embedding-004 model. It must match the vector column width in the
// storage layer.
const DefaultEmbeddingDimensions = 768

// EmbeddingProvider converts a text string into an embedding vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingClient wraps an EmbeddingProvider with the shared retry policy
// and a dimension check. There is no failover path for embeddings.
type EmbeddingClient struct {
	provider   EmbeddingProvider
	dimensions int
	retry      RetryPolicy
}

// NewEmbeddingClient creates an EmbeddingClient with the default retry budget.
func NewEmbeddingClient(provider EmbeddingProvider, dimensions int) *EmbeddingClient {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &EmbeddingClient{
		provider:   provider,
		dimensions: dimensions,
		retry:      NewRetryPolicy(EmbedMaxRetries, DefaultBaseDelay),
	}
}

// Dimensions returns the expected embedding vector size.
func (c *EmbeddingClient) Dimensions() int {
	return c.dimensions
}

// Embed generates an embedding for the given text, retrying transient
// provider failures. A dimension mismatch is a fatal configuration error and
// is not retried.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	var embedding []float32
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		vec, err := c.provider.Embed(ctx, text)
		if err != nil {
			return err
		}
		if len(vec) != c.dimensions {
			return NewProviderError(ProviderGemini, ErrorKindConfig, 0,
				fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), c.dimensions))
		}
		embedding = vec
		return nil
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}
