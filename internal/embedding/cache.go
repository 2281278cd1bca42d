package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Embeddable is anything the Cache can keep an embedding for.
type Embeddable interface {
	// EmbeddingInput is the text sent to the provider.
	EmbeddingInput() string
	// CurrentEmbedding is the stored vector, possibly empty.
	CurrentEmbedding() []float32
	// Stale reports whether the stored content hash no longer matches the source.
	Stale() bool
}

// Cache decides when an embedding must be recomputed and normalizes what the
// provider returns. It keeps no state of its own; the embedding lives on the
// record it was computed for.
type Cache struct {
	provider Provider
	dim      int
	logger   *zap.Logger
}

// NewCache wraps provider. dim is the expected dimension; 0 defers to the
// provider's Dimension, and accepts any length only while that is unknown too.
func NewCache(provider Provider, dim int, logger *zap.Logger) *Cache {
	return &Cache{provider: provider, dim: dim, logger: logger}
}

// Dimension returns the configured dimension, or the provider's when unset.
func (c *Cache) Dimension() int {
	if c.dim > 0 {
		return c.dim
	}
	return c.provider.Dimension()
}

// NeedsRefresh reports whether e's stored embedding can not be reused.
func (c *Cache) NeedsRefresh(e Embeddable, fresh bool) bool {
	return fresh || e.Stale() || !Valid(e.CurrentEmbedding(), c.Dimension())
}

// Resolve returns the embedding to store for e and whether it was recomputed.
// Provider errors are returned wrapped, without retry.
func (c *Cache) Resolve(ctx context.Context, e Embeddable, fresh bool) ([]float32, bool, error) {
	if !c.NeedsRefresh(e, fresh) {
		return e.CurrentEmbedding(), false, nil
	}
	vec, err := c.Embed(ctx, e.EmbeddingInput())
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Embed embeds text and normalizes the result to unit length.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	raw, err := EmbedOne(ctx, c.provider, text)
	if err != nil {
		return nil, fmt.Errorf("embedding: embed %q: %w", truncate(text, 40), err)
	}
	vec, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if dim := c.Dimension(); !Valid(vec, dim) {
		return nil, fmt.Errorf("embedding: provider returned %d dimensions, want %d", len(vec), dim)
	}
	c.logger.Debug("embedded text", zap.Int("dim", len(vec)))
	return vec, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
