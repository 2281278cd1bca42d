package embedding

import (
	"context"
	"fmt"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider     string `json:"provider" yaml:"provider"` // "api" or "local"
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	Model        string `json:"model" yaml:"model"`
	APIKey       string `json:"api_key" yaml:"api_key"`
	Dimension    int    `json:"dimension" yaml:"dimension"`
	Retries      int    `json:"retries" yaml:"retries"`
	RetryDelayMS int    `json:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "api", "openai", "":
		return NewAPIProvider(cfg), nil
	case "local", "ollama":
		return NewLocalProvider(cfg), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vectors, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding: provider returned no vectors")
	}
	return vectors[0], nil
}
