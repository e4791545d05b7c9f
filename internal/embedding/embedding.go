// Package embedding turns utterances into query vectors for memory recall.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api", "local" or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the provider named by cfg.Provider. An empty name selects the
// offline hashing provider.
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "api", "openai":
		return NewAPIProvider(cfg), nil
	case "local", "ollama":
		return NewLocalProvider(cfg), nil
	case "", "hash":
		return NewHashProvider(cfg.Dimension), nil
	default:
		logger.Error("unknown embedding provider", zap.String("provider", cfg.Provider))
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// EmbedOne embeds a single text. Blank text maps to the zero vector of the
// provider's dimension without a remote call.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, p.Dimension()), nil
	}
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding: got %d vectors for 1 text", len(vecs))
	}
	return vecs[0], nil
}
