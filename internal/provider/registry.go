package provider

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Factory builds a provider from its config.
type Factory func(cfg ProviderConfig, logger *zap.Logger) (Provider, error)

// Registry maps provider types to factories. It is built once at startup and
// injected where providers are constructed.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	openAI := func(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
		return NewOpenAIProvider(cfg, logger), nil
	}
	r.Register("openai", openAI)
	r.Register("deepseek", openAI)
	r.Register("ollama", openAI)
	r.Register("anthropic", func(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
		return NewAnthropicProvider(cfg, logger), nil
	})
	r.Register("mock", func(cfg ProviderConfig, _ *zap.Logger) (Provider, error) {
		return NewMockProvider(cfg), nil
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the provider for cfg. ID and Name default to the type.
func (r *Registry) Build(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q (known: %v)", cfg.Type, r.Types())
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Type
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	return f(cfg, logger)
}
