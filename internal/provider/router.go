package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Router holds the configured providers and sends each request to the
// default one, walking the fallback chain on failure.
type Router struct {
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	fallbacks []string
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
		logger:    logger,
	}
}

// Register adds a provider. The first one registered becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetFallbacks configures the providers tried, in order, after the default.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append([]string(nil), providerIDs...)
}

// SetRateLimit caps requests to providerID at perMinute with the given burst.
// Non-positive perMinute removes the cap.
func (r *Router) SetRateLimit(providerID string, perMinute, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if perMinute <= 0 {
		delete(r.limiters, providerID)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	r.limiters[providerID] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// Route sends a chat request through the default provider and then the
// fallbacks. A limiter without a free token counts as a failure.
func (r *Router) Route(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	chain := r.chain()
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, ErrNoProvider
	}

	var err error
	for i, id := range chain {
		var resp *ChatResponse
		resp, err = r.call(ctx, id, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i == 0 {
			r.logger.Warn("primary provider failed, trying fallbacks",
				zap.String("provider", id), zap.Error(err))
		} else {
			r.logger.Warn("fallback provider failed", zap.String("provider", id), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed: %w", err)
}

func (r *Router) call(ctx context.Context, id string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	p := r.providers[id]
	lim := r.limiters[id]
	r.mu.RUnlock()

	if lim != nil && !lim.Allow() {
		return nil, fmt.Errorf("%s: %w", id, ErrRateLimited)
	}
	return p.Chat(ctx, req)
}

// chain returns the default followed by distinct known fallbacks.
func (r *Router) chain() []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range append([]string{r.defaults}, r.fallbacks...) {
		if _, ok := r.providers[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
