// Package gateway plays turns on chat platforms. Inbound platform messages
// become pipeline turns; the resulting action stream is enacted as typing
// indicators, paced pauses and posted messages.
package gateway

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Gateway manages all platform adapters and routes messages.
type Gateway struct {
	adapters map[string]Adapter
	handler  MessageHandler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// SetHandler sets the callback for all inbound messages.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// Register adds an adapter and wires its message handler.
func (g *Gateway) Register(adapter Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := adapter.Platform()
	g.adapters[platform] = adapter
	adapter.OnMessage(func(msg *InboundMessage) {
		g.mu.RLock()
		h := g.handler
		g.mu.RUnlock()
		if h != nil {
			h(msg)
		}
	})
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

// ConnectAll starts all registered adapters.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			return fmt.Errorf("connect %s: %w", platform, err)
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return nil
}

func (g *Gateway) adapter(platform string) (Adapter, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter for platform: %s", platform)
	}
	return a, nil
}

// Send sends a message to a specific platform channel.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	a, err := g.adapter(msg.Platform)
	if err != nil {
		return err
	}
	return a.Send(ctx, msg)
}

// Typing triggers the typing indicator on a platform channel.
func (g *Gateway) Typing(ctx context.Context, platform, channelID string) error {
	a, err := g.adapter(platform)
	if err != nil {
		return err
	}
	return a.Typing(ctx, channelID)
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Adapters returns the registered platform names, sorted.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for p := range g.adapters {
		names = append(names, p)
	}
	slices.Sort(names)
	return names
}

// StatusAll returns every adapter's status, sorted by platform.
func (g *Gateway) StatusAll() []AdapterStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a.Status())
	}
	slices.SortFunc(out, func(a, b AdapterStatus) int {
		return strings.Compare(a.Platform, b.Platform)
	})
	return out
}
