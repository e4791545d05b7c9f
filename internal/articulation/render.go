package articulation

import (
	"context"
	"sync"
	"time"
)

// Renderer enacts one action on some surface (terminal, chat platform, stream).
type Renderer interface {
	Render(ctx context.Context, ev ActionEvent) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, ev ActionEvent) error

func (f RendererFunc) Render(ctx context.Context, ev ActionEvent) error { return f(ctx, ev) }

// Pacer decides how long an action's duration really takes.
type Pacer interface {
	Pace(ctx context.Context, d time.Duration) error
}

// RealTime waits the full duration.
type RealTime struct{}

func (RealTime) Pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Scaled waits the duration multiplied by Factor.
type Scaled struct {
	Factor float64
}

func (s Scaled) Pace(ctx context.Context, d time.Duration) error {
	return RealTime{}.Pace(ctx, time.Duration(float64(d)*s.Factor))
}

// Instant never waits.
type Instant struct{}

func (Instant) Pace(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// Render drives a sequence through a renderer, pacing each action's duration
// after it is rendered. It stops at the first error or when ctx is done.
func Render(ctx context.Context, seq *Sequence, r Renderer, p Pacer) error {
	for ev := range seq.Events() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Render(ctx, ev); err != nil {
			return err
		}
		if ev.Duration > 0 {
			if err := p.Pace(ctx, ev.Duration); err != nil {
				return err
			}
		}
	}
	return nil
}

// Collector records rendered actions.
type Collector struct {
	mu     sync.Mutex
	events []ActionEvent
}

func (c *Collector) Render(_ context.Context, ev ActionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

// Events returns a copy of what was rendered so far.
func (c *Collector) Events() []ActionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ActionEvent(nil), c.events...)
}
