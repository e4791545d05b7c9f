// Package bus fans completed turns out to remote renderers over Redis Streams.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamPrefix   = "limbic:turns:"
	defaultChannel = "default"
	defaultMaxLen  = 1000
	retryDelay     = 500 * time.Millisecond
)

// TurnEvent is one finished turn with the actions a renderer should enact.
type TurnEvent struct {
	TurnID    string                      `json:"turn_id"`
	Channel   string                      `json:"channel"`
	Timestamp time.Time                   `json:"timestamp"`
	Affect    cognition.Affect            `json:"affect"`
	Neuro     cognition.Neurotransmitters `json:"neurotransmitters"`
	Reply     string                      `json:"reply"`
	Actions   []articulation.ActionEvent  `json:"actions"`
}

// Publisher delivers turn events.
type Publisher interface {
	Publish(ctx context.Context, ev TurnEvent) error
}

// ActionBus publishes and consumes turn events via Redis Streams, one stream
// per channel.
type ActionBus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewActionBus connects to redisURL and pings it.
func NewActionBus(ctx context.Context, redisURL string, logger *zap.Logger) (*ActionBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newActionBus(rdb, logger), nil
}

func newActionBus(rdb *redis.Client, logger *zap.Logger) *ActionBus {
	return &ActionBus{rdb: rdb, maxLen: defaultMaxLen, logger: logger}
}

func stream(channel string) string {
	if channel == "" {
		channel = defaultChannel
	}
	return streamPrefix + channel
}

// Publish appends ev to its channel's stream, trimming old entries.
func (b *ActionBus) Publish(ctx context.Context, ev TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}

	s := stream(ev.Channel)
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s, err)
	}

	b.logger.Debug("published turn",
		zap.String("stream", s),
		zap.String("turn_id", ev.TurnID),
		zap.Int("actions", len(ev.Actions)))
	return nil
}

// Subscribe streams events published to channel after the call. The
// returned channel closes when ctx is cancelled.
func (b *ActionBus) Subscribe(ctx context.Context, channel string) <-chan TurnEvent {
	ch := make(chan TurnEvent, 16)
	s := stream(channel)

	go func() {
		defer close(ch)
		lastID := "$"

		for ctx.Err() == nil {
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{s, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if err != redis.Nil {
					b.logger.Warn("stream read failed", zap.String("stream", s), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(retryDelay):
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev TurnEvent
					if err := json.Unmarshal([]byte(data), &ev); err != nil {
						b.logger.Warn("malformed turn event", zap.String("id", msg.ID), zap.Error(err))
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *ActionBus) Close() error {
	return b.rdb.Close()
}
