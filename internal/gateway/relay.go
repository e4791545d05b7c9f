package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/limbic-flow/internal/bus"
	"go.uber.org/zap"
)

// Subscriber streams published turns. *bus.ActionBus satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) <-chan bus.TurnEvent
}

// RelayRecord tracks one replayed turn.
type RelayRecord struct {
	TurnID string    `json:"turn_id"`
	SentAt time.Time `json:"sent_at"`
	Target Target    `json:"target"`
	Error  string    `json:"error,omitempty"`
}

const relayHistory = 100

// Relay replays turns published on the bus to a fixed platform channel, so a
// process without its own pipeline can act as a remote renderer.
type Relay struct {
	sub     Subscriber
	enactor *Enactor
	channel string
	target  Target

	mu      sync.Mutex
	history []RelayRecord
	logger  *zap.Logger
}

// NewRelay creates a relay from bus channel to target.
func NewRelay(sub Subscriber, enactor *Enactor, channel string, target Target, logger *zap.Logger) *Relay {
	return &Relay{sub: sub, enactor: enactor, channel: channel, target: target, logger: logger}
}

// Run replays events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started",
		zap.String("channel", r.channel),
		zap.String("platform", r.target.Platform),
		zap.String("target", r.target.ChannelID))

	for ev := range r.sub.Subscribe(ctx, r.channel) {
		rec := RelayRecord{TurnID: ev.TurnID, SentAt: time.Now(), Target: r.target}
		if err := r.enactor.Play(ctx, r.target, ev.Actions); err != nil {
			rec.Error = err.Error()
			if ctx.Err() == nil {
				r.logger.Warn("relay playback failed", zap.String("turn_id", ev.TurnID), zap.Error(err))
			}
		}
		r.record(rec)
	}
	return ctx.Err()
}

func (r *Relay) record(rec RelayRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, rec)
	if len(r.history) > relayHistory {
		r.history = r.history[len(r.history)-relayHistory:]
	}
}

// History returns up to limit of the most recent records, oldest first.
func (r *Relay) History(limit int) []RelayRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]RelayRecord, limit)
	copy(out, r.history[len(r.history)-limit:])
	return out
}
