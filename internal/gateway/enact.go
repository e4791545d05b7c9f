package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/nidhogg/limbic-flow/internal/pipeline"
	"github.com/nidhogg/limbic-flow/internal/turn"
	"go.uber.org/zap"
)

// Turner runs one conversational turn. *pipeline.Pipeline satisfies it.
type Turner interface {
	Turn(ctx context.Context, input string, tctx map[string]any) (*turn.State, error)
}

// Enactor answers inbound platform messages with paced turns.
type Enactor struct {
	gw      *Gateway
	turns   Turner
	pacer   articulation.Pacer
	timeout time.Duration

	wg    sync.WaitGroup
	locks sync.Map // platform:channel -> *sync.Mutex
	log   *zap.Logger

	mu     sync.Mutex
	queues map[string]*channelQueue
}

// channelQueue holds the messages of one channel not yet answered. At most one
// drain goroutine runs per queue.
type channelQueue struct {
	pending []*InboundMessage
	running bool
}

// NewEnactor creates an enactor. A nil pacer waits in real time. timeout
// bounds one message from turn start to last action; zero means no limit.
func NewEnactor(gw *Gateway, turns Turner, pacer articulation.Pacer, timeout time.Duration, logger *zap.Logger) *Enactor {
	if pacer == nil {
		pacer = articulation.RealTime{}
	}
	return &Enactor{
		gw:      gw,
		turns:   turns,
		pacer:   pacer,
		timeout: timeout,
		log:     logger,
		queues:  make(map[string]*channelQueue),
	}
}

// Listen installs the enactor as the gateway's inbound handler. Channels are
// answered concurrently; messages within one channel are answered one at a
// time in arrival order. Work stops when ctx is done.
func (e *Enactor) Listen(ctx context.Context) {
	e.gw.SetHandler(func(msg *InboundMessage) { e.enqueue(ctx, msg) })
}

func (e *Enactor) enqueue(ctx context.Context, msg *InboundMessage) {
	key := channelKey(msg.Platform, msg.ChannelID)
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[key]
	if !ok {
		q = &channelQueue{}
		e.queues[key] = q
	}
	q.pending = append(q.pending, msg)
	if !q.running {
		q.running = true
		e.wg.Add(1)
		go e.drain(ctx, key, q)
	}
}

func (e *Enactor) drain(ctx context.Context, key string, q *channelQueue) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			delete(e.queues, key)
			e.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		e.mu.Unlock()

		if err := e.Handle(ctx, msg); err != nil && ctx.Err() == nil {
			e.log.Error("inbound message not answered",
				zap.String("platform", msg.Platform),
				zap.String("channel", msg.ChannelID),
				zap.Error(err))
		}
	}
}

// Wait blocks until every in-flight message has been handled.
func (e *Enactor) Wait() { e.wg.Wait() }

// Handle runs a turn for msg and plays its actions back where it came from.
func (e *Enactor) Handle(ctx context.Context, msg *InboundMessage) error {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	s, err := e.turns.Turn(ctx, content, TurnContext(msg))
	if err != nil {
		return fmt.Errorf("turn: %w", err)
	}
	e.log.Debug("turn ready for platform",
		zap.String("turn_id", s.TurnID),
		zap.String("platform", msg.Platform),
		zap.Int("actions", len(s.Actions)))

	return e.Play(ctx, Target{Platform: msg.Platform, ChannelID: msg.ChannelID, ReplyTo: msg.ReplyTo}, s.Actions)
}

// Play enacts actions on target. Typing shows the platform indicator, messages
// are posted, and every action's duration is paced. Plays on the same channel
// never interleave.
func (e *Enactor) Play(ctx context.Context, target Target, actions []articulation.ActionEvent) error {
	mu := e.lock(target)
	mu.Lock()
	defer mu.Unlock()

	r := articulation.RendererFunc(func(ctx context.Context, ev articulation.ActionEvent) error {
		switch ev.Kind {
		case articulation.KindTyping:
			if err := e.gw.Typing(ctx, target.Platform, target.ChannelID); err != nil {
				e.log.Debug("typing indicator failed", zap.String("platform", target.Platform), zap.Error(err))
			}
		case articulation.KindMessage:
			return e.gw.Send(ctx, &OutboundMessage{
				Platform:  target.Platform,
				ChannelID: target.ChannelID,
				Content:   ev.Content,
				ReplyTo:   target.ReplyTo,
			})
		}
		return nil
	})
	return articulation.Render(ctx, articulation.NewSequence(actions), r, e.pacer)
}

func (e *Enactor) lock(t Target) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(channelKey(t.Platform, t.ChannelID), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func channelKey(platform, channelID string) string { return platform + ":" + channelID }

// TurnContext is the turn context for an inbound message. Display names are
// passed as user info only when the platform gave one distinct from the id.
func TurnContext(msg *InboundMessage) map[string]any {
	tctx := map[string]any{
		"platform":   msg.Platform,
		"channel_id": msg.ChannelID,
		"user_id":    msg.UserID,
	}
	if msg.UserName != "" && msg.UserName != msg.UserID {
		tctx[pipeline.UserInfoKey] = map[string]string{"name": msg.UserName}
	}
	return tctx
}
