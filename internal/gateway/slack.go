package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter implements Adapter for Slack using Socket Mode.
type SlackAdapter struct {
	identity    Identity
	client      *slack.Client
	socket      *socketmode.Client
	handler     MessageHandler
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, identity Identity, logger *zap.Logger, opts ...slack.Option) *SlackAdapter {
	client := slack.New(botToken, append([]slack.Option{slack.OptionAppLevelToken(appToken)}, opts...)...)
	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)
	return &SlackAdapter{
		identity: identity,
		client:   client,
		socket:   socket,
		logger:   logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect starts the Socket Mode event loop in background goroutines that
// stop with ctx.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode error", zap.Error(err))
			a.mu.Lock()
			a.connected = false
			a.lastError = err.Error()
			a.mu.Unlock()
		}
	}()
	a.logger.Info("slack adapter connecting via socket mode")
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.mu.Lock()
		a.connected = true
		a.connectedAt = time.Now()
		a.lastError = ""
		a.mu.Unlock()
	case socketmode.EventTypeConnectionError:
		a.mu.Lock()
		a.connected = false
		a.lastError = fmt.Sprint(evt.Data)
		a.mu.Unlock()
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		if inner, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent); ok && a.handler != nil {
			if msg, ok := slackInbound(inner); ok {
				a.handler(msg)
			}
		}
	}
}

// slackInbound normalizes a Slack message event. Bot messages and edits are
// ignored. Replies go to the message's thread, starting one if needed.
func slackInbound(ev *slackevents.MessageEvent) (*InboundMessage, bool) {
	if ev == nil || ev.BotID != "" || ev.SubType != "" || ev.Text == "" {
		return nil, false
	}
	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	return &InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	}, true
}

// Send posts a message to a Slack channel under the agent's identity.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	opts = append(opts, a.identityOpts()...)

	if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...); err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (a *SlackAdapter) identityOpts() []slack.MsgOption {
	if a.identity.Name == "" {
		return nil
	}
	opts := []slack.MsgOption{slack.MsgOptionUsername(a.identity.Name)}
	if a.identity.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(a.identity.IconURL))
	} else if a.identity.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(a.identity.Emoji))
	}
	return opts
}

// Typing is a no-op: Slack exposes no typing indicator to Socket Mode bots.
// The pause is still paced by the enactor.
func (a *SlackAdapter) Typing(context.Context, string) error { return nil }

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = "socket mode"
	}
	return s
}
