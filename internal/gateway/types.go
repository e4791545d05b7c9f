package gateway

import (
	"context"
	"time"
)

// Adapter connects one chat platform.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	// Typing shows the platform's typing indicator where it has one.
	Typing(ctx context.Context, channelID string) error
	OnMessage(handler MessageHandler)
	Status() AdapterStatus
	Close() error
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// Target is where a turn's actions are played.
type Target struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// Identity is how the agent appears on platforms that allow per-message names.
type Identity struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
	Emoji   string `json:"emoji,omitempty"` // fallback if no icon_url, e.g. ":robot_face:"
}

// AdapterStatus reports an adapter's connection state.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
