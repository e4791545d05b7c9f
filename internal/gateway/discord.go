package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter implements Adapter for Discord using the bot gateway.
type DiscordAdapter struct {
	token       string
	identity    Identity
	session     *discordgo.Session
	handler     MessageHandler
	webhooks    map[string]string // channelID -> webhook URL for identity messages
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, identity Identity, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		identity: identity,
		webhooks: make(map[string]string),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetWebhook registers a webhook URL for a channel so messages there carry
// the agent's name and avatar.
func (a *DiscordAdapter) SetWebhook(channelID, webhookURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhooks[channelID] = webhookURL
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	a.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		a.setError(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	guildCount := len(a.session.State.Guilds)
	if guildCount == 0 {
		a.logger.Warn("discord bot not added to any server, invite it first")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", a.session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = msg
	a.connected = false
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if a.handler == nil || s.State == nil || s.State.User == nil {
		return
	}
	if msg, ok := discordInbound(m, s.State.User.ID); ok {
		a.handler(msg)
	}
}

// discordInbound normalizes a Discord message. Messages from bots, including
// this one, and empty messages are ignored.
func discordInbound(m *discordgo.MessageCreate, selfID string) (*InboundMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return nil, false
	}
	if m.Author.ID == selfID || m.Author.Bot || m.Content == "" {
		return nil, false
	}
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	return &InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  name,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	}, true
}

// Send posts a message to a Discord channel, through the channel's webhook
// when one is registered.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	if a.session == nil {
		return errors.New("discord: not connected")
	}
	a.mu.RLock()
	webhookURL := a.webhooks[msg.ChannelID]
	a.mu.RUnlock()

	if webhookURL != "" && a.identity.Name != "" {
		return a.sendViaWebhook(webhookURL, msg.Content)
	}
	if _, err := a.session.ChannelMessageSend(msg.ChannelID, msg.Content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (a *DiscordAdapter) sendViaWebhook(webhookURL, content string) error {
	webhook, err := a.session.WebhookWithToken(webhookURL, "")
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	params := &discordgo.WebhookParams{
		Content:   content,
		Username:  a.identity.Name,
		AvatarURL: a.identity.IconURL,
	}
	if _, err := a.session.WebhookExecute(webhook.ID, webhook.Token, false, params); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// Typing shows "is typing…" in the channel for a few seconds.
func (a *DiscordAdapter) Typing(_ context.Context, channelID string) error {
	if a.session == nil {
		return errors.New("discord: not connected")
	}
	return a.session.ChannelTyping(channelID)
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		if a.session != nil && a.session.State != nil && a.session.State.User != nil {
			s.Details = fmt.Sprintf("bot=%s, guilds=%d",
				a.session.State.User.Username, len(a.session.State.Guilds))
		}
	}
	return s
}
