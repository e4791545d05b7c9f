// Package brain turns a turn's distorted recall and mood into reply text.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/nidhogg/limbic-flow/internal/persona"
	"github.com/nidhogg/limbic-flow/internal/provider"
	"github.com/nidhogg/limbic-flow/internal/turn"
	"go.uber.org/zap"
)

const stage = "brain"

// memorySnippet is the rune budget for each recalled utterance or reply.
const memorySnippet = 100

// Chatter sends a chat request. *provider.Router satisfies it.
type Chatter interface {
	Route(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Personas yields the active persona. *persona.Manager satisfies it.
type Personas interface {
	Current() *persona.Persona
}

// Locator summarizes where the conversation takes place.
type Locator interface {
	Summary(ctx context.Context) string
}

type Config struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func DefaultConfig() Config {
	return Config{Temperature: 0.8, MaxTokens: 512}
}

// Brain assembles prompts and calls the language model.
type Brain struct {
	llm      Chatter
	personas Personas
	locator  Locator
	cfg      Config
	logger   *zap.Logger
}

// New creates a Brain. locator may be nil.
func New(llm Chatter, personas Personas, locator Locator, cfg Config, logger *zap.Logger) *Brain {
	return &Brain{llm: llm, personas: personas, locator: locator, cfg: cfg, logger: logger}
}

// Respond fills s.ReplyText. A model failure or an empty answer is replaced
// by Fallback and reported as degraded, so the turn always has text.
func (b *Brain) Respond(ctx context.Context, s *turn.State) cognition.Outcome {
	if b.llm == nil {
		s.ReplyText = Fallback(s.Affect, s.Neuro)
		return cognition.Degraded(stage, errors.New("no language model configured"))
	}

	req := &provider.ChatRequest{
		Model:       b.cfg.Model,
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: b.SystemPrompt(ctx, s)},
			{Role: provider.RoleUser, Content: UserPrompt(s)},
		},
	}

	resp, err := b.llm.Route(ctx, req)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		b.logger.Warn("language model failed, using fallback",
			zap.String("turn_id", s.TurnID), zap.Error(err))
		s.ReplyText = Fallback(s.Affect, s.Neuro)
		return cognition.Degraded(stage, err)
	}

	s.ReplyText = strings.TrimSpace(resp.Content)
	b.logger.Debug("reply generated",
		zap.String("turn_id", s.TurnID),
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return cognition.OK(stage)
}

// SystemPrompt renders the persona under the turn's mood.
func (b *Brain) SystemPrompt(ctx context.Context, s *turn.State) string {
	p := persona.Default()
	if b.personas != nil {
		if cur := b.personas.Current(); cur != nil {
			p = cur
		}
	}
	var loc string
	if b.locator != nil {
		loc = b.locator.Summary(ctx)
	}
	return p.SystemPrompt(s.Emotion(), s.UserInfo, loc)
}

// UserPrompt renders the utterance, known user facts and distorted recall.
func UserPrompt(s *turn.State) string {
	var b strings.Builder
	b.WriteString("用户刚刚说：\n")
	b.WriteString(s.UserInput)
	b.WriteString("\n\n")

	if name := s.UserInfo["name"]; name != "" {
		fmt.Fprintf(&b, "用户信息：\n- 名字: %s\n\n", name)
	}

	if len(s.DistortedMemories) > 0 {
		b.WriteString("相关的记忆（可能被你的情绪扭曲）：\n")
		for i, m := range s.DistortedMemories {
			fmt.Fprintf(&b, "%d. 用户说: '%s'\n", i+1, truncate(m.UserUtterance, memorySnippet))
			if m.SystemReply != "" {
				fmt.Fprintf(&b, "   系统回应: '%s'\n", truncate(m.SystemReply, memorySnippet))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("请根据用户的输入和用户信息，给出一个自然、真实的回应。\n")
	return b.String()
}

// Fallback picks a canned line from the current mood. Checks run in order:
// pleasure > 0.3, pleasure < -0.3, arousal > 0.3, cortisol > 0.7.
func Fallback(a cognition.Affect, n cognition.Neurotransmitters) string {
	switch {
	case a.Pleasure > 0.3:
		return "我现在感觉很开心！有什么我可以帮忙的吗？"
	case a.Pleasure < -0.3:
		return "我现在有点沮丧。你有什么想聊的吗？"
	case a.Arousal > 0.3:
		return "我现在感觉精力充沛！你在想什么？"
	case n.Cortisol > 0.7:
		return "我现在感觉压力很大。让我们冷静一下。"
	default:
		return "我在这里。你想讨论什么？"
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
