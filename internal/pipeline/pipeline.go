// Package pipeline runs one conversational turn end to end: perceive, feel,
// recall, distort, respond, articulate, remember.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nidhogg/limbic-flow/internal/affect"
	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/nidhogg/limbic-flow/internal/brain"
	"github.com/nidhogg/limbic-flow/internal/bus"
	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/nidhogg/limbic-flow/internal/embedding"
	"github.com/nidhogg/limbic-flow/internal/memory"
	"github.com/nidhogg/limbic-flow/internal/neocortex"
	"github.com/nidhogg/limbic-flow/internal/pathology"
	"github.com/nidhogg/limbic-flow/internal/perception"
	"github.com/nidhogg/limbic-flow/internal/turn"
	"go.uber.org/zap"
)

// UserInfoKey is the turn-context key for caller-supplied identity facts.
const UserInfoKey = "user_info"

// knowledge key under which the user's name is remembered.
const nameKey = "user.name"

// Responder produces reply text for a turn. *brain.Brain satisfies it.
type Responder interface {
	Respond(ctx context.Context, s *turn.State) cognition.Outcome
}

// Deps are the collaborators of a pipeline. Neocortex and Publisher are
// optional.
type Deps struct {
	Affect      *affect.Engine
	Memory      *memory.Store
	Pathology   *pathology.Manager
	Embedder    embedding.Provider
	Brain       Responder
	Articulator *articulation.Engine
	Perceiver   *perception.Perceiver
	Neocortex   neocortex.Store
	Publisher   bus.Publisher
}

type Config struct {
	RetrieveLimit  int    `json:"retrieve_limit"`
	NarrativeRunes int    `json:"narrative_runes"`
	Channel        string `json:"channel"`
}

func DefaultConfig() Config {
	return Config{RetrieveLimit: 5, NarrativeRunes: 60, Channel: "default"}
}

// Pipeline serializes turns against one affect engine and memory store.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// New checks the required collaborators. A missing one is a configuration
// error.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	var missing []string
	if deps.Affect == nil {
		missing = append(missing, "affect")
	}
	if deps.Memory == nil {
		missing = append(missing, "memory")
	}
	if deps.Pathology == nil {
		missing = append(missing, "pathology")
	}
	if deps.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if deps.Brain == nil {
		missing = append(missing, "brain")
	}
	if deps.Articulator == nil {
		missing = append(missing, "articulator")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing collaborators: %s", strings.Join(missing, ", "))
	}
	if deps.Perceiver == nil {
		deps.Perceiver = perception.New(perception.DefaultLexicon())
	}
	def := DefaultConfig()
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = def.RetrieveLimit
	}
	if cfg.NarrativeRunes <= 0 {
		cfg.NarrativeRunes = def.NarrativeRunes
	}
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// SetClock replaces the time source used for turn timestamps.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Turn processes one utterance. It always yields a reply with at least one
// message action; degraded stages are listed in State.Warnings. An error is
// returned only when ctx is already done.
func (p *Pipeline) Turn(ctx context.Context, input string, tctx map[string]any) (*turn.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s := turn.New(p.newID(), input, maps.Clone(tctx), p.now())
	log := p.logger.With(zap.String("turn_id", s.TurnID))

	// 1. perceive and feel
	perc := p.deps.Perceiver.Perceive(input, s.Context)
	s.EnvironmentalPressure = perc.Stimulus.Pressure
	p.collectUserInfo(ctx, s, perc.UserInfo)

	snap, out := p.deps.Affect.Update(ctx, perc.Stimulus, map[string]any{
		"turn_id": s.TurnID,
		"input":   truncate(input, p.cfg.NarrativeRunes),
	})
	s.Record(out)
	s.Affect, s.Neuro = snap.Affect, snap.Neuro

	// 2. represent the utterance
	vec, err := embedding.EmbedOne(ctx, p.deps.Embedder, input)
	if err != nil {
		log.Warn("embedding failed, using zero vector", zap.Error(err))
		s.Record(cognition.Degraded("embedding", err))
		vec = make([]float32, p.deps.Embedder.Dimension())
	}
	stored := vec
	s.QueryVector = vec

	// 3. recall through the pathology chain
	p.deps.Pathology.DistortQuery(s)
	s.RawMemories = memory.Records(p.deps.Memory.Retrieve(ctx, s.QueryVector, p.cfg.RetrieveLimit))
	p.deps.Pathology.Process(s)

	// 4. respond
	s.Record(p.deps.Brain.Respond(ctx, s))
	if strings.TrimSpace(s.ReplyText) == "" {
		s.ReplyText = brain.Fallback(s.Affect, s.Neuro)
		s.Warn("brain: empty reply replaced by fallback")
	}

	// 5. articulate
	s.Actions = p.deps.Articulator.Articulate(s.ReplyText, s.Affect, s.Neuro, map[string]any{"turn_id": s.TurnID}).Drain()
	if len(articulation.Messages(s.Actions)) == 0 {
		s.Actions = append(s.Actions, articulation.ActionEvent{
			Kind:     articulation.KindMessage,
			Content:  s.ReplyText,
			Metadata: map[string]any{"turn_id": s.TurnID, "segment_index": 0},
		})
	}

	// 6. remember
	p.persist(ctx, s, stored, log)

	log.Info("turn complete",
		zap.Int("recalled", len(s.RawMemories)),
		zap.Int("distorted", len(s.DistortedMemories)),
		zap.Int("actions", len(s.Actions)),
		zap.Int("warnings", len(s.Warnings)))
	return s, nil
}

func (p *Pipeline) collectUserInfo(ctx context.Context, s *turn.State, extracted map[string]string) {
	switch v := s.Context[UserInfoKey].(type) {
	case map[string]string:
		maps.Copy(s.UserInfo, v)
	case map[string]any:
		for k, val := range v {
			if str, ok := val.(string); ok {
				s.UserInfo[k] = str
			}
		}
	}
	maps.Copy(s.UserInfo, extracted)

	if s.UserInfo["name"] != "" || p.deps.Neocortex == nil {
		return
	}
	name, ok, err := p.deps.Neocortex.RetrieveKnowledge(ctx, nameKey)
	if err != nil {
		s.Record(cognition.Degraded("neocortex", err))
		return
	}
	if ok {
		s.UserInfo["name"] = name
	}
}

func (p *Pipeline) persist(ctx context.Context, s *turn.State, vec []float32, log *zap.Logger) {
	rec := memory.Record{
		Vector:        vec,
		Affect:        s.Affect,
		Timestamp:     s.Timestamp,
		UserUtterance: s.UserInput,
		SystemReply:   s.ReplyText,
		UserInfo:      maps.Clone(s.UserInfo),
		Narrative:     Narrative(s.UserInput, s.ReplyText, p.cfg.NarrativeRunes),
	}
	if _, err := p.deps.Memory.Put(ctx, rec); err != nil {
		s.Record(cognition.Degraded("memory", err))
	}

	if nc := p.deps.Neocortex; nc != nil {
		if name := s.UserInfo["name"]; name != "" {
			err := errors.Join(
				nc.StoreKnowledge(ctx, nameKey, name),
				nc.StoreRelationship(ctx, neocortex.Relationship{Subject: "user", Predicate: "named", Object: name}),
			)
			if err != nil {
				s.Record(cognition.Degraded("neocortex", err))
			}
		}
	}

	snap, out := p.deps.Affect.StressReward(ctx)
	s.Record(out)
	s.Neuro = snap.Neuro

	if p.deps.Publisher != nil {
		ev := bus.TurnEvent{
			TurnID:    s.TurnID,
			Channel:   p.cfg.Channel,
			Timestamp: s.Timestamp,
			Affect:    s.Affect,
			Neuro:     s.Neuro,
			Reply:     s.ReplyText,
			Actions:   s.Actions,
		}
		if err := p.deps.Publisher.Publish(ctx, ev); err != nil {
			log.Warn("turn not published", zap.Error(err))
			s.Record(cognition.Degraded("bus", err))
		}
	}
}

// Narrative is the short summary stored with each memory.
func Narrative(input, reply string, n int) string {
	return fmt.Sprintf("用户说「%s」，我回应「%s」", truncate(input, n), truncate(reply, n))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
