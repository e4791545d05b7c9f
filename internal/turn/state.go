// Package turn defines the state record threaded through every stage of one
// conversational turn.
package turn

import (
	"time"

	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/nidhogg/limbic-flow/internal/memory"
)

// State is created at the start of a turn, mutated stage by stage, and
// discarded once the turn is persisted.
type State struct {
	TurnID    string         `json:"turn_id"`
	UserInput string         `json:"user_input"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	Affect                cognition.Affect            `json:"affect"`
	Neuro                 cognition.Neurotransmitters `json:"neurotransmitters"`
	EnvironmentalPressure float64                     `json:"environmental_pressure"`

	// QueryVector is nil when no representation could be produced.
	QueryVector       []float32       `json:"-"`
	RawMemories       []memory.Record `json:"raw_memories,omitempty"`
	DistortedMemories []memory.Record `json:"distorted_memories,omitempty"`

	ReplyText     string                     `json:"reply_text"`
	Actions       []articulation.ActionEvent `json:"actions,omitempty"`
	UserInfo      map[string]string          `json:"user_info,omitempty"`
	Introspection string                     `json:"introspection,omitempty"`
	Warnings      []string                   `json:"warnings,omitempty"`
}

// New creates the initial state for input.
func New(id, input string, ctx map[string]any, now time.Time) *State {
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &State{
		TurnID:    id,
		UserInput: input,
		Context:   ctx,
		Timestamp: now,
		Neuro:     cognition.DefaultNeurotransmitters(),
		UserInfo:  map[string]string{},
	}
}

// Emotion bundles the current mood and turn time.
func (s *State) Emotion() cognition.Emotion {
	return cognition.Emotion{Affect: s.Affect, Neuro: s.Neuro, At: s.Timestamp}
}

// Record applies a stage outcome: degraded warnings are kept, fatal ones too.
// It reports whether the turn may continue.
func (s *State) Record(o cognition.Outcome) bool {
	if o.Status != cognition.StatusOK && o.Warning != "" {
		s.Warnings = append(s.Warnings, o.Warning)
	}
	return !o.IsFatal()
}

// Warn appends a free-form warning.
func (s *State) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}
