// Package articulation turns finished reply text into a timed stream of
// display actions that mimics human typing cadence under a given mood.
package articulation

import (
	"encoding/json"
	"fmt"
	"iter"
	"sync/atomic"
	"time"
)

// Kind is the type of an action.
type Kind string

const (
	KindTyping  Kind = "typing"
	KindMessage Kind = "message"
	KindWait    Kind = "wait"
)

// ActionEvent is one atomic display action. Durations are declarative: the
// renderer decides whether to actually wait.
type ActionEvent struct {
	Kind     Kind
	Content  string
	Duration time.Duration
	Metadata map[string]any
}

type wireEvent struct {
	Action   Kind           `json:"action"`
	Content  string         `json:"content"`
	Duration float64        `json:"duration"` // seconds
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON encodes the duration in seconds.
func (e ActionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Action:   e.Kind,
		Content:  e.Content,
		Duration: e.Duration.Seconds(),
		Metadata: e.Metadata,
	})
}

func (e *ActionEvent) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Action {
	case KindTyping, KindMessage, KindWait:
	default:
		return fmt.Errorf("unknown action kind %q", w.Action)
	}
	if w.Duration < 0 {
		return fmt.Errorf("negative duration %v", w.Duration)
	}
	*e = ActionEvent{
		Kind:     w.Action,
		Content:  w.Content,
		Duration: time.Duration(w.Duration * float64(time.Second)),
		Metadata: w.Metadata,
	}
	return nil
}

// Sequence is a finite action stream that can be consumed once.
type Sequence struct {
	events   []ActionEvent
	consumed atomic.Bool
}

// NewSequence wraps already materialized events.
func NewSequence(events []ActionEvent) *Sequence {
	return &Sequence{events: events}
}

// Events yields every action in order on the first traversal and nothing on
// later ones. Breaking out of the loop early still consumes the sequence.
func (s *Sequence) Events() iter.Seq[ActionEvent] {
	return func(yield func(ActionEvent) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			return
		}
		for _, e := range s.events {
			if !yield(e) {
				return
			}
		}
	}
}

// Drain consumes the sequence into a slice.
func (s *Sequence) Drain() []ActionEvent {
	var out []ActionEvent
	for e := range s.Events() {
		out = append(out, e)
	}
	return out
}

// Len is the number of actions, consumed or not.
func (s *Sequence) Len() int { return len(s.events) }

// TotalDuration sums every action's duration.
func TotalDuration(events []ActionEvent) time.Duration {
	var d time.Duration
	for _, e := range events {
		d += e.Duration
	}
	return d
}

// Messages returns the message contents in order.
func Messages(events []ActionEvent) []string {
	var out []string
	for _, e := range events {
		if e.Kind == KindMessage {
			out = append(out, e.Content)
		}
	}
	return out
}
