// Package cognition holds the value types shared by every stage of a turn:
// the PAD mood vector, neurotransmitter levels, and per-stage outcomes.
package cognition

import "time"

// Affect is the three-axis PAD mood vector. Every axis lives in [-1, 1].
type Affect struct {
	Pleasure  float64 `json:"pleasure"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// Neurotransmitters are the two chemical scalars. Both live in [0, 1].
type Neurotransmitters struct {
	Dopamine float64 `json:"dopamine"`
	Cortisol float64 `json:"cortisol"`
}

// Baseline levels the engine decays toward.
const (
	BaselineDopamine = 0.5
	BaselineCortisol = 0.3
)

// DefaultNeurotransmitters returns the resting chemical state.
func DefaultNeurotransmitters() Neurotransmitters {
	return Neurotransmitters{Dopamine: BaselineDopamine, Cortisol: BaselineCortisol}
}

// Clamp returns a copy with every axis forced into [-1, 1].
func (a Affect) Clamp() Affect {
	return Affect{
		Pleasure:  ClampRange(a.Pleasure, -1, 1),
		Arousal:   ClampRange(a.Arousal, -1, 1),
		Dominance: ClampRange(a.Dominance, -1, 1),
	}
}

// Intensity is the mean absolute value of the three axes.
func (a Affect) Intensity() float64 {
	return (abs(a.Pleasure) + abs(a.Arousal) + abs(a.Dominance)) / 3
}

// Clamp returns a copy with both levels forced into [0, 1].
func (n Neurotransmitters) Clamp() Neurotransmitters {
	return Neurotransmitters{
		Dopamine: ClampRange(n.Dopamine, 0, 1),
		Cortisol: ClampRange(n.Cortisol, 0, 1),
	}
}

// Emotion bundles everything a policy or renderer needs to condition on.
type Emotion struct {
	Affect Affect
	Neuro  Neurotransmitters
	At     time.Time
}

// ClampRange forces v into [lo, hi].
func ClampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
