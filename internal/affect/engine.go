// Package affect implements the affect core: a PAD mood vector and two
// neurotransmitter levels that decay toward baseline with per-axis half-lives
// and absorb discrete stimuli.
package affect

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nidhogg/limbic-flow/internal/cognition"
	"go.uber.org/zap"
)

// HalfLives holds the decay half-life of every axis.
type HalfLives struct {
	Pleasure  time.Duration `json:"pleasure"`
	Arousal   time.Duration `json:"arousal"`
	Dominance time.Duration `json:"dominance"`
	Dopamine  time.Duration `json:"dopamine"`
	Cortisol  time.Duration `json:"cortisol"`
}

// Config controls the engine's dynamics.
type Config struct {
	HalfLives HalfLives

	DopamineGain float64 // dopamine rise per unit of positive pleasure
	CortisolGain float64 // cortisol rise per unit of |arousal|
	PressureGain float64 // cortisol rise per unit of environmental pressure

	StressWindow    int     // snapshots inspected by the stress/reward pass
	StressMinCount  int     // distressed snapshots needed to trigger cumulative stress
	StressArousal   float64 // arousal above this counts as distressed...
	StressPleasure  float64 // ...when pleasure is below this
	StressStep      float64 // cortisol added per distressed snapshot
	RewardPleasure  float64
	RewardDominance float64
	RewardStep      float64
}

// DefaultConfig returns the standard dynamics.
func DefaultConfig() Config {
	return Config{
		HalfLives: HalfLives{
			Pleasure:  time.Hour,
			Arousal:   30 * time.Minute,
			Dominance: 45 * time.Minute,
			Dopamine:  5 * time.Minute,
			Cortisol:  10 * time.Minute,
		},
		DopamineGain:    0.1,
		CortisolGain:    0.1,
		PressureGain:    0.1,
		StressWindow:    5,
		StressMinCount:  3,
		StressArousal:   0.5,
		StressPleasure:  -0.3,
		StressStep:      0.05,
		RewardPleasure:  0.5,
		RewardDominance: 0.3,
		RewardStep:      0.1,
	}
}

// Stimulus is one input-driven push on the mood vector.
type Stimulus struct {
	Pleasure  float64 `json:"pleasure"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
	Pressure  float64 `json:"pressure,omitempty"` // environmental stress, >= 0
}

// Snapshot is one logged point of the affect curve.
type Snapshot struct {
	ID        int64                       `json:"id,omitempty"`
	Timestamp time.Time                   `json:"timestamp"`
	Affect    cognition.Affect            `json:"affect"`
	Neuro     cognition.Neurotransmitters `json:"neurotransmitters"`
	Context   map[string]any              `json:"context,omitempty"`
}

// Emotion converts the snapshot for downstream stages.
func (s Snapshot) Emotion() cognition.Emotion {
	return cognition.Emotion{Affect: s.Affect, Neuro: s.Neuro, At: s.Timestamp}
}

// Recorder is the durable append-only snapshot log.
type Recorder interface {
	Record(ctx context.Context, snap Snapshot) error
	// Recent returns up to n snapshots, newest first.
	Recent(ctx context.Context, n int) ([]Snapshot, error)
}

// Engine owns the live affect state. Safe for concurrent use.
type Engine struct {
	cfg      Config
	affect   cognition.Affect
	neuro    cognition.Neurotransmitters
	last     time.Time
	now      func() time.Time
	recorder Recorder
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewEngine creates an engine at the neutral baseline. recorder may be nil.
func NewEngine(cfg Config, recorder Recorder, logger *zap.Logger) *Engine {
	if cfg.HalfLives.Pleasure == 0 {
		cfg = DefaultConfig()
	}
	e := &Engine{
		cfg:      cfg,
		neuro:    cognition.DefaultNeurotransmitters(),
		now:      time.Now,
		recorder: recorder,
		logger:   logger,
	}
	e.last = e.now()
	return e
}

// SetClock replaces the time source. The last-update mark is reset to the new clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	e.last = now()
}

// Restore warm-starts the engine from a previously logged snapshot.
// Decay since the snapshot is applied on the next update.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.affect = snap.Affect.Clamp()
	e.neuro = snap.Neuro.Clamp()
	if !snap.Timestamp.IsZero() {
		e.last = snap.Timestamp
	}
}

// State returns the current levels without decaying them.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Timestamp: e.last, Affect: e.affect, Neuro: e.neuro}
}

// Update decays the state for the time elapsed since the last update, applies
// the stimulus and the chemical cross-coupling, clamps, and logs a snapshot.
// A failing log write never fails the update: it comes back as a degraded outcome.
func (e *Engine) Update(ctx context.Context, stim Stimulus, logCtx map[string]any) (Snapshot, cognition.Outcome) {
	e.mu.Lock()
	now := e.now()
	dt := now.Sub(e.last)
	if dt < 0 {
		dt = 0
	}
	e.affect, e.neuro = e.cfg.HalfLives.Decay(e.affect, e.neuro, dt)
	e.last = now

	e.affect.Pleasure += stim.Pleasure
	e.affect.Arousal += stim.Arousal
	e.affect.Dominance += stim.Dominance

	e.neuro.Dopamine += e.cfg.DopamineGain * math.Max(0, e.affect.Pleasure)
	e.neuro.Cortisol += e.cfg.CortisolGain * math.Abs(e.affect.Arousal)
	if stim.Pressure > 0 {
		e.neuro.Cortisol += e.cfg.PressureGain * stim.Pressure
	}

	e.affect = e.affect.Clamp()
	e.neuro = e.neuro.Clamp()
	snap := Snapshot{Timestamp: now, Affect: e.affect, Neuro: e.neuro, Context: logCtx}
	e.mu.Unlock()

	return snap, e.record(ctx, snap, "affect_update")
}

// SourceStressReward marks snapshots logged by StressReward. They are not
// counted as turn moods by later passes.
const SourceStressReward = "stress_reward"

// StressReward is the second, independent pass run when a turn is persisted.
// Several recent distressed snapshots (high arousal with low pleasure) raise
// cortisol; high pleasure together with high dominance raises dopamine.
func (e *Engine) StressReward(ctx context.Context) (Snapshot, cognition.Outcome) {
	var history []Snapshot
	var histErr error
	if e.recorder != nil {
		// every turn logs an update and a stress/reward entry
		history, histErr = e.recorder.Recent(ctx, 2*e.cfg.StressWindow)
	}

	e.mu.Lock()
	distressed, seen := 0, 0
	for _, s := range history {
		if seen >= e.cfg.StressWindow {
			break
		}
		if s.Context["source"] == SourceStressReward {
			continue
		}
		seen++
		if s.Affect.Arousal > e.cfg.StressArousal && s.Affect.Pleasure < e.cfg.StressPleasure {
			distressed++
		}
	}
	if distressed >= e.cfg.StressMinCount {
		e.neuro.Cortisol += e.cfg.StressStep * float64(distressed)
	}
	if e.affect.Pleasure > e.cfg.RewardPleasure && e.affect.Dominance > e.cfg.RewardDominance {
		e.neuro.Dopamine += e.cfg.RewardStep
	}
	e.neuro = e.neuro.Clamp()
	snap := Snapshot{
		Timestamp: e.now(),
		Affect:    e.affect,
		Neuro:     e.neuro,
		Context:   map[string]any{"source": SourceStressReward, "distressed": distressed},
	}
	e.mu.Unlock()

	out := e.record(ctx, snap, SourceStressReward)
	if histErr != nil {
		e.logger.Warn("affect history unavailable", zap.Error(histErr))
		return snap, cognition.Degraded(SourceStressReward, fmt.Errorf("read history: %w", histErr))
	}
	return snap, out
}

func (e *Engine) record(ctx context.Context, snap Snapshot, stage string) cognition.Outcome {
	if e.recorder == nil {
		return cognition.OK(stage)
	}
	if err := e.recorder.Record(ctx, snap); err != nil {
		e.logger.Warn("affect snapshot not persisted",
			zap.String("stage", stage),
			zap.Error(err))
		return cognition.Degraded(stage, fmt.Errorf("log snapshot: %w", err))
	}
	return cognition.OK(stage)
}

// Decay applies independent exponential decay toward each axis's baseline:
// value = baseline + (value - baseline) * 2^(-dt/halfLife).
func (h HalfLives) Decay(a cognition.Affect, n cognition.Neurotransmitters, dt time.Duration) (cognition.Affect, cognition.Neurotransmitters) {
	return cognition.Affect{
			Pleasure:  decayToward(a.Pleasure, 0, dt, h.Pleasure),
			Arousal:   decayToward(a.Arousal, 0, dt, h.Arousal),
			Dominance: decayToward(a.Dominance, 0, dt, h.Dominance),
		}, cognition.Neurotransmitters{
			Dopamine: decayToward(n.Dopamine, cognition.BaselineDopamine, dt, h.Dopamine),
			Cortisol: decayToward(n.Cortisol, cognition.BaselineCortisol, dt, h.Cortisol),
		}
}

func decayToward(v, baseline float64, dt, halfLife time.Duration) float64 {
	if halfLife <= 0 || dt <= 0 {
		return v
	}
	factor := math.Exp2(-dt.Seconds() / halfLife.Seconds())
	return baseline + (v-baseline)*factor
}
