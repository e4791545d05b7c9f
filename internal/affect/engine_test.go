package affect

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type sliceRecorder struct {
	snaps   []Snapshot
	failErr error
}

func (r *sliceRecorder) Record(_ context.Context, s Snapshot) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *sliceRecorder) Recent(_ context.Context, n int) ([]Snapshot, error) {
	var out []Snapshot
	for i := len(r.snaps) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.snaps[i])
	}
	return out, nil
}

func newTestEngine(rec Recorder) (*Engine, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(DefaultConfig(), rec, zap.NewNop())
	e.SetClock(clk.Now)
	return e, clk
}

func TestDecayFormula(t *testing.T) {
	h := DefaultConfig().HalfLives
	a := cognition.Affect{Pleasure: 0.8, Arousal: -0.6, Dominance: 0.4}
	n := cognition.Neurotransmitters{Dopamine: 0.9, Cortisol: 0.1}

	gotA, gotN := h.Decay(a, n, time.Hour)

	assert.InDelta(t, 0.4, gotA.Pleasure, 1e-9, "one pleasure half-life halves the distance")
	assert.InDelta(t, -0.15, gotA.Arousal, 1e-9, "two arousal half-lives")
	assert.InDelta(t, 0.4*math.Exp2(-60.0/45.0), gotA.Dominance, 1e-9)
	assert.InDelta(t, 0.5+0.4*math.Exp2(-12), gotN.Dopamine, 1e-9)
	assert.InDelta(t, 0.3-0.2*math.Exp2(-6), gotN.Cortisol, 1e-9)
}

func TestDecayZeroElapsedIsIdentity(t *testing.T) {
	h := DefaultConfig().HalfLives
	a := cognition.Affect{Pleasure: 0.2, Arousal: 0.3, Dominance: -0.1}
	n := cognition.Neurotransmitters{Dopamine: 0.7, Cortisol: 0.6}
	gotA, gotN := h.Decay(a, n, 0)
	assert.Equal(t, a, gotA)
	assert.Equal(t, n, gotN)
}

func TestUpdateAppliesStimulusAndCoupling(t *testing.T) {
	rec := &sliceRecorder{}
	e, _ := newTestEngine(rec)

	snap, out := e.Update(context.Background(), Stimulus{Pleasure: 0.4, Arousal: -0.2}, map[string]any{"input": "hi"})
	require.Equal(t, cognition.StatusOK, out.Status)

	assert.InDelta(t, 0.4, snap.Affect.Pleasure, 1e-9)
	assert.InDelta(t, -0.2, snap.Affect.Arousal, 1e-9)
	assert.InDelta(t, 0.5+0.04, snap.Neuro.Dopamine, 1e-9)
	assert.InDelta(t, 0.3+0.02, snap.Neuro.Cortisol, 1e-9)

	require.Len(t, rec.snaps, 1)
	assert.Equal(t, "hi", rec.snaps[0].Context["input"])
}

func TestUpdateDecaysBeforeStimulus(t *testing.T) {
	e, clk := newTestEngine(nil)
	ctx := context.Background()

	e.Update(ctx, Stimulus{Pleasure: 0.8}, nil)
	clk.Advance(time.Hour)
	snap, _ := e.Update(ctx, Stimulus{}, nil)

	assert.InDelta(t, 0.4, snap.Affect.Pleasure, 1e-9)
}

func TestPressureRaisesCortisol(t *testing.T) {
	e, _ := newTestEngine(nil)
	snap, _ := e.Update(context.Background(), Stimulus{Pressure: 2}, nil)
	assert.InDelta(t, 0.5, snap.Neuro.Cortisol, 1e-9)
}

func TestClampingUnderRandomStimuli(t *testing.T) {
	e, clk := newTestEngine(nil)
	r := rand.New(rand.NewPCG(7, 11))
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		stim := Stimulus{
			Pleasure:  r.Float64()*6 - 3,
			Arousal:   r.Float64()*6 - 3,
			Dominance: r.Float64()*6 - 3,
			Pressure:  r.Float64() * 5,
		}
		clk.Advance(time.Duration(r.IntN(120)) * time.Second)
		snap, _ := e.Update(ctx, stim, nil)

		for _, v := range []float64{snap.Affect.Pleasure, snap.Affect.Arousal, snap.Affect.Dominance} {
			require.GreaterOrEqual(t, v, -1.0)
			require.LessOrEqual(t, v, 1.0)
		}
		for _, v := range []float64{snap.Neuro.Dopamine, snap.Neuro.Cortisol} {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestRecorderFailureIsDegraded(t *testing.T) {
	rec := &sliceRecorder{failErr: errors.New("disk full")}
	e, _ := newTestEngine(rec)

	snap, out := e.Update(context.Background(), Stimulus{Pleasure: 0.5}, nil)

	assert.Equal(t, cognition.StatusDegraded, out.Status)
	assert.Contains(t, out.Warning, "disk full")
	assert.InDelta(t, 0.5, snap.Affect.Pleasure, 1e-9, "update still returned")
	assert.InDelta(t, 0.5, e.State().Affect.Pleasure, 1e-9, "state still advanced")
}

func TestStressRewardAccumulatesCortisol(t *testing.T) {
	rec := &sliceRecorder{}
	e, _ := newTestEngine(rec)
	ctx := context.Background()

	distressed := Snapshot{Affect: cognition.Affect{Pleasure: -0.6, Arousal: 0.7}}
	for i := 0; i < 3; i++ {
		rec.snaps = append(rec.snaps, distressed)
	}
	before := e.State().Neuro.Cortisol

	snap, out := e.StressReward(ctx)

	require.Equal(t, cognition.StatusOK, out.Status)
	assert.InDelta(t, before+0.15, snap.Neuro.Cortisol, 1e-9)
	assert.Equal(t, "stress_reward", rec.snaps[len(rec.snaps)-1].Context["source"])
}

func TestStressRewardNeedsThreeDistressed(t *testing.T) {
	rec := &sliceRecorder{}
	e, _ := newTestEngine(rec)
	rec.snaps = append(rec.snaps,
		Snapshot{Affect: cognition.Affect{Pleasure: -0.6, Arousal: 0.7}},
		Snapshot{Affect: cognition.Affect{Pleasure: 0.1, Arousal: 0.7}},
		Snapshot{Affect: cognition.Affect{Pleasure: -0.6, Arousal: 0.7}},
	)

	snap, _ := e.StressReward(context.Background())
	assert.InDelta(t, cognition.BaselineCortisol, snap.Neuro.Cortisol, 1e-9)
}

func TestStressRewardOnlyLooksAtWindow(t *testing.T) {
	rec := &sliceRecorder{}
	e, _ := newTestEngine(rec)
	for i := 0; i < 3; i++ {
		rec.snaps = append(rec.snaps, Snapshot{Affect: cognition.Affect{Pleasure: -0.9, Arousal: 0.9}})
	}
	for i := 0; i < 5; i++ {
		rec.snaps = append(rec.snaps, Snapshot{})
	}

	snap, _ := e.StressReward(context.Background())
	assert.InDelta(t, cognition.BaselineCortisol, snap.Neuro.Cortisol, 1e-9)
}

func TestStressRewardSkipsItsOwnSnapshots(t *testing.T) {
	rec := &sliceRecorder{}
	e, _ := newTestEngine(rec)
	distressed := Snapshot{Affect: cognition.Affect{Pleasure: -0.6, Arousal: 0.7}}
	pass := distressed
	pass.Context = map[string]any{"source": SourceStressReward}
	rec.snaps = append(rec.snaps, distressed, pass, distressed, pass)

	snap, _ := e.StressReward(context.Background())
	assert.InDelta(t, cognition.BaselineCortisol, snap.Neuro.Cortisol, 1e-9)
	assert.Equal(t, 2, snap.Context["distressed"])
}

func TestStressRewardReward(t *testing.T) {
	e, _ := newTestEngine(&sliceRecorder{})
	e.Restore(Snapshot{
		Affect: cognition.Affect{Pleasure: 0.7, Dominance: 0.5},
		Neuro:  cognition.DefaultNeurotransmitters(),
	})

	snap, _ := e.StressReward(context.Background())
	assert.InDelta(t, 0.6, snap.Neuro.Dopamine, 1e-9)
}

func TestRestoreClamps(t *testing.T) {
	e, _ := newTestEngine(nil)
	e.Restore(Snapshot{
		Affect: cognition.Affect{Pleasure: 4, Arousal: -4},
		Neuro:  cognition.Neurotransmitters{Dopamine: 2, Cortisol: -1},
	})
	s := e.State()
	assert.Equal(t, 1.0, s.Affect.Pleasure)
	assert.Equal(t, -1.0, s.Affect.Arousal)
	assert.Equal(t, 1.0, s.Neuro.Dopamine)
	assert.Equal(t, 0.0, s.Neuro.Cortisol)
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		a    cognition.Affect
		want string
	}{
		{"neutral", cognition.Affect{}, "中性"},
		{"happy excited", cognition.Affect{Pleasure: 0.5, Arousal: 0.4}, "开心，兴奋"},
		{"low hesitant", cognition.Affect{Pleasure: -0.5, Dominance: -0.6}, "沮丧，犹豫"},
		{"calm confident", cognition.Affect{Arousal: -0.4, Dominance: 0.4}, "平静，自信"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(Snapshot{Affect: tt.a}))
		})
	}
}
