package affectlog

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/limbic-flow/internal/affect"
	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/nidhogg/limbic-flow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func snapAt(offset time.Duration, pleasure float64) affect.Snapshot {
	return affect.Snapshot{
		Timestamp: base.Add(offset),
		Affect:    cognition.Affect{Pleasure: pleasure, Arousal: 0.1, Dominance: -0.1},
		Neuro:     cognition.DefaultNeurotransmitters(),
		Context:   map[string]any{"input": "hello"},
	}
}

// exerciseLog runs the shared contract against any backend.
func exerciseLog(t *testing.T, l Log) {
	ctx := context.Background()

	_, ok, err := l.Latest(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty log has no latest")

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, snapAt(time.Duration(i)*time.Minute, float64(i)/10)))
	}

	latest, ok, err := l.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.4, latest.Affect.Pleasure, 1e-9)
	assert.Equal(t, "hello", latest.Context["input"])
	assert.WithinDuration(t, base.Add(4*time.Minute), latest.Timestamp, time.Millisecond)

	recent, err := l.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.InDelta(t, 0.4, recent[0].Affect.Pleasure, 1e-9, "newest first")
	assert.InDelta(t, 0.2, recent[2].Affect.Pleasure, 1e-9)

	hist, err := l.History(ctx, Query{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.InDelta(t, 0.3, hist[0].Affect.Pleasure, 1e-9)
	assert.InDelta(t, 0.1, hist[2].Affect.Pleasure, 1e-9)

	limited, err := l.History(ctx, Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryLog(t *testing.T) {
	exerciseLog(t, NewMemoryLog())
}

func TestStressNeedsThreeDistressedTurns(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	e := affect.NewEngine(affect.DefaultConfig(), log, zap.NewNop())
	e.SetClock(func() time.Time { return base })
	e.Restore(affect.Snapshot{
		Timestamp: base,
		Affect:    cognition.Affect{Pleasure: -0.6, Arousal: 0.7},
		Neuro:     cognition.DefaultNeurotransmitters(),
	})

	turn := func() affect.Snapshot {
		_, out := e.Update(ctx, affect.Stimulus{}, map[string]any{"input": "..."})
		require.Equal(t, cognition.StatusOK, out.Status)
		snap, out := e.StressReward(ctx)
		require.Equal(t, cognition.StatusOK, out.Status)
		return snap
	}

	// each update adds 0.1*|arousal| = 0.07 cortisol
	first := turn()
	assert.Equal(t, 1, first.Context["distressed"])
	assert.InDelta(t, 0.37, first.Neuro.Cortisol, 1e-9)

	second := turn()
	assert.Equal(t, 2, second.Context["distressed"])
	assert.InDelta(t, 0.44, second.Neuro.Cortisol, 1e-9, "two turns are below the threshold")

	third := turn()
	assert.Equal(t, 3, third.Context["distressed"])
	assert.InDelta(t, 0.51+3*0.05, third.Neuro.Cortisol, 1e-9)
}

func TestSQLiteLog(t *testing.T) {
	l, err := NewSQLiteLog(testutil.TempPath(t, "affect.db"), zap.NewNop())
	require.NoError(t, err)
	defer l.Close()
	exerciseLog(t, l)
}

func TestSQLiteLogReopen(t *testing.T) {
	path := testutil.TempPath(t, "affect.db")
	ctx := context.Background()

	l, err := NewSQLiteLog(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, snapAt(0, -0.5)))
	require.NoError(t, l.Close())

	l, err = NewSQLiteLog(path, zap.NewNop())
	require.NoError(t, err)
	defer l.Close()
	latest, ok, err := l.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, -0.5, latest.Affect.Pleasure, 1e-9)
}

func TestEngineRecordsIntoLog(t *testing.T) {
	l := NewMemoryLog()
	e := affect.NewEngine(affect.DefaultConfig(), l, zap.NewNop())
	ctx := context.Background()

	e.Update(ctx, affect.Stimulus{Pleasure: -0.6, Arousal: 0.7}, nil)
	e.StressReward(ctx)

	recent, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "stress_reward", recent[0].Context["source"])
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "cassandra"}, zap.NewNop())
	assert.Error(t, err)
}

func TestPostgresLog(t *testing.T) {
	testutil.RequireIntegration(t)
	dsn := testutil.StartPostgres(t)

	l, err := NewPostgresLog(context.Background(), dsn, zap.NewNop())
	require.NoError(t, err)
	defer l.Close()
	exerciseLog(t, l)
}
