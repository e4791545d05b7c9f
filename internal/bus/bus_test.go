package bus

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/nidhogg/limbic-flow/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func unreachable() *ActionBus {
	return newActionBus(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}), zap.NewNop())
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := unreachable()
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, "cli")

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "no events from an unreachable server")
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not stop")
	}
	require.NoError(t, b.Close())
}

func TestPublishUnreachable(t *testing.T) {
	b := unreachable()
	defer b.Close()
	err := b.Publish(context.Background(), TurnEvent{TurnID: "t1"})
	assert.ErrorContains(t, err, streamPrefix+defaultChannel)
}

func TestActionBusRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	url := testutil.StartRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := NewActionBus(ctx, url, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	sub, stop := context.WithCancel(ctx)
	defer stop()
	events := b.Subscribe(sub, "discord")
	// XREAD with "$" only sees entries added after the read starts.
	time.Sleep(300 * time.Millisecond)

	want := TurnEvent{
		TurnID:  "turn-1",
		Channel: "discord",
		Affect:  cognition.Affect{Pleasure: 0.4},
		Neuro:   cognition.DefaultNeurotransmitters(),
		Reply:   "你好。",
		Actions: []articulation.ActionEvent{
			{Kind: articulation.KindTyping, Duration: time.Second},
			{Kind: articulation.KindMessage, Content: "你好。"},
		},
	}
	require.NoError(t, b.Publish(ctx, want))
	require.NoError(t, b.Publish(ctx, TurnEvent{TurnID: "elsewhere", Channel: "slack"}))

	select {
	case got := <-events:
		assert.Equal(t, "turn-1", got.TurnID)
		assert.Equal(t, want.Actions, got.Actions)
		assert.InDelta(t, 0.4, got.Affect.Pleasure, 1e-9)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
