package articulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(cfg Config) *Engine {
	return NewEngine(cfg, rand.New(rand.NewPCG(1, 2)))
}

func kinds(events []ActionEvent) []Kind {
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestTwoSegmentScenario(t *testing.T) {
	e := newTestEngine(Config{MinSegmentLength: 3})
	a := cognition.Affect{Pleasure: 0.6, Arousal: 0.6}
	n := cognition.Neurotransmitters{Dopamine: 0.5, Cortisol: 0.2}

	events := e.Articulate("你好。今天很开心！", a, n, nil).Drain()

	want := []Kind{KindTyping, KindMessage, KindWait, KindTyping, KindMessage}
	if diff := cmp.Diff(want, kinds(events)); diff != "" {
		t.Fatalf("action order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"你好。", "今天很开心！"}, Messages(events))
	assert.Equal(t, 0, events[1].Metadata["segment_index"])
	assert.Equal(t, 1, events[4].Metadata["segment_index"])
}

func TestDefaultMinLengthKeepsShortTextWhole(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	events := e.Articulate("你好。今天很开心！", cognition.Affect{}, cognition.DefaultNeurotransmitters(), nil).Drain()
	assert.Equal(t, []string{"你好。今天很开心！"}, Messages(events))
}

func TestDopamineBurstIsFinerGrained(t *testing.T) {
	text := "今天天气真好。我们去公园散步吧！然后一起吃晚饭。"
	e := newTestEngine(DefaultConfig())
	agitated := cognition.Affect{Arousal: 0.8, Dominance: -0.5}

	calm := e.Articulate(text, agitated, cognition.Neurotransmitters{Dopamine: 0.5}, nil).Drain()
	burst := e.Articulate(text, agitated, cognition.Neurotransmitters{Dopamine: 0.85}, nil).Drain()

	assert.Len(t, Messages(calm), 2)
	assert.Len(t, Messages(burst), 3)
	assert.Equal(t, 0.8, SegmentMultiplier(agitated, cognition.Neurotransmitters{Dopamine: 0.5}))
	assert.Equal(t, 0.5, SegmentMultiplier(agitated, cognition.Neurotransmitters{Dopamine: 0.85}))
}

func TestSpeedModifier(t *testing.T) {
	assert.InDelta(t, 1.3, SpeedModifier(cognition.Affect{}, cognition.Neurotransmitters{Dopamine: 0.85}), 1e-9)
	assert.InDelta(t, 1.5*1.3, SpeedModifier(cognition.Affect{Arousal: 1}, cognition.Neurotransmitters{Dopamine: 0.9}), 1e-9)
	assert.InDelta(t, 0.5, SpeedModifier(cognition.Affect{Arousal: -1}, cognition.Neurotransmitters{}), 1e-9)
}

func TestTypingDurationBounds(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	a := cognition.Affect{Arousal: 0.6}
	n := cognition.Neurotransmitters{Dopamine: 0.85}
	text := "这是一个足够长的句子用于测试。"

	events := e.Articulate(text, a, n, nil).Drain()
	require.Equal(t, KindTyping, events[0].Kind)

	length := float64(utf8.RuneCountInString(text))
	base := length / (60 * SpeedModifier(a, n) * 5 / 60)
	got := events[0].Duration.Seconds()
	assert.GreaterOrEqual(t, got, base*0.9-1e-6)
	assert.LessOrEqual(t, got, base*1.1+1e-6)
}

func TestHesitation(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, 500*time.Millisecond, Hesitation(base, cognition.Affect{}))
	assert.Equal(t, 100*time.Millisecond, Hesitation(50*time.Millisecond, cognition.Affect{}), "floor")
	assert.Equal(t, 3*time.Second, Hesitation(10*time.Second, cognition.Affect{}), "ceiling")
	assert.Less(t, Hesitation(base, cognition.Affect{Dominance: 1}), Hesitation(base, cognition.Affect{Dominance: -1}))
}

func TestStressPause(t *testing.T) {
	e := newTestEngine(Config{MinSegmentLength: 3})
	n := cognition.Neurotransmitters{Dopamine: 0.5, Cortisol: 0.9}

	events := e.Articulate("你好。今天很开心！", cognition.Affect{}, n, nil).Drain()

	want := []Kind{KindTyping, KindWait, KindMessage, KindWait, KindTyping, KindWait, KindMessage}
	if diff := cmp.Diff(want, kinds(events)); diff != "" {
		t.Fatalf("action order mismatch (-want +got):\n%s", diff)
	}
	for _, i := range []int{1, 5} {
		assert.Equal(t, "stress", events[i].Metadata["reason"])
		assert.GreaterOrEqual(t, events[i].Duration, time.Second)
		assert.LessOrEqual(t, events[i].Duration, 3*time.Second)
	}
}

func TestSegmentCoverage(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 42))
	alphabet := []rune("你好世界今天天气abc xyz 。！？.!?…")
	strip := func(s string) string {
		return strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, s)
	}

	for i := 0; i < 300; i++ {
		n := r.IntN(80)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[r.IntN(len(alphabet))])
		}
		text := b.String()
		for _, mult := range []float64{0.5, 0.8, 1.0} {
			segs := Segment(text, 10, mult)
			got := strip(strings.Join(segs, ""))
			if got != strip(text) {
				t.Fatalf("coverage lost for %q (mult %v): got %q", text, mult, strings.Join(segs, "|"))
			}
			if strings.TrimSpace(text) != "" && len(segs) == 0 {
				t.Fatalf("no segment for non-empty %q", text)
			}
		}
	}
}

func TestSegmentEdgeCases(t *testing.T) {
	assert.Empty(t, Segment("", 10, 1))
	assert.Empty(t, Segment("   ", 10, 1))
	assert.Equal(t, []string{"没有标点的文本"}, Segment("没有标点的文本", 10, 1))
	assert.Equal(t, []string{"Wait...", "really?!"}, Segment("Wait... really?!", 5, 1))
	assert.Equal(t, []string{"Hello there.", "How are you?"}, Segment("Hello there. How are you?", 10, 1))
}

func TestEmptyTextYieldsNoActions(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	seq := e.Articulate("", cognition.Affect{}, cognition.DefaultNeurotransmitters(), nil)
	assert.Equal(t, 0, seq.Len())
}

func TestSequenceIsSingleUse(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	seq := e.Articulate("你好呀，今天过得怎么样？", cognition.Affect{}, cognition.DefaultNeurotransmitters(), map[string]any{"turn_id": "t1"})

	first := seq.Drain()
	require.NotEmpty(t, first)
	assert.Equal(t, "t1", first[0].Metadata["turn_id"])
	assert.Empty(t, seq.Drain(), "second traversal yields nothing")
}

func TestActionEventJSON(t *testing.T) {
	ev := ActionEvent{Kind: KindWait, Duration: 1500 * time.Millisecond, Metadata: map[string]any{"segment_index": 0}}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"wait","content":"","duration":1.5,"metadata":{"segment_index":0}}`, string(b))

	var back ActionEvent
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, ev.Duration, back.Duration)

	assert.Error(t, json.Unmarshal([]byte(`{"action":"dance"}`), &back))
}

func TestRenderInstant(t *testing.T) {
	e := newTestEngine(Config{MinSegmentLength: 3})
	seq := e.Articulate("你好。今天很开心！", cognition.Affect{}, cognition.DefaultNeurotransmitters(), nil)

	c := &Collector{}
	require.NoError(t, Render(context.Background(), seq, c, Instant{}))
	assert.Len(t, c.Events(), seq.Len())
}

func TestRenderCancelled(t *testing.T) {
	e := newTestEngine(Config{MinSegmentLength: 3})
	seq := e.Articulate("你好。今天很开心！", cognition.Affect{}, cognition.DefaultNeurotransmitters(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{}
	r := RendererFunc(func(ctx context.Context, ev ActionEvent) error {
		cancel()
		return c.Render(ctx, ev)
	})
	err := Render(ctx, seq, r, RealTime{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, c.Events(), 1)
}

func TestRenderScaled(t *testing.T) {
	seq := NewSequence([]ActionEvent{{Kind: KindWait, Duration: time.Second}})
	start := time.Now()
	require.NoError(t, Render(context.Background(), seq, &Collector{}, Scaled{Factor: 0.01}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTerminalRenderer(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, "Limbic")
	ctx := context.Background()

	require.NoError(t, term.Render(ctx, ActionEvent{Kind: KindTyping, Duration: time.Second}))
	assert.Contains(t, buf.String(), "正在输入")
	require.NoError(t, term.Render(ctx, ActionEvent{Kind: KindMessage, Content: "你好。"}))
	assert.Contains(t, buf.String(), "你好。")
	assert.Contains(t, buf.String(), "\r\033[K")
}
