package articulation

import (
	"maps"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nidhogg/limbic-flow/internal/cognition"
)

// Config tunes cadence.
type Config struct {
	BaseWPM          float64       `json:"base_wpm"`
	MinSegmentLength int           `json:"min_segment_length"` // runes
	HesitationBase   time.Duration `json:"hesitation_base"`
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		BaseWPM:          60,
		MinSegmentLength: 10,
		HesitationBase:   500 * time.Millisecond,
	}
}

const terminals = "。！？.!?…"

// Engine produces action sequences. Safe for concurrent use.
type Engine struct {
	cfg Config
	rng *rand.Rand
	mu  sync.Mutex
}

// NewEngine creates an engine. A nil rng is seeded from the runtime.
func NewEngine(cfg Config, rng *rand.Rand) *Engine {
	def := DefaultConfig()
	if cfg.BaseWPM <= 0 {
		cfg.BaseWPM = def.BaseWPM
	}
	if cfg.MinSegmentLength <= 0 {
		cfg.MinSegmentLength = def.MinSegmentLength
	}
	if cfg.HesitationBase <= 0 {
		cfg.HesitationBase = def.HesitationBase
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{cfg: cfg, rng: rng}
}

// Articulate segments text and synthesizes timing from mood. Per segment the
// order is typing, an optional stress pause, the message, then a hesitation
// wait unless it is the last segment. meta is merged into every event.
func (e *Engine) Articulate(text string, a cognition.Affect, n cognition.Neurotransmitters, meta map[string]any) *Sequence {
	segments := Segment(text, e.cfg.MinSegmentLength, SegmentMultiplier(a, n))
	if len(segments) == 0 {
		return NewSequence(nil)
	}

	hesitation := Hesitation(e.cfg.HesitationBase, a)
	stressed := n.Cortisol > 0.7

	events := make([]ActionEvent, 0, len(segments)*4)
	for i, seg := range segments {
		md := eventMetadata(a, n, meta, i)

		events = append(events, ActionEvent{
			Kind:     KindTyping,
			Duration: e.typing(utf8.RuneCountInString(seg), a, n),
			Metadata: md,
		})
		if stressed {
			events = append(events, ActionEvent{
				Kind:     KindWait,
				Duration: e.uniform(time.Second, 3*time.Second),
				Metadata: withReason(md, "stress"),
			})
		}
		events = append(events, ActionEvent{Kind: KindMessage, Content: seg, Metadata: md})
		if i < len(segments)-1 {
			events = append(events, ActionEvent{
				Kind:     KindWait,
				Duration: hesitation,
				Metadata: withReason(md, "hesitation"),
			})
		}
	}
	return NewSequence(events)
}

// SegmentMultiplier scales the minimum segment length: choppier when agitated,
// finest during a dopamine burst.
func SegmentMultiplier(a cognition.Affect, n cognition.Neurotransmitters) float64 {
	switch {
	case n.Dopamine > 0.8:
		return 0.5
	case a.Arousal > 0.5 && a.Dominance < -0.3:
		return 0.8
	default:
		return 1.0
	}
}

// SpeedModifier scales typing speed.
func SpeedModifier(a cognition.Affect, n cognition.Neurotransmitters) float64 {
	s := cognition.ClampRange(1+a.Arousal*0.5, 0.5, 2.0)
	if n.Dopamine > 0.8 {
		s *= 1.3
	}
	return s
}

// Hesitation is the pause inserted between segments.
func Hesitation(base time.Duration, a cognition.Affect) time.Duration {
	secs := base.Seconds() * (1 - a.Dominance*0.5) * (1 - a.Arousal*0.3)
	return seconds(cognition.ClampRange(secs, 0.1, 3.0))
}

// Segment splits text at runs of sentence terminals and accumulates the
// pieces, flushing once a buffer holds at least minLen*multiplier runes.
// A trailing remainder becomes the last segment.
func Segment(text string, minLen int, multiplier float64) []string {
	threshold := float64(minLen) * multiplier

	var (
		segments []string
		buf      strings.Builder
		frag     strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			segments = append(segments, s)
		}
		buf.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); {
		if !isTerminal(runes[i]) {
			frag.WriteRune(runes[i])
			i++
			continue
		}
		if strings.TrimSpace(frag.String()) != "" || buf.Len() > 0 {
			buf.WriteString(frag.String())
		}
		frag.Reset()
		for i < len(runes) && isTerminal(runes[i]) {
			buf.WriteRune(runes[i])
			i++
		}
		if float64(utf8.RuneCountInString(buf.String())) >= threshold {
			flush()
		}
	}
	if strings.TrimSpace(frag.String()) != "" {
		buf.WriteString(frag.String())
	}
	flush()

	if len(segments) == 0 && strings.TrimSpace(text) != "" {
		segments = append(segments, strings.TrimSpace(text))
	}
	return segments
}

func isTerminal(r rune) bool {
	return strings.ContainsRune(terminals, r)
}

func (e *Engine) typing(length int, a cognition.Affect, n cognition.Neurotransmitters) time.Duration {
	charsPerSecond := e.cfg.BaseWPM * SpeedModifier(a, n) * 5 / 60
	base := float64(length) / charsPerSecond
	e.mu.Lock()
	noise := 0.9 + e.rng.Float64()*0.2
	e.mu.Unlock()
	return seconds(base * noise)
}

func (e *Engine) uniform(lo, hi time.Duration) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo + time.Duration(e.rng.Float64()*float64(hi-lo))
}

func eventMetadata(a cognition.Affect, n cognition.Neurotransmitters, meta map[string]any, idx int) map[string]any {
	md := map[string]any{
		"pleasure":  a.Pleasure,
		"arousal":   a.Arousal,
		"dominance": a.Dominance,
		"dopamine":  n.Dopamine,
		"cortisol":  n.Cortisol,
	}
	maps.Copy(md, meta)
	md["segment_index"] = idx
	return md
}

func withReason(md map[string]any, reason string) map[string]any {
	c := maps.Clone(md)
	c["reason"] = reason
	return c
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
