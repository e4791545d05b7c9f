// Package perception reads a user utterance for emotional stimulus, identity
// facts and environmental pressure.
package perception

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/nidhogg/limbic-flow/internal/affect"
	"github.com/nidhogg/limbic-flow/internal/cognition"
	"gopkg.in/yaml.v3"
)

// PressureKey is the turn-context key carrying environmental pressure.
const PressureKey = "environmental_pressure"

// MaxDelta bounds each axis of the stimulus derived from one utterance.
const MaxDelta = 0.5

// Lexicon lists trigger words per stimulus class. Matching is substring based
// on the lower-cased utterance.
type Lexicon struct {
	Positive []string `yaml:"positive" json:"positive"`
	Negative []string `yaml:"negative" json:"negative"`
	Urgent   []string `yaml:"urgent" json:"urgent"`
	Hesitant []string `yaml:"hesitant" json:"hesitant"`
}

// DefaultLexicon covers common Chinese and English cues.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Positive: []string{"开心", "高兴", "好", "棒", "happy", "good", "great"},
		Negative: []string{"累", "难过", "不好", "烦", "tired", "sad", "bad", "annoyed"},
		Urgent:   []string{"急", "快", "马上", "urgent", "quick", "immediately"},
		Hesitant: []string{"可能", "也许", "不确定", "maybe", "perhaps", "uncertain"},
	}
}

// LoadLexicon reads a YAML lexicon. An empty path returns DefaultLexicon;
// a class missing from the file keeps its default words.
func LoadLexicon(path string) (Lexicon, error) {
	lex := DefaultLexicon()
	if path == "" {
		return lex, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("perception: read lexicon %s: %w", path, err)
	}
	var file Lexicon
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Lexicon{}, fmt.Errorf("perception: parse lexicon %s: %w", path, err)
	}
	for _, class := range []struct{ dst, src *[]string }{
		{&lex.Positive, &file.Positive},
		{&lex.Negative, &file.Negative},
		{&lex.Urgent, &file.Urgent},
		{&lex.Hesitant, &file.Hesitant},
	} {
		if len(*class.src) > 0 {
			*class.dst = *class.src
		}
	}
	return lex, nil
}

// Perception is what one utterance contributes to a turn.
type Perception struct {
	Stimulus affect.Stimulus
	UserInfo map[string]string
}

// Perceiver maps utterances to stimuli.
type Perceiver struct {
	lex Lexicon
}

func New(lex Lexicon) *Perceiver {
	return &Perceiver{lex: lex}
}

// Perceive combines Stimulus, ExtractUserInfo and Pressure.
func (p *Perceiver) Perceive(input string, ctx map[string]any) Perception {
	stim := p.Stimulus(input)
	stim.Pressure = Pressure(ctx)
	return Perception{Stimulus: stim, UserInfo: ExtractUserInfo(input)}
}

// Stimulus scores the utterance. Each positive word adds +0.2 pleasure and
// +0.1 arousal, each negative word -0.2 pleasure and +0.1 arousal, each
// urgent word +0.3 arousal and each hesitant word -0.2 dominance. Negative
// words are consumed first so "不好" does not also count as "好".
func (p *Perceiver) Stimulus(input string) affect.Stimulus {
	text := strings.ToLower(input)
	var s affect.Stimulus

	for _, w := range p.lex.Negative {
		if w != "" && strings.Contains(text, w) {
			s.Pleasure -= 0.2
			s.Arousal += 0.1
			text = strings.ReplaceAll(text, w, " ")
		}
	}
	for _, w := range p.lex.Positive {
		if w != "" && strings.Contains(text, w) {
			s.Pleasure += 0.2
			s.Arousal += 0.1
		}
	}
	for _, w := range p.lex.Urgent {
		if w != "" && strings.Contains(text, w) {
			s.Arousal += 0.3
		}
	}
	for _, w := range p.lex.Hesitant {
		if w != "" && strings.Contains(text, w) {
			s.Dominance -= 0.2
		}
	}

	s.Pleasure = cognition.ClampRange(s.Pleasure, -MaxDelta, MaxDelta)
	s.Arousal = cognition.ClampRange(s.Arousal, -MaxDelta, MaxDelta)
	s.Dominance = cognition.ClampRange(s.Dominance, -MaxDelta, MaxDelta)
	return s
}

var (
	zhName = regexp.MustCompile(`我叫([\p{Han}A-Za-z]{1,8})`)
	enName = regexp.MustCompile(`(?i)\bmy name is ([a-z][a-z'\-]{0,30})`)
)

// question words that follow 我叫 in "你知道我叫什么吗".
var notNames = []string{"什么", "啥", "谁"}

// ExtractUserInfo pulls self-introductions out of the utterance. It returns
// nil when nothing was found.
func ExtractUserInfo(input string) map[string]string {
	if m := zhName.FindStringSubmatch(input); m != nil {
		name := m[1]
		for _, q := range notNames {
			if strings.HasPrefix(name, q) {
				name = ""
				break
			}
		}
		if name != "" {
			return map[string]string{"name": name}
		}
	}
	if m := enName.FindStringSubmatch(input); m != nil {
		return map[string]string{"name": m[1]}
	}
	return nil
}

// Pressure reads ctx[PressureKey]. Missing, malformed or negative values
// yield 0.
func Pressure(ctx map[string]any) float64 {
	var v float64
	switch x := ctx[PressureKey].(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case json.Number:
		v, _ = x.Float64()
	case string:
		v, _ = strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
