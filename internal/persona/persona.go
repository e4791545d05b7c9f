// Package persona loads the character sheet that frames every reply and
// turns the current mood into style instructions for the language model.
package persona

import (
	"fmt"
	"os"
	"strings"

	"github.com/nidhogg/limbic-flow/internal/cognition"
	"gopkg.in/yaml.v3"
)

// DefaultInstruction is used when no emotion rule matches.
const DefaultInstruction = "保持自然，跟随直觉。"

// Rule applies Instruction when a value lies in the closed Range.
type Rule struct {
	Range       [2]float64 `yaml:"range"`
	Instruction string     `yaml:"instruction"`
}

func (r Rule) matches(v float64) bool {
	return r.Range[0] <= v && v <= r.Range[1]
}

// Rules are checked per axis in file order; the first match wins.
type Rules struct {
	Pleasure []Rule `yaml:"pleasure"`
	Arousal  []Rule `yaml:"arousal"`
	Cortisol []Rule `yaml:"cortisol"`
}

// Persona defines the agent's identity and its emotion-dependent style.
type Persona struct {
	Name         string `yaml:"name"`
	BasePrompt   string `yaml:"base_prompt"`
	EmotionRules Rules  `yaml:"emotion_rules"`
}

// Default is the persona used when none is configured.
func Default() *Persona {
	return &Persona{
		Name:       "Limbic",
		BasePrompt: "你是一个具有人类情绪特征的对话伙伴。以自然、真实的方式回应，不要直接陈述你的情绪数值。",
	}
}

// Parse decodes a persona document.
func Parse(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("persona: parse: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and parses the persona at path.
func LoadFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	return Parse(data)
}

func (p *Persona) validate() error {
	if strings.TrimSpace(p.BasePrompt) == "" {
		return fmt.Errorf("persona: base_prompt is required")
	}
	for axis, rules := range map[string][]Rule{
		"pleasure": p.EmotionRules.Pleasure,
		"arousal":  p.EmotionRules.Arousal,
		"cortisol": p.EmotionRules.Cortisol,
	} {
		for i, r := range rules {
			if r.Range[0] > r.Range[1] {
				return fmt.Errorf("persona: %s rule %d: range [%v, %v] is inverted", axis, i, r.Range[0], r.Range[1])
			}
		}
	}
	return nil
}

// Instructions returns the matched style instructions for pleasure, arousal
// and cortisol, or DefaultInstruction when none match.
func (p *Persona) Instructions(em cognition.Emotion) []string {
	var out []string
	pick := func(rules []Rule, v float64) {
		for _, r := range rules {
			if r.matches(v) {
				out = append(out, r.Instruction)
				return
			}
		}
	}
	pick(p.EmotionRules.Pleasure, em.Affect.Pleasure)
	pick(p.EmotionRules.Arousal, em.Affect.Arousal)
	pick(p.EmotionRules.Cortisol, em.Neuro.Cortisol)
	if len(out) == 0 {
		return []string{DefaultInstruction}
	}
	return out
}

// SystemPrompt renders the system message for one turn.
func (p *Persona) SystemPrompt(em cognition.Emotion, userInfo map[string]string, location string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.BasePrompt))
	b.WriteString("\n\n当前情绪风格指南（必须严格执行）：\n")
	for _, in := range p.Instructions(em) {
		b.WriteString("- ")
		b.WriteString(in)
		b.WriteString("\n")
	}
	if name := userInfo["name"]; name != "" {
		b.WriteString("\n当前对话对象信息：\n- 名字: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	if location != "" {
		b.WriteString("\n你的位置感知：\n")
		b.WriteString(location)
		b.WriteString("\n")
	}
	return b.String()
}
