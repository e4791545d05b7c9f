package persona

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sheet = `
name: Test
base_prompt: 你是测试人格。
emotion_rules:
  pleasure:
    - range: [0.3, 1.0]
      instruction: 热情
    - range: [0.0, 0.5]
      instruction: 温和
  cortisol:
    - range: [0.7, 1.0]
      instruction: 紧张
`

func emotion(p, a, cort float64) cognition.Emotion {
	return cognition.Emotion{
		Affect: cognition.Affect{Pleasure: p, Arousal: a},
		Neuro:  cognition.Neurotransmitters{Dopamine: 0.5, Cortisol: cort},
	}
}

func TestInstructionsFirstMatchPerAxis(t *testing.T) {
	p, err := Parse([]byte(sheet))
	require.NoError(t, err)

	assert.Equal(t, []string{"热情"}, p.Instructions(emotion(0.4, 0, 0.3)))
	assert.Equal(t, []string{"温和", "紧张"}, p.Instructions(emotion(0.0, 0, 0.7)), "closed range bounds")
	assert.Equal(t, []string{DefaultInstruction}, p.Instructions(emotion(-0.5, 0, 0.3)))
}

func TestSystemPrompt(t *testing.T) {
	p, err := Parse([]byte(sheet))
	require.NoError(t, err)

	out := p.SystemPrompt(emotion(0.9, 0, 0.9), map[string]string{"name": "阿皓"}, "北京，晴，20°C")
	assert.Contains(t, out, "你是测试人格。")
	assert.Contains(t, out, "- 热情\n- 紧张\n")
	assert.Contains(t, out, "- 名字: 阿皓")
	assert.Contains(t, out, "北京，晴，20°C")

	bare := p.SystemPrompt(emotion(-0.9, 0, 0.3), nil, "")
	assert.NotContains(t, bare, "名字")
	assert.NotContains(t, bare, "位置")
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("name: x\n"))
	assert.ErrorContains(t, err, "base_prompt")

	_, err = Parse([]byte("base_prompt: x\nemotion_rules:\n  arousal:\n    - range: [0.5, 0.1]\n      instruction: y\n"))
	assert.ErrorContains(t, err, "inverted")

	_, err = Parse([]byte("base_prompt: [unterminated"))
	assert.Error(t, err)
}

func TestBundledPersonaParses(t *testing.T) {
	p, err := LoadFile(filepath.Join("..", "..", "configs", "personas", "companion.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, p.EmotionRules.Pleasure)
	assert.Len(t, p.Instructions(emotion(0, 0, 0.3)), 1)
}

func TestNewManager(t *testing.T) {
	m, err := NewManager("", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Default().Name, m.Current().Name)

	_, err = NewManager(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}

func TestManagerWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sheet), 0o644))

	m, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte("name: Broken\nbase_prompt: [\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "Test", m.Current().Name, "invalid edit keeps previous persona")

	require.NoError(t, os.WriteFile(path, []byte("name: Renamed\nbase_prompt: 新的人格。\n"), 0o644))
	assert.Eventually(t, func() bool { return m.Current().Name == "Renamed" }, 2*time.Second, 20*time.Millisecond)
}
