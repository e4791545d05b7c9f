package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/nidhogg/limbic-flow/internal/affect"
)

const barWidth = 12

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)
	panelTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	labelStyle = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("#9CA3AF"))
	fillStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#374151"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// renderPanel draws the mood and neurotransmitter levels of snap.
func renderPanel(snap affect.Snapshot) string {
	rows := []string{
		panelTitle.Render("情绪 · " + affect.Describe(snap)),
		row("愉悦 P", snap.Affect.Pleasure, -1, 1),
		row("唤醒 A", snap.Affect.Arousal, -1, 1),
		row("支配 D", snap.Affect.Dominance, -1, 1),
		row("多巴胺", snap.Neuro.Dopamine, 0, 1),
		row("皮质醇", snap.Neuro.Cortisol, 0, 1),
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

func row(label string, v, lo, hi float64) string {
	return labelStyle.Render(label) + bar(v, lo, hi) + fmt.Sprintf(" %+.2f", v)
}

// bar maps v from [lo, hi] onto a fixed-width gauge.
func bar(v, lo, hi float64) string {
	frac := (v - lo) / (hi - lo)
	filled := int(math.Round(math.Max(0, math.Min(1, frac)) * barWidth))
	return fillStyle.Render(strings.Repeat("█", filled)) +
		emptyStyle.Render(strings.Repeat("░", barWidth-filled))
}

func renderWarnings(warnings []string) string {
	lines := make([]string, len(warnings))
	for i, w := range warnings {
		lines[i] = warnStyle.Render("! " + w)
	}
	return strings.Join(lines, "\n")
}
