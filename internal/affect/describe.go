package affect

import "strings"

// Describe renders a short Chinese mood label for a snapshot, e.g. "开心，兴奋".
func Describe(s Snapshot) string {
	var parts []string
	switch {
	case s.Affect.Pleasure > 0.3:
		parts = append(parts, "开心")
	case s.Affect.Pleasure < -0.3:
		parts = append(parts, "沮丧")
	}
	switch {
	case s.Affect.Arousal > 0.3:
		parts = append(parts, "兴奋")
	case s.Affect.Arousal < -0.3:
		parts = append(parts, "平静")
	}
	switch {
	case s.Affect.Dominance > 0.3:
		parts = append(parts, "自信")
	case s.Affect.Dominance < -0.3:
		parts = append(parts, "犹豫")
	}
	if len(parts) == 0 {
		return "中性"
	}
	return strings.Join(parts, "，")
}
