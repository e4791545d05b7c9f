package articulation

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Terminal renders actions to a line-oriented terminal: a transient typing
// indicator, then each message as a styled bubble.
type Terminal struct {
	w         io.Writer
	speaker   string
	name      lipgloss.Style
	bubble    lipgloss.Style
	indicator lipgloss.Style
	typing    bool
}

// NewTerminal creates a terminal renderer that prefixes messages with speaker.
func NewTerminal(w io.Writer, speaker string) *Terminal {
	return &Terminal{
		w:       w,
		speaker: speaker,
		name: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true),
		bubble: lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")),
		indicator: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Italic(true),
	}
}

func (t *Terminal) Render(_ context.Context, ev ActionEvent) error {
	switch ev.Kind {
	case KindTyping:
		t.typing = true
		_, err := fmt.Fprint(t.w, t.indicator.Render(t.speaker+" 正在输入…"))
		return err
	case KindMessage:
		if t.typing {
			// clear the indicator line
			if _, err := fmt.Fprint(t.w, "\r\033[K"); err != nil {
				return err
			}
			t.typing = false
		}
		_, err := fmt.Fprintf(t.w, "%s\n%s\n", t.name.Render(t.speaker), t.bubble.Render(ev.Content))
		return err
	default:
		return nil
	}
}
