package output

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/permgate/internal/tui/theme"
)

// Styles colors text output. The zero-color variant renders plain text.
type Styles struct {
	Key   lipgloss.Style
	Allow lipgloss.Style
	Deny  lipgloss.Style
	Ask   lipgloss.Style
	Pass  lipgloss.Style
	Dim   lipgloss.Style
	Rule  lipgloss.Style
	Head  lipgloss.Style
}

// NewStyles returns colored styles when color is set, plain ones otherwise.
func NewStyles(color bool) *Styles {
	plain := lipgloss.NewStyle()
	if !color {
		return &Styles{Key: plain, Allow: plain, Deny: plain, Ask: plain, Pass: plain, Dim: plain, Rule: plain, Head: plain}
	}
	t := theme.Detect()
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return &Styles{
		Key:   fg(t.Blue),
		Allow: fg(t.VerdictColor("allow")).Bold(true),
		Deny:  fg(t.VerdictColor("deny")).Bold(true),
		Ask:   fg(t.VerdictColor("ask")).Bold(true),
		Pass:  fg(t.VerdictColor("pass")),
		Dim:   fg(t.Subtext),
		Rule:  fg(t.Teal),
		Head:  fg(t.Mauve).Bold(true),
	}
}

// Verdict renders an authorization decision in its color.
func (s *Styles) Verdict(v string) string {
	switch v {
	case "allow":
		return s.Allow.Render(v)
	case "deny":
		return s.Deny.Render(v)
	case "ask":
		return s.Ask.Render(v)
	default:
		return s.Pass.Render(v)
	}
}

// IsTerminal reports whether w is a terminal. NO_COLOR disables color even
// on a terminal.
func IsTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
