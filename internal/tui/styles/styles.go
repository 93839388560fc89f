// Package styles provides the lipgloss styles of the proposal reviewer.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/permgate/internal/tui/theme"
)

// Styles contains all the styled lipgloss renderers.
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style

	Normal    lipgloss.Style
	Dimmed    lipgloss.Style
	Bold      lipgloss.Style
	Highlight lipgloss.Style
	Rule      lipgloss.Style

	BadgePending  lipgloss.Style
	BadgeAccepted lipgloss.Style
	BadgeRejected lipgloss.Style
	BadgeAllow    lipgloss.Style
	BadgeDeny     lipgloss.Style

	Panel      lipgloss.Style
	CommandBox lipgloss.Style
	Selected   lipgloss.Style
	Help       lipgloss.Style
}

// FromTheme creates styles from a palette.
func FromTheme(t *theme.Theme) *Styles {
	s := &Styles{}

	s.Title = lipgloss.NewStyle().
		Foreground(t.Mauve).
		Bold(true)

	s.Subtitle = lipgloss.NewStyle().
		Foreground(t.Subtext).
		Italic(true)

	s.Normal = lipgloss.NewStyle().
		Foreground(t.Text)

	s.Dimmed = lipgloss.NewStyle().
		Foreground(t.Subtext)

	s.Bold = lipgloss.NewStyle().
		Foreground(t.Text).
		Bold(true)

	s.Highlight = lipgloss.NewStyle().
		Foreground(t.Peach).
		Bold(true)

	s.Rule = lipgloss.NewStyle().
		Foreground(t.Teal).
		Bold(true)

	badgeBase := lipgloss.NewStyle().
		Padding(0, 1).
		Bold(true).
		Foreground(t.Base)

	s.BadgePending = badgeBase.Background(t.StatusColor("pending"))
	s.BadgeAccepted = badgeBase.Background(t.StatusColor("accepted"))
	s.BadgeRejected = badgeBase.Background(t.StatusColor("rejected"))
	s.BadgeAllow = badgeBase.Background(t.VerdictColor("allow"))
	s.BadgeDeny = badgeBase.Background(t.VerdictColor("deny"))

	s.Panel = lipgloss.NewStyle().
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Overlay0)

	s.CommandBox = lipgloss.NewStyle().
		Background(t.Mantle).
		Foreground(t.Green).
		Padding(0, 1)

	s.Selected = lipgloss.NewStyle().
		Background(t.Surface).
		Foreground(t.Text).
		Bold(true)

	s.Help = lipgloss.NewStyle().
		Foreground(t.Overlay0)

	return s
}

// StatusBadge returns the badge style for a proposal status.
func (s *Styles) StatusBadge(status string) lipgloss.Style {
	switch status {
	case "pending":
		return s.BadgePending
	case "accepted":
		return s.BadgeAccepted
	case "rejected":
		return s.BadgeRejected
	default:
		return s.Dimmed
	}
}

// ListBadge returns the badge style for a proposal's target list.
func (s *Styles) ListBadge(list string) lipgloss.Style {
	if list == "deny" {
		return s.BadgeDeny
	}
	return s.BadgeAllow
}

// RenderStatusBadge renders a status as a styled badge.
func (s *Styles) RenderStatusBadge(status string) string {
	return s.StatusBadge(status).Render(theme.StatusIcon(status) + " " + status)
}
