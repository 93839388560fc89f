// Package theme holds the color palettes used for terminal output.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme is one Catppuccin palette.
type Theme struct {
	Mauve  lipgloss.Color // titles, accents
	Blue   lipgloss.Color // pending, headers
	Green  lipgloss.Color // allow, accepted
	Yellow lipgloss.Color // ask
	Red    lipgloss.Color // deny, rejected
	Peach  lipgloss.Color // risk
	Teal   lipgloss.Color // rules

	Text    lipgloss.Color
	Subtext lipgloss.Color

	Surface  lipgloss.Color
	Mantle   lipgloss.Color
	Base     lipgloss.Color
	Overlay0 lipgloss.Color

	Name   string
	IsDark bool
}

// FlavorName names a palette.
type FlavorName string

const (
	FlavorMocha FlavorName = "mocha"
	FlavorLatte FlavorName = "latte"
)

// Mocha is the dark palette.
func Mocha() *Theme {
	return &Theme{
		Name:     "Catppuccin Mocha",
		IsDark:   true,
		Mauve:    lipgloss.Color("#cba6f7"),
		Blue:     lipgloss.Color("#89b4fa"),
		Green:    lipgloss.Color("#a6e3a1"),
		Yellow:   lipgloss.Color("#f9e2af"),
		Red:      lipgloss.Color("#f38ba8"),
		Peach:    lipgloss.Color("#fab387"),
		Teal:     lipgloss.Color("#94e2d5"),
		Text:     lipgloss.Color("#cdd6f4"),
		Subtext:  lipgloss.Color("#a6adc8"),
		Surface:  lipgloss.Color("#313244"),
		Mantle:   lipgloss.Color("#181825"),
		Base:     lipgloss.Color("#1e1e2e"),
		Overlay0: lipgloss.Color("#6c7086"),
	}
}

// Latte is the light palette.
func Latte() *Theme {
	return &Theme{
		Name:     "Catppuccin Latte",
		IsDark:   false,
		Mauve:    lipgloss.Color("#8839ef"),
		Blue:     lipgloss.Color("#1e66f5"),
		Green:    lipgloss.Color("#40a02b"),
		Yellow:   lipgloss.Color("#df8e1d"),
		Red:      lipgloss.Color("#d20f39"),
		Peach:    lipgloss.Color("#fe640b"),
		Teal:     lipgloss.Color("#179299"),
		Text:     lipgloss.Color("#4c4f69"),
		Subtext:  lipgloss.Color("#6c6f85"),
		Surface:  lipgloss.Color("#ccd0da"),
		Mantle:   lipgloss.Color("#e6e9ef"),
		Base:     lipgloss.Color("#eff1f5"),
		Overlay0: lipgloss.Color("#9ca0b0"),
	}
}

// ForFlavor returns the palette named flavor, Mocha for unknown names.
func ForFlavor(flavor FlavorName) *Theme {
	if flavor == FlavorLatte {
		return Latte()
	}
	return Mocha()
}

// Detect picks the palette matching the terminal background.
func Detect() *Theme {
	if lipgloss.HasDarkBackground() {
		return Mocha()
	}
	return Latte()
}

// VerdictColor returns the color of an authorization decision.
func (t *Theme) VerdictColor(v string) lipgloss.Color {
	switch v {
	case "allow":
		return t.Green
	case "deny":
		return t.Red
	case "ask":
		return t.Yellow
	case "pass", "skip":
		return t.Subtext
	default:
		return t.Text
	}
}

// StatusColor returns the color of a proposal status.
func (t *Theme) StatusColor(status string) lipgloss.Color {
	switch status {
	case "pending":
		return t.Blue
	case "accepted":
		return t.Green
	case "rejected":
		return t.Red
	default:
		return t.Text
	}
}

// StatusIcon returns the icon of a proposal status.
func StatusIcon(status string) string {
	switch status {
	case "pending":
		return "⏳"
	case "accepted":
		return "✓"
	case "rejected":
		return "✗"
	default:
		return "?"
	}
}
