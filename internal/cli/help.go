package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Catppuccin Mocha color palette
var (
	colorMauve   = lipgloss.Color("#cba6f7") // Title
	colorBlue    = lipgloss.Color("#89b4fa") // Section headers
	colorGreen   = lipgloss.Color("#a6e3a1") // Commands, allow
	colorYellow  = lipgloss.Color("#f9e2af") // Flags, ask
	colorRed     = lipgloss.Color("#f38ba8") // deny
	colorOverlay = lipgloss.Color("#6c7086") // Muted text
	colorBase    = lipgloss.Color("#1e1e2e") // Background
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorMauve).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			MarginTop(1)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	flagStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	denyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRed)

	askStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	allowStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorOverlay)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlue).
			Background(colorBase).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)
)

var asciiBorder = lipgloss.Border{
	Top:         "-",
	Bottom:      "-",
	Left:        "|",
	Right:       "|",
	TopLeft:     "+",
	TopRight:    "+",
	BottomLeft:  "+",
	BottomRight: "+",
}

func showQuickReference(w io.Writer) {
	fmt.Fprintln(w, renderQuickReference(clampWidth(detectWidth()), supportsUnicode()))
}

func renderQuickReference(width int, useUnicode bool) string {
	border := lipgloss.RoundedBorder()
	if !useUnicode {
		border = asciiBorder
	}
	container := boxStyle.Border(border).Width(width)

	titleText := "PERMGATE QUICK REFERENCE - Agent Tool Call Authorization"
	title := titleStyle.Width(width - 4).Align(lipgloss.Center).Render(titleText)

	setup := renderSection(useUnicode, "▸ SETUP", []string{
		bullet("permgate hook install", "decide every tool call in this project"),
		bullet("permgate hook install --global", "decide tool calls in all projects"),
		bullet("permgate serve &", "optional: keep rules loaded and reload on change"),
	})

	check := renderSection(useUnicode, "▸ CHECK", []string{
		bullet("permgate check \"git push --force origin main\"", "verdict for a command line"),
		bullet("permgate check-path Edit src/app.go", "verdict for a file tool"),
		bullet("permgate decompose \"sudo bash -c 'make && make install'\"", "see the simple commands"),
	})

	inspect := renderSection(useUnicode, "▸ RULES", []string{
		bullet("permgate rules list", "rules and the files they came from"),
		bullet("permgate rules lint", "rules that never match because they do not parse"),
		bullet("permgate rules test 'Bash(npm run:*)' 'npm run build'", "try one rule"),
		bullet("permgate rules signatures", "built-in dangerous-command table"),
	})

	mine := renderSection(useUnicode, "▸ LEARN FROM HISTORY", []string{
		bullet("permgate mine run", "propose rules from audited asks"),
		bullet("permgate mine review", "accept or reject proposals interactively"),
		bullet("permgate mine export -j", "permissions block for your settings"),
	})

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		setup,
		check,
		inspect,
		mine,
		verdictLegend(),
		flagLegend(useUnicode),
		footerLegend(useUnicode),
	)
	return container.Render(content)
}

func clampWidth(w int) int {
	if w < 72 {
		return 72
	}
	if w > 100 {
		return 100
	}
	return w
}

func detectWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	// fall back to environment or default
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func supportsUnicode() bool {
	termEnv := strings.ToLower(os.Getenv("TERM"))
	locale := strings.ToLower(strings.Join([]string{
		os.Getenv("LC_ALL"),
		os.Getenv("LC_CTYPE"),
		os.Getenv("LANG"),
	}, " "))
	if strings.Contains(termEnv, "dumb") {
		return false
	}
	return strings.Contains(locale, "utf-8") || strings.Contains(locale, "utf8")
}

func bullet(command, desc string) string {
	return commandStyle.Render("  "+command) + mutedStyle.Render("  "+desc)
}

func renderSection(useUnicode bool, title string, lines []string) string {
	if !useUnicode {
		title = strings.TrimPrefix(title, "▸ ")
	}
	header := sectionStyle.Render(title)
	body := strings.Join(lines, "\n")
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}

func verdictLegend() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render("VERDICTS"),
		fmt.Sprintf("  %s   %s   %s   %s",
			denyStyle.Render("deny (exit 2)"),
			askStyle.Render("ask (exit 3)"),
			allowStyle.Render("allow (exit 0)"),
			mutedStyle.Render("pass (exit 4)"),
		),
		mutedStyle.Render("  deny beats ask beats allow; pass leaves the decision to the agent"),
	)
}

func flagLegend(useUnicode bool) string {
	title := "▸ GLOBAL FLAGS"
	if !useUnicode {
		title = "FLAGS"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render(title),
		flagStyle.Render("  -j, --json")+mutedStyle.Render("              structured output"),
		flagStyle.Render("  -o, --output <fmt>")+mutedStyle.Render("      text, json or yaml"),
		flagStyle.Render("  -C, --project <dir>")+mutedStyle.Render("     override project path"),
		flagStyle.Render("  --root <dir>")+mutedStyle.Render("            path rules resolve against"),
		flagStyle.Render("  --db <path>")+mutedStyle.Render("             audit database path"),
	)
}

func footerLegend(useUnicode bool) string {
	review := "permgate mine review"
	help := "permgate <command> --help"
	if !useUnicode {
		return mutedStyle.Render("REVIEW: " + review + "   HELP: " + help)
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		mutedStyle.Render("REVIEW: "), commandStyle.Render(review),
		mutedStyle.Render("   HELP: "), commandStyle.Render(help),
	)
}
