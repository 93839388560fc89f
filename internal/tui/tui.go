// Package tui implements the Bubble Tea reviewer for mined rule proposals.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/permgate/internal/db"
	"github.com/Dicklesworthstone/permgate/internal/tui/styles"
	"github.com/Dicklesworthstone/permgate/internal/tui/theme"
	"github.com/Dicklesworthstone/permgate/internal/utils"
)

// Store is the proposal storage the reviewer reads and updates.
type Store interface {
	ListProposals(ctx context.Context, status db.ProposalStatus) ([]*db.Proposal, error)
	SetProposalStatus(ctx context.Context, id string, status db.ProposalStatus) error
}

// Options configures the reviewer.
type Options struct {
	// Status limits the list. Empty shows every proposal.
	Status db.ProposalStatus
	// Theme is a flavor name; empty detects from the terminal.
	Theme string
}

type proposalsMsg struct {
	items []*db.Proposal
	err   error
}

type statusMsg struct {
	id     string
	status db.ProposalStatus
	err    error
}

// Model is the reviewer's state.
type Model struct {
	ctx     context.Context
	store   Store
	filter  db.ProposalStatus
	styles  *styles.Styles
	items   []*db.Proposal
	cursor  int
	width   int
	height  int
	loaded  bool
	err     error
	message string
}

// New creates a reviewer model over store.
func New(ctx context.Context, store Store, opts Options) Model {
	t := theme.Detect()
	if opts.Theme != "" {
		t = theme.ForFlavor(theme.FlavorName(opts.Theme))
	}
	return Model{
		ctx:    ctx,
		store:  store,
		filter: opts.Status,
		styles: styles.FromTheme(t),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.load()
}

func (m Model) load() tea.Cmd {
	ctx, store, filter := m.ctx, m.store, m.filter
	return func() tea.Msg {
		items, err := store.ListProposals(ctx, filter)
		return proposalsMsg{items: items, err: err}
	}
}

func (m Model) setStatus(status db.ProposalStatus) tea.Cmd {
	p := m.Selected()
	if p == nil || p.Status == status {
		return nil
	}
	ctx, store, id := m.ctx, m.store, p.ID
	return func() tea.Msg {
		return statusMsg{id: id, status: status, err: store.SetProposalStatus(ctx, id, status)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case proposalsMsg:
		m.loaded = true
		m.err = msg.err
		m.items = msg.items
		m.clampCursor()
	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.apply(msg.id, msg.status)
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "g", "home":
			m.cursor = 0
		case "G", "end":
			m.cursor = max(len(m.items)-1, 0)
		case "a":
			return m, m.setStatus(db.ProposalAccepted)
		case "r":
			return m, m.setStatus(db.ProposalRejected)
		case "p":
			return m, m.setStatus(db.ProposalPending)
		case "f":
			m.filter = nextFilter(m.filter)
			m.message = ""
			return m, m.load()
		}
	}
	return m, nil
}

// apply records a persisted status. Items that no longer match the filter
// leave the list.
func (m *Model) apply(id string, status db.ProposalStatus) {
	for i, p := range m.items {
		if p.ID != id {
			continue
		}
		m.message = fmt.Sprintf("%s %s", status, p.Rule)
		if m.filter != "" && m.filter != status {
			m.items = append(m.items[:i:i], m.items[i+1:]...)
			m.clampCursor()
			return
		}
		updated := *p
		updated.Status = status
		m.items[i] = &updated
		return
	}
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.items) {
		m.cursor = len(m.items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func nextFilter(f db.ProposalStatus) db.ProposalStatus {
	switch f {
	case db.ProposalPending:
		return db.ProposalAccepted
	case db.ProposalAccepted:
		return db.ProposalRejected
	case db.ProposalRejected:
		return ""
	default:
		return db.ProposalPending
	}
}

// Selected returns the proposal under the cursor, or nil.
func (m Model) Selected() *db.Proposal {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return nil
	}
	return m.items[m.cursor]
}

// Items returns the listed proposals.
func (m Model) Items() []*db.Proposal { return m.items }

// Filter returns the status the list is limited to.
func (m Model) Filter() db.ProposalStatus { return m.filter }

// Err returns the last storage error.
func (m Model) Err() error { return m.err }

// View implements tea.Model.
func (m Model) View() string {
	s := m.styles
	if !m.loaded {
		return "Loading proposals..."
	}

	var b strings.Builder
	filter := "all"
	if m.filter != "" {
		filter = string(m.filter)
	}
	b.WriteString(s.Title.Render("permgate rule proposals"))
	b.WriteString(" ")
	b.WriteString(s.Subtitle.Render(fmt.Sprintf("%d %s", len(m.items), filter)))
	b.WriteString("\n\n")

	if len(m.items) == 0 {
		b.WriteString(s.Dimmed.Render("No proposals. Run `permgate mine run` to mine the decision log."))
		b.WriteString("\n")
	}

	width := m.width
	if width <= 0 {
		width = 80
	}
	for i, p := range m.items {
		line := fmt.Sprintf("%s %s %s",
			s.ListBadge(p.List).Render(p.List),
			s.RenderStatusBadge(string(p.Status)),
			s.Rule.Render(utils.Truncate(utils.SingleLine(p.Rule), max(width-30, 20))),
		)
		stats := s.Dimmed.Render(fmt.Sprintf(" x%d conf %.2f", p.Count, p.Confidence))
		if i == m.cursor {
			b.WriteString(s.Selected.Render("> ") + line + stats)
		} else {
			b.WriteString("  " + line + stats)
		}
		b.WriteString("\n")
	}

	if p := m.Selected(); p != nil {
		b.WriteString("\n")
		b.WriteString(m.detail(p, width))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(s.BadgeDeny.Render("error") + " " + m.err.Error() + "\n")
	} else if m.message != "" {
		b.WriteString(s.Dimmed.Render(m.message) + "\n")
	}
	b.WriteString(s.Help.Render("↑/↓ move • a accept • r reject • p pending • f filter • q quit"))
	return b.String()
}

func (m Model) detail(p *db.Proposal, width int) string {
	s := m.styles
	var lines []string
	lines = append(lines, s.Bold.Render(utils.SingleLine(p.Rule)))
	lines = append(lines, s.Dimmed.Render(fmt.Sprintf("tool %s • risk %.2f • confidence %.2f • seen %d", p.Tool, p.Risk, p.Confidence, p.Count)))
	for i, ex := range p.Examples {
		if i == 3 {
			lines = append(lines, s.Dimmed.Render(fmt.Sprintf("+%d more", len(p.Examples)-i)))
			break
		}
		lines = append(lines, s.CommandBox.Render(utils.Truncate(utils.SingleLine(ex), max(width-8, 20))))
	}
	return s.Panel.Width(max(width-4, 20)).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Run starts the reviewer on the alternate screen.
func Run(ctx context.Context, store Store, opts Options) error {
	p := tea.NewProgram(New(ctx, store, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
