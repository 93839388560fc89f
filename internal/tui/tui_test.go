package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/permgate/internal/db"
)

type fakeStore struct {
	items   []*db.Proposal
	setErr  error
	updates map[string]db.ProposalStatus
}

func (f *fakeStore) ListProposals(_ context.Context, status db.ProposalStatus) ([]*db.Proposal, error) {
	var out []*db.Proposal
	for _, p := range f.items {
		if status == "" || p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) SetProposalStatus(_ context.Context, id string, status db.ProposalStatus) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.updates == nil {
		f.updates = map[string]db.ProposalStatus{}
	}
	f.updates[id] = status
	for _, p := range f.items {
		if p.ID == id {
			p.Status = status
		}
	}
	return nil
}

func newStore() *fakeStore {
	return &fakeStore{items: []*db.Proposal{
		{ID: "1", Rule: "git status *", List: "allow", Tool: "Bash", Count: 9, Confidence: 0.9, Status: db.ProposalPending, Examples: []string{"git status -s"}},
		{ID: "2", Rule: "npm test *", List: "allow", Tool: "Bash", Count: 4, Confidence: 0.6, Status: db.ProposalPending},
		{ID: "3", Rule: "Read(.env)", List: "deny", Tool: "Read", Count: 2, Confidence: 0.4, Status: db.ProposalRejected},
	}}
}

// loaded runs Init and feeds its message back, like the program loop would.
func loaded(t *testing.T, store Store, filter db.ProposalStatus) Model {
	t.Helper()
	m := New(context.Background(), store, Options{Status: filter, Theme: "mocha"})
	cmd := m.Init()
	if cmd == nil {
		t.Fatal("Init should return a load command")
	}
	updated, _ := m.Update(cmd())
	return updated.(Model)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and resolves any returned command once.
func press(m Model, s string) Model {
	updated, cmd := m.Update(key(s))
	m = updated.(Model)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			if _, quit := msg.(tea.QuitMsg); !quit {
				updated, _ = m.Update(msg)
				m = updated.(Model)
			}
		}
	}
	return m
}

func TestModelView_Loading(t *testing.T) {
	m := New(context.Background(), newStore(), Options{})
	if got := m.View(); got != "Loading proposals..." {
		t.Errorf("unexpected view before load: %q", got)
	}
}

func TestModelLoad_Filter(t *testing.T) {
	m := loaded(t, newStore(), db.ProposalPending)
	if len(m.Items()) != 2 {
		t.Fatalf("expected 2 pending proposals, got %d", len(m.Items()))
	}
	if m.Selected().ID != "1" {
		t.Errorf("expected first proposal selected, got %s", m.Selected().ID)
	}

	all := loaded(t, newStore(), "")
	if len(all.Items()) != 3 {
		t.Fatalf("expected 3 proposals, got %d", len(all.Items()))
	}
}

func TestModelUpdate_WindowSize(t *testing.T) {
	m := loaded(t, newStore(), "")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	um := updated.(Model)
	if um.width != 100 || um.height != 30 {
		t.Errorf("expected dimensions 100x30, got %dx%d", um.width, um.height)
	}
}

func TestModelUpdate_Navigation(t *testing.T) {
	m := loaded(t, newStore(), "")

	m = press(m, "down")
	if m.cursor != 1 {
		t.Errorf("expected cursor 1, got %d", m.cursor)
	}
	m = press(m, "j")
	m = press(m, "j")
	if m.cursor != 2 {
		t.Errorf("cursor should stop at the last item, got %d", m.cursor)
	}
	m = press(m, "k")
	if m.cursor != 1 {
		t.Errorf("expected cursor 1, got %d", m.cursor)
	}
	m = press(m, "up")
	m = press(m, "up")
	if m.cursor != 0 {
		t.Errorf("cursor should stop at 0, got %d", m.cursor)
	}
	m = press(m, "G")
	if m.cursor != 2 {
		t.Errorf("G should jump to the end, got %d", m.cursor)
	}
	m = press(m, "g")
	if m.cursor != 0 {
		t.Errorf("g should jump to the start, got %d", m.cursor)
	}
}

func TestModelUpdate_AcceptRemovesFromPendingList(t *testing.T) {
	store := newStore()
	m := loaded(t, store, db.ProposalPending)

	m = press(m, "a")
	if store.updates["1"] != db.ProposalAccepted {
		t.Fatalf("expected proposal 1 accepted, updates=%v", store.updates)
	}
	if len(m.Items()) != 1 || m.Items()[0].ID != "2" {
		t.Fatalf("accepted proposal should leave the pending list, got %v", m.Items())
	}
	if m.Selected().ID != "2" {
		t.Errorf("expected selection to move to proposal 2")
	}
	if !strings.Contains(m.View(), "accepted git status *") {
		t.Errorf("expected confirmation message in view:\n%s", m.View())
	}
}

func TestModelUpdate_RejectKeepsItemUnderAllFilter(t *testing.T) {
	store := newStore()
	m := loaded(t, store, "")

	m = press(m, "down")
	m = press(m, "r")
	if store.updates["2"] != db.ProposalRejected {
		t.Fatalf("expected proposal 2 rejected, updates=%v", store.updates)
	}
	if len(m.Items()) != 3 {
		t.Fatalf("all filter should keep every item, got %d", len(m.Items()))
	}
	if m.Selected().Status != db.ProposalRejected {
		t.Errorf("expected selected status rejected, got %s", m.Selected().Status)
	}
}

func TestModelUpdate_SameStatusIsNoop(t *testing.T) {
	store := newStore()
	m := loaded(t, store, "")

	_, cmd := m.Update(key("p"))
	if cmd != nil {
		t.Error("setting the current status should not issue a command")
	}
	if len(store.updates) != 0 {
		t.Errorf("unexpected updates: %v", store.updates)
	}
}

func TestModelUpdate_StoreError(t *testing.T) {
	store := newStore()
	store.setErr = errors.New("database is locked")
	m := loaded(t, store, db.ProposalPending)

	m = press(m, "a")
	if m.Err() == nil {
		t.Fatal("expected storage error to be kept")
	}
	if len(m.Items()) != 2 {
		t.Errorf("failed update should not change the list, got %d", len(m.Items()))
	}
	if !strings.Contains(m.View(), "database is locked") {
		t.Errorf("expected error in view:\n%s", m.View())
	}
}

func TestModelUpdate_FilterCycles(t *testing.T) {
	m := loaded(t, newStore(), db.ProposalPending)

	want := []db.ProposalStatus{db.ProposalAccepted, db.ProposalRejected, "", db.ProposalPending}
	for _, w := range want {
		m = press(m, "f")
		if m.Filter() != w {
			t.Fatalf("expected filter %q, got %q", w, m.Filter())
		}
	}

	m = press(m, "f")
	m = press(m, "f")
	if len(m.Items()) != 1 || m.Items()[0].ID != "3" {
		t.Fatalf("rejected filter should list proposal 3, got %v", m.Items())
	}
}

func TestModelUpdate_Quit(t *testing.T) {
	m := loaded(t, newStore(), "")
	for _, k := range []string{"q", "esc", "ctrl+c"} {
		var msg tea.KeyMsg
		switch k {
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "ctrl+c":
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		default:
			msg = key(k)
		}
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Fatalf("%s should return a command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s should quit", k)
		}
	}
}

func TestModelView_Content(t *testing.T) {
	m := loaded(t, newStore(), "")
	view := m.View()
	for _, want := range []string{"permgate rule proposals", "git status *", "npm test *", "Read(.env)", "git status -s", "a accept"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	empty := loaded(t, &fakeStore{}, "")
	if !strings.Contains(empty.View(), "No proposals") {
		t.Errorf("expected empty-state hint:\n%s", empty.View())
	}
}
