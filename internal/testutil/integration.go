package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/permgate/internal/db"
)

// Harness is a lightweight integration test environment.
//
// It provisions a temp home and project directory, points HOME at the
// former, and opens `.permgate/permgate.db` in the project.
type Harness struct {
	T           *testing.T
	HomeDir     string
	ProjectDir  string
	PermgateDir string
	DBPath      string
	DB          *db.DB
}

// NewHarness creates the environment. It calls t.Setenv, so tests using it
// cannot run in parallel.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	projectDir := t.TempDir()
	dir := filepath.Join(projectDir, ".permgate")
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("NewHarness: mkdir .permgate: %v", err)
	}

	dbPath := filepath.Join(dir, "permgate.db")
	return &Harness{
		T:           t,
		HomeDir:     home,
		ProjectDir:  projectDir,
		PermgateDir: dir,
		DBPath:      dbPath,
		DB:          NewTestDBAtPath(t, dbPath),
	}
}

// MustPath joins ProjectDir with parts.
func (h *Harness) MustPath(parts ...string) string {
	h.T.Helper()
	if h.ProjectDir == "" {
		h.T.Fatalf("Harness.MustPath: harness not initialized")
	}
	return filepath.Join(append([]string{h.ProjectDir}, parts...)...)
}

// WriteFile writes a file relative to the project directory.
func (h *Harness) WriteFile(rel string, data []byte, perm os.FileMode) string {
	h.T.Helper()
	if strings.TrimSpace(rel) == "" {
		h.T.Fatalf("Harness.WriteFile: rel path is required")
	}
	abs := h.MustPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		h.T.Fatalf("Harness.WriteFile: mkdir: %v", err)
	}
	if err := os.WriteFile(abs, data, perm); err != nil {
		h.T.Fatalf("Harness.WriteFile: write: %v", err)
	}
	return abs
}

// WriteProjectSettings writes .claude/settings.json in the project with the
// given permission lists.
func (h *Harness) WriteProjectSettings(allow, deny []string) string {
	h.T.Helper()
	return h.WriteFile(filepath.Join(".claude", "settings.json"), settingsJSON(h.T, allow, deny), 0644)
}

// WriteUserSettings writes ~/.claude/settings.json in the temp home.
func (h *Harness) WriteUserSettings(allow, deny []string) string {
	h.T.Helper()
	path := filepath.Join(h.HomeDir, ".claude", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		h.T.Fatalf("Harness.WriteUserSettings: mkdir: %v", err)
	}
	if err := os.WriteFile(path, settingsJSON(h.T, allow, deny), 0644); err != nil {
		h.T.Fatalf("Harness.WriteUserSettings: write: %v", err)
	}
	return path
}

func settingsJSON(t *testing.T, allow, deny []string) []byte {
	t.Helper()
	if allow == nil {
		allow = []string{}
	}
	if deny == nil {
		deny = []string{}
	}
	data, err := json.MarshalIndent(map[string]any{
		"permissions": map[string]any{"allow": allow, "deny": deny},
	}, "", "  ")
	if err != nil {
		t.Fatalf("marshal settings: %v", err)
	}
	return data
}

func (h *Harness) String() string {
	if h == nil {
		return "Harness<nil>"
	}
	return fmt.Sprintf("Harness(project=%s, db=%s)", h.ProjectDir, h.DBPath)
}
