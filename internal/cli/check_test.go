package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/permgate/internal/testutil"
)

type checkJSON struct {
	Tool     string   `json:"tool"`
	Subject  string   `json:"subject"`
	Root     string   `json:"root"`
	Sources  []string `json:"sources"`
	Decision string   `json:"decision"`
	Reason   string   `json:"reason"`
	Commands []struct {
		Verdict string `json:"verdict"`
		Rule    string `json:"rule"`
	} `json:"commands"`
}

func runCheckJSON(t *testing.T, args ...string) checkJSON {
	t.Helper()
	stdout, stderr, err := executeCommand(t, append(args, "-j")...)
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, stderr)
	}
	var got checkJSON
	decodeJSON(t, stdout, &got)
	return got
}

func TestCheck_ProjectSettings(t *testing.T) {
	h := testutil.NewHarness(t)
	h.WriteProjectSettings([]string{"Bash(git status)", "Bash(go test:*)"}, []string{"Bash(git push:*)"})

	tests := []struct {
		line string
		want string
	}{
		{"git status", "allow"},
		{"git status && go test ./...", "allow"},
		{"git status && git push origin main", "deny"},
		{"make build", "pass"},
	}
	for _, tc := range tests {
		got := runCheckJSON(t, "check", "-C", h.ProjectDir, "--root", h.ProjectDir, "--db", h.DBPath, tc.line)
		if got.Decision != tc.want {
			t.Errorf("check %q = %s (%s), want %s", tc.line, got.Decision, got.Reason, tc.want)
		}
		if got.Tool != "Bash" || got.Subject != tc.line {
			t.Errorf("report tool/subject = %q/%q", got.Tool, got.Subject)
		}
	}
}

func TestCheck_FlagRulesReplaceConfigured(t *testing.T) {
	h := testutil.NewHarness(t)
	h.WriteProjectSettings([]string{"Bash(ls:*)"}, nil)

	got := runCheckJSON(t, "check", "-C", h.ProjectDir, "--root", h.ProjectDir,
		"--allow", "Bash(npm test:*)", "npm test -- --watch")
	testutil.RequireEqual(t, "allow", got.Decision, "decision")
	testutil.RequireEqual(t, "flags", strings.Join(got.Sources, ","), "sources")

	got = runCheckJSON(t, "check", "-C", h.ProjectDir, "--root", h.ProjectDir,
		"--allow", "Bash(npm test:*)", "ls -la")
	testutil.RequireEqual(t, "pass", got.Decision, "configured ls rule ignored")
}

func TestCheck_DangerousCommandDenied(t *testing.T) {
	h := testutil.NewHarness(t)
	got := runCheckJSON(t, "check", "-C", h.ProjectDir, "--root", h.ProjectDir,
		"--allow", "Bash(rm:*)", "rm -rf /")
	testutil.RequireEqual(t, "deny", got.Decision, "decision")
}

func TestCheck_NoRulesAsks(t *testing.T) {
	h := testutil.NewHarness(t)
	got := runCheckJSON(t, "check", "-C", h.ProjectDir, "--root", h.ProjectDir, "echo hi")
	testutil.RequireEqual(t, "ask", got.Decision, "decision")
}

func TestCheck_ExitCode(t *testing.T) {
	h := testutil.NewHarness(t)
	tests := []struct {
		line string
		code int
	}{
		{"git status", ExitAllow},
		{"git push", ExitDeny},
		{"echo $(cat x", ExitAsk},
		{"make", ExitPass},
	}
	for _, tc := range tests {
		_, _, err := executeCommand(t, "check", "-C", h.ProjectDir, "--root", h.ProjectDir,
			"--allow", "Bash(git status)", "--deny", "Bash(git push:*)", "--exit-code", tc.line)
		code := 0
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		} else if err != nil {
			t.Fatalf("check %q: unexpected error %v", tc.line, err)
		}
		if code != tc.code {
			t.Errorf("check %q exit code = %d, want %d", tc.line, code, tc.code)
		}
	}
}

func TestCheck_TextOutput(t *testing.T) {
	h := testutil.NewHarness(t)
	stdout, _, err := executeCommand(t, "check", "-C", h.ProjectDir, "--root", h.ProjectDir,
		"--allow", "Bash(git status)", "git status")
	testutil.RequireNoError(t, err, "check")
	if !strings.Contains(stdout, "allow") || !strings.Contains(stdout, "Bash(git status)") {
		t.Errorf("unexpected text output:\n%s", stdout)
	}
}

func TestCheckPath(t *testing.T) {
	h := testutil.NewHarness(t)
	h.WriteProjectSettings([]string{"Edit(src/**)"}, []string{"Read(.env)"})

	tests := []struct {
		tool, path, want string
	}{
		{"Edit", "src/app/main.go", "allow"},
		{"Write", "src/new.go", "allow"},
		{"Read", ".env", "deny"},
		{"Edit", "docs/guide.md", "pass"},
	}
	for _, tc := range tests {
		got := runCheckJSON(t, "check-path", "-C", h.ProjectDir, "--root", h.ProjectDir, tc.tool, tc.path)
		if got.Decision != tc.want {
			t.Errorf("check-path %s %s = %s (%s), want %s", tc.tool, tc.path, got.Decision, got.Reason, tc.want)
		}
	}
}

func TestCheckPath_EmptyTool(t *testing.T) {
	h := testutil.NewHarness(t)
	_, _, err := executeCommand(t, "check-path", "-C", h.ProjectDir, " ", "a.txt")
	if err == nil {
		t.Fatal("expected an error for an empty tool name")
	}
}

func TestDecompose_JSON(t *testing.T) {
	stdout, _, err := executeCommand(t, "decompose", "-j", "FOO=1 sudo make && echo $(date) > out.log")
	testutil.RequireNoError(t, err, "decompose")

	var got decomposeView
	decodeJSON(t, stdout, &got)
	testutil.RequireEqual(t, "precise", got.Tier, "tier")
	names := make([]string, 0, len(got.Commands))
	for _, c := range got.Commands {
		names = append(names, c.Name)
		testutil.RequireEqual(t, c.Name == "make", c.Sudo, "sudo flag on "+c.Name)
	}
	for _, want := range []string{"make", "echo", "date"} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Errorf("decomposition %v missing %q", names, want)
		}
	}
}

func TestDecompose_Text(t *testing.T) {
	stdout, _, err := executeCommand(t, "decompose", "ls | wc -l")
	testutil.RequireNoError(t, err, "decompose")
	if !strings.Contains(stdout, "2 commands") {
		t.Errorf("expected two commands, got:\n%s", stdout)
	}
}
