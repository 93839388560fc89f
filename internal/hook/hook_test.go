package hook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/core"
	"github.com/Dicklesworthstone/permgate/internal/db"
	"github.com/Dicklesworthstone/permgate/internal/hook"
	"github.com/Dicklesworthstone/permgate/internal/testutil"
)

func event(t *testing.T, toolName string, input any, cwd string) string {
	t.Helper()
	raw, err := json.Marshal(input)
	testutil.RequireNoError(t, err, "marshal tool input")
	data, err := json.Marshal(map[string]any{
		"session_id":      "sess-1",
		"cwd":             cwd,
		"hook_event_name": "PreToolUse",
		"tool_name":       toolName,
		"tool_input":      json.RawMessage(raw),
	})
	testutil.RequireNoError(t, err, "marshal event")
	return string(data)
}

func newHandler(t *testing.T, h *testutil.Harness, opts ...hook.Option) *hook.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.General.Root = h.ProjectDir
	opts = append([]hook.Option{
		hook.WithSink(hook.DBSink{DB: h.DB}),
		hook.WithLogger(testutil.TestLogger(t)),
	}, opts...)
	return hook.NewHandler(cfg, opts...)
}

func run(t *testing.T, handler *hook.Handler, in string) (hook.Decision, *hook.Output) {
	t.Helper()
	var out bytes.Buffer
	d, err := handler.Run(context.Background(), strings.NewReader(in), &out)
	testutil.RequireNoError(t, err, "hook run")
	if out.Len() == 0 {
		return d, nil
	}
	var o hook.Output
	testutil.RequireNoError(t, json.Unmarshal(out.Bytes(), &o), "decode hook output")
	return d, &o
}

func TestRun_Decisions(t *testing.T) {
	h := testutil.NewHarness(t)
	h.WriteProjectSettings(
		[]string{"Bash(git:*)", "Bash(ls:*)", "Edit(src/**)", "mcp__github__list_issues"},
		[]string{"Read(.env)"},
	)
	handler := newHandler(t, h)

	tests := []struct {
		name     string
		tool     string
		input    any
		want     core.Verdict
		printed  bool
		contains string
	}{
		{"allowed command", "Bash", map[string]any{"command": "git status"}, core.VerdictAllow, true, "Bash(git:*)"},
		{"dangerous command", "Bash", map[string]any{"command": "ls && rm -rf /"}, core.VerdictDeny, true, "rm -rf /"},
		{"unmatched command passes", "Bash", map[string]any{"command": "make build"}, core.VerdictPass, false, ""},
		{"allowed edit", "Edit", map[string]any{"file_path": h.MustPath("src", "a.ts"), "old_string": "a", "new_string": "b"}, core.VerdictAllow, true, "Edit(src/**)"},
		{"denied read", "Read", map[string]any{"file_path": h.MustPath(".env")}, core.VerdictDeny, true, "Read(.env)"},
		{"tool rule", "mcp__github__list_issues", map[string]any{"repo": "x"}, core.VerdictAllow, true, ""},
		{"edit without path", "Edit", map[string]any{"old_string": "a"}, core.VerdictAsk, true, "no path"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, out := run(t, handler, event(t, tc.tool, tc.input, h.ProjectDir))
			testutil.RequireEqual(t, tc.want, d.Verdict, "verdict ("+d.Reason+")")
			if !tc.printed {
				if out != nil {
					t.Fatalf("pass printed %+v", out)
				}
				return
			}
			if out == nil {
				t.Fatal("no output")
			}
			testutil.RequireEqual(t, "PreToolUse", out.HookSpecificOutput.HookEventName, "event name")
			testutil.RequireEqual(t, string(tc.want), out.HookSpecificOutput.PermissionDecision, "printed decision")
			if !strings.Contains(out.HookSpecificOutput.PermissionDecisionReason, tc.contains) {
				t.Errorf("reason %q does not contain %q", out.HookSpecificOutput.PermissionDecisionReason, tc.contains)
			}
		})
	}
}

func TestRun_Audits(t *testing.T) {
	h := testutil.NewHarness(t)
	h.WriteProjectSettings([]string{"Bash(ls:*)"}, nil)
	handler := newHandler(t, h)

	run(t, handler, event(t, "Bash", map[string]any{"command": "ls -la"}, h.ProjectDir))
	run(t, handler, event(t, "Bash", map[string]any{"command": "npm test"}, h.ProjectDir))

	records, err := h.DB.ListDecisions(context.Background(), db.DecisionFilter{})
	testutil.RequireNoError(t, err, "list decisions")
	testutil.RequireLen(t, records, 2, "audited decisions")
	testutil.RequireEqual(t, "allow", records[0].Decision, "first decision")
	testutil.RequireEqual(t, "Bash(ls:*)", records[0].Rule, "first rule")
	testutil.RequireEqual(t, "pass", records[1].Decision, "second decision")
	testutil.RequireEqual(t, "npm test", records[1].Subject, "second subject")
	testutil.RequireEqual(t, "sess-1", records[1].SessionID, "session id")
}

func TestRun_InvalidInputAsks(t *testing.T) {
	h := testutil.NewHarness(t)
	d, out := run(t, newHandler(t, h), "{not json")
	testutil.RequireEqual(t, core.VerdictAsk, d.Verdict, "verdict")
	if out == nil || out.HookSpecificOutput.PermissionDecision != "ask" {
		t.Fatalf("output = %+v", out)
	}
}

func TestRun_NoRulesAsks(t *testing.T) {
	h := testutil.NewHarness(t)
	d, _ := run(t, newHandler(t, h), event(t, "Bash", map[string]any{"command": "echo hi"}, h.ProjectDir))
	testutil.RequireEqual(t, core.VerdictAsk, d.Verdict, "verdict")
}

func TestRun_UnavailableRulesDegrade(t *testing.T) {
	h := testutil.NewHarness(t)
	src := hook.RuleSourceFunc(func(context.Context, string) (config.RuleSnapshot, error) {
		return config.RuleSnapshot{Allow: []string{"Bash(echo:*)"}},
			fmt.Errorf("%w: user settings", config.ErrUnavailable)
	})
	d, _ := run(t, newHandler(t, h, hook.WithRules(src)), event(t, "Bash", map[string]any{"command": "echo hi"}, h.ProjectDir))
	testutil.RequireEqual(t, core.VerdictAllow, d.Verdict, "verdict")
}

type failingSink struct{ calls int }

func (s *failingSink) Record(context.Context, db.Decision) error {
	s.calls++
	return errors.New("disk full")
}

func TestRun_SinkFailureIsNotFatal(t *testing.T) {
	h := testutil.NewHarness(t)
	h.WriteProjectSettings([]string{"Bash(ls:*)"}, nil)
	sink := &failingSink{}
	d, out := run(t, newHandler(t, h, hook.WithSink(sink)), event(t, "Bash", map[string]any{"command": "ls"}, h.ProjectDir))
	testutil.RequireEqual(t, core.VerdictAllow, d.Verdict, "verdict")
	testutil.RequireEqual(t, 1, sink.calls, "sink calls")
	if out == nil {
		t.Fatal("decision not printed")
	}
}

func TestInstall(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".claude", "settings.json")
	existing := `{
  "permissions": {"allow": ["Bash(ls:*)"]},
  "hooks": {"PreToolUse": [{"matcher": "Bash", "hooks": [{"type": "command", "command": "other-guard"}]}]}
}`
	testutil.RequireNoError(t, os.MkdirAll(filepath.Dir(path), 0755), "mkdir")
	testutil.RequireNoError(t, os.WriteFile(path, []byte(existing), 0644), "write settings")

	res, err := hook.Install(path, "", false)
	testutil.RequireNoError(t, err, "install")
	testutil.RequireEqual(t, false, res.AlreadyExisted, "already existed")
	testutil.RequireEqual(t, hook.DefaultCommand, res.Command, "command")

	res, err = hook.Install(path, "", false)
	testutil.RequireNoError(t, err, "second install")
	testutil.RequireEqual(t, true, res.AlreadyExisted, "already existed")

	var settings struct {
		Permissions struct {
			Allow []string `json:"allow"`
		} `json:"permissions"`
		Hooks struct {
			PreToolUse []json.RawMessage `json:"PreToolUse"`
		} `json:"hooks"`
	}
	data, err := os.ReadFile(path)
	testutil.RequireNoError(t, err, "read settings")
	testutil.RequireNoError(t, json.Unmarshal(data, &settings), "parse settings")
	testutil.RequireLen(t, settings.Hooks.PreToolUse, 2, "PreToolUse entries")
	testutil.RequireLen(t, settings.Permissions.Allow, 1, "permissions preserved")

	st, err := hook.GetStatus(path)
	testutil.RequireNoError(t, err, "status")
	testutil.RequireEqual(t, true, st.Installed, "installed")
	testutil.RequireEqual(t, hook.Matcher, st.Matcher, "matcher")

	res, err = hook.Install(path, "/usr/local/bin/permgate hook run --verbose", true)
	testutil.RequireNoError(t, err, "forced install")
	testutil.RequireEqual(t, true, res.Replaced, "replaced")
	st, _ = hook.GetStatus(path)
	testutil.RequireEqual(t, "/usr/local/bin/permgate hook run --verbose", st.Command, "replaced command")

	removed, err := hook.Uninstall(path)
	testutil.RequireNoError(t, err, "uninstall")
	testutil.RequireEqual(t, true, removed, "removed")
	st, _ = hook.GetStatus(path)
	testutil.RequireEqual(t, false, st.Installed, "installed after uninstall")

	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "other-guard") {
		t.Error("uninstall dropped a foreign hook")
	}
}

func TestUninstall_MissingFile(t *testing.T) {
	removed, err := hook.Uninstall(filepath.Join(t.TempDir(), "settings.json"))
	testutil.RequireNoError(t, err, "uninstall")
	testutil.RequireEqual(t, false, removed, "removed")
}

func TestSettingsPath(t *testing.T) {
	t.Setenv("HOME", "/home/agent")
	p, err := hook.SettingsPath("/work/proj", false)
	testutil.RequireNoError(t, err, "project path")
	testutil.RequireEqual(t, filepath.Join("/work/proj", ".claude", "settings.json"), p, "project path")
	p, err = hook.SettingsPath("", true)
	testutil.RequireNoError(t, err, "global path")
	testutil.RequireEqual(t, filepath.Join("/home/agent", ".claude", "settings.json"), p, "global path")
	if _, err := hook.SettingsPath("", false); err == nil {
		t.Error("expected error without project dir")
	}
}
