package cli

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/daemon"
	"github.com/Dicklesworthstone/permgate/internal/testutil"
)

func TestServeStatus_NotRunning(t *testing.T) {
	h := testutil.NewHarness(t)
	sock := filepath.Join(h.HomeDir, "missing.sock")

	stdout, _, err := executeCommand(t, "serve", "status", "-j", "-C", h.ProjectDir, "--socket", sock)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}
	var got map[string]any
	decodeJSON(t, stdout, &got)
	testutil.RequireEqual[any](t, false, got["running"], "running")
	testutil.RequireEqual[any](t, sock, got["socket"], "socket")
}

func TestServeStatus_Running(t *testing.T) {
	h := testutil.NewHarness(t)
	sock := filepath.Join(h.HomeDir, "d.sock")

	d, err := daemon.New(daemon.Options{
		SocketPath: sock,
		Root:       h.ProjectDir,
		Loader:     daemon.StaticLoader(config.RuleSnapshot{Allow: []string{"Bash(ls:*)"}, Sources: []string{"test"}}),
		Logger:     testutil.TestLogger(t),
	})
	testutil.RequireNoError(t, err, "daemon.New")

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, func(*daemon.IPCServer) { close(ready) }) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("Run exited: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	stdout, _, err := executeCommand(t, "serve", "status", "-j", "-C", h.ProjectDir, "--socket", sock)
	testutil.RequireNoError(t, err, "serve status")
	var got struct {
		Running    bool   `json:"running"`
		Root       string `json:"root"`
		AllowRules int    `json:"allow_rules"`
	}
	decodeJSON(t, stdout, &got)
	if !got.Running || got.Root != h.ProjectDir || got.AllowRules != 1 {
		t.Errorf("status = %+v", got)
	}

	stdout, _, err = executeCommand(t, "serve", "reload", "-C", h.ProjectDir, "--socket", sock)
	testutil.RequireNoError(t, err, "serve reload")
	if !strings.Contains(stdout, "daemon running") {
		t.Errorf("unexpected reload output:\n%s", stdout)
	}
}

func TestWatchPaths(t *testing.T) {
	h := testutil.NewHarness(t)
	cfg := config.DefaultConfig()

	paths := watchPaths(cfg, h.ProjectDir, h.ProjectDir)
	want := filepath.Join(h.ProjectDir, ".permgate", "config.toml")
	found := false
	for _, p := range paths {
		found = found || p == want
	}
	if !found {
		t.Errorf("watch paths %v missing project config", paths)
	}

	cfg.Rules.IncludeAgentSettings = false
	if got := watchPaths(cfg, h.ProjectDir, h.ProjectDir); len(got) != 2 {
		t.Errorf("without agent settings expected only config files, got %v", got)
	}
}
