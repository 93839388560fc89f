package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dicklesworthstone/permgate/internal/config"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Loader: StaticLoader(config.RuleSnapshot{})}); err == nil {
		t.Error("expected error without socket path")
	}
	if _, err := New(Options{SocketPath: "/tmp/x.sock"}); err == nil {
		t.Error("expected error without loader")
	}
}

func TestService_ReloadSwapsSnapshot(t *testing.T) {
	var n atomic.Int32
	load := func(context.Context) (config.RuleSnapshot, error) {
		if n.Add(1) == 1 {
			return config.RuleSnapshot{Allow: []string{"Bash(ls:*)"}}, nil
		}
		return config.RuleSnapshot{Deny: []string{"Bash(ls:*)"}}, nil
	}
	svc := NewService(t.TempDir(), load, newTestLogger())

	res, version := svc.Authorize("ls")
	if res.Decision != "ask" || version != 0 {
		t.Fatalf("before load: %s v%d, want ask v0", res.Decision, version)
	}

	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	old := svc.Snapshot()
	if res, _ := svc.Authorize("ls"); res.Decision != "allow" {
		t.Fatalf("after first load: %s", res.Decision)
	}

	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if res, v := svc.Authorize("ls"); res.Decision != "deny" || v != 2 {
		t.Fatalf("after second load: %s v%d", res.Decision, v)
	}
	// A request holding the old snapshot keeps its rules.
	if len(old.Rules.Allow) != 1 || old.Version != 1 {
		t.Errorf("old snapshot mutated: %+v", old)
	}
}

func TestService_ReloadErrors(t *testing.T) {
	fail := true
	load := func(context.Context) (config.RuleSnapshot, error) {
		if fail {
			return config.RuleSnapshot{}, errors.New("boom")
		}
		return config.RuleSnapshot{Allow: []string{"Bash(echo:*)"}},
			fmt.Errorf("%w: user settings", config.ErrUnavailable)
	}
	svc := NewService(t.TempDir(), load, newTestLogger())

	if _, err := svc.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if svc.Snapshot().Version != 0 {
		t.Error("failed reload replaced the snapshot")
	}

	fail = false
	snap, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("partial load should succeed: %v", err)
	}
	if snap.Version != 1 || len(snap.Rules.Allow) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestReloadingLoader(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.DefaultConfig()
	cfg.Rules.IncludeAgentSettings = false
	cfg.Rules.Deny = []string{"Bash(rm:*)"}
	var loadErr error
	load := ReloadingLoader(func() (config.Config, error) { return cfg, loadErr }, t.TempDir())
	svc := NewService(t.TempDir(), load, newTestLogger())

	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	cfg.Rules.Deny = []string{"Bash(rm:*)", "Bash(curl:*)"}
	snap, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(snap.Rules.Deny) != 2 {
		t.Errorf("config edit not picked up: %+v", snap.Rules)
	}

	loadErr = errors.New("parse config")
	if _, err := svc.Reload(context.Background()); err == nil {
		t.Fatal("expected error from a broken config")
	}
	if svc.Snapshot().Version != 2 {
		t.Errorf("broken config replaced the snapshot: v%d", svc.Snapshot().Version)
	}
}

func writeSettings(t *testing.T, path string, allow []string) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"permissions": map[string]any{"allow": allow}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
}

func TestDaemon_RunReloadsOnChange(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	claudeDir := filepath.Join(root, ".claude")
	if err := os.MkdirAll(claudeDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	settings := filepath.Join(claudeDir, "settings.json")
	writeSettings(t, settings, []string{"Bash(ls:*)"})

	cfg := config.DefaultConfig()
	d, err := New(Options{
		SocketPath: filepath.Join(t.TempDir(), "d.sock"),
		Root:       root,
		Loader:     ConfigLoader(cfg, root),
		WatchPaths: config.AgentSettingsPaths(root),
		Logger:     newTestLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan *IPCServer, 1)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, func(s *IPCServer) { ready <- s }) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	var srv *IPCServer
	select {
	case srv = <-ready:
	case err := <-done:
		t.Fatalf("Run exited: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	client := NewClient(srv.SocketPath())
	defer client.Close()
	res, err := client.Authorize(ctx, "ls -la")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Decision != "allow" {
		t.Fatalf("decision = %s (%s)", res.Decision, res.Reason)
	}

	writeSettings(t, settings, []string{"Bash(cat:*)"})

	deadline := time.Now().Add(3 * time.Second)
	for {
		res, err = client.Authorize(ctx, "ls -la")
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if res.Decision == "pass" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rules not reloaded; decision still %s (v%d)", res.Decision, res.Version)
		}
		time.Sleep(25 * time.Millisecond)
	}
	if res.Version < 2 {
		t.Errorf("version = %d, want >= 2", res.Version)
	}
}
