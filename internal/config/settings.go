package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrUnavailable marks a rule source that exists but could not be read in
// time. Callers treat the source as contributing no rules.
var ErrUnavailable = errors.New("rule source unavailable")

// RuleSnapshot is one immutable view of the configured rules.
type RuleSnapshot struct {
	Allow   []string `json:"allow" yaml:"allow"`
	Deny    []string `json:"deny" yaml:"deny"`
	Sources []string `json:"sources" yaml:"sources"`
}

// Empty reports whether no rule is configured.
func (s RuleSnapshot) Empty() bool {
	return len(s.Allow) == 0 && len(s.Deny) == 0
}

type agentSettings struct {
	Permissions struct {
		Allow []string `json:"allow"`
		Deny  []string `json:"deny"`
	} `json:"permissions"`
}

// AgentSettingsPaths returns the agent settings files in load order: user,
// project, project local.
func AgentSettingsPaths(projectDir string) []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".claude", "settings.json"))
	}
	if projectDir != "" {
		paths = append(paths,
			filepath.Join(projectDir, ".claude", "settings.json"),
			filepath.Join(projectDir, ".claude", "settings.local.json"),
		)
	}
	return paths
}

// LoadRules gathers allow and deny rules from the agent settings files (when
// enabled) followed by the [rules] section of cfg. Reading is bounded by
// general.settings_timeout_ms. Sources that fail are skipped and reported in
// an error wrapping ErrUnavailable; the returned snapshot is still usable.
func LoadRules(ctx context.Context, cfg Config, projectDir string) (RuleSnapshot, error) {
	snap := RuleSnapshot{Allow: []string{}, Deny: []string{}}
	var errs []error

	if cfg.Rules.IncludeAgentSettings {
		timeout := time.Duration(cfg.General.SettingsTimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 500 * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		for _, path := range AgentSettingsPaths(projectDir) {
			s, found, err := readSettings(ctx, path)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err))
				continue
			}
			if !found {
				continue
			}
			snap.Allow = append(snap.Allow, s.Permissions.Allow...)
			snap.Deny = append(snap.Deny, s.Permissions.Deny...)
			snap.Sources = append(snap.Sources, path)
		}
	}

	if len(cfg.Rules.Allow) > 0 || len(cfg.Rules.Deny) > 0 {
		snap.Allow = append(snap.Allow, cfg.Rules.Allow...)
		snap.Deny = append(snap.Deny, cfg.Rules.Deny...)
		snap.Sources = append(snap.Sources, "config")
	}
	return snap, errors.Join(errs...)
}

type settingsResult struct {
	s     agentSettings
	found bool
	err   error
}

func readSettings(ctx context.Context, path string) (agentSettings, bool, error) {
	ch := make(chan settingsResult, 1)
	go func() {
		var r settingsResult
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			r.err = err
		default:
			r.found = true
			if err := json.Unmarshal(data, &r.s); err != nil {
				r.err = fmt.Errorf("parse: %w", err)
			}
		}
		ch <- r
	}()
	select {
	case r := <-ch:
		return r.s, r.found, r.err
	case <-ctx.Done():
		return agentSettings{}, false, ctx.Err()
	}
}
