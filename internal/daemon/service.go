package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/core"
)

// Loader produces a fresh rule snapshot. A non-nil error together with a
// usable snapshot (errors wrapping config.ErrUnavailable) is a partial load.
type Loader func(ctx context.Context) (config.RuleSnapshot, error)

// Snapshot is one immutable generation of rules. Requests keep the snapshot
// they started with across reloads.
type Snapshot struct {
	Rules    config.RuleSnapshot `json:"rules"`
	Root     string              `json:"root"`
	Version  uint64              `json:"version"`
	LoadedAt time.Time           `json:"loaded_at"`

	engine *core.Engine
}

// Service authorizes requests against the current snapshot.
type Service struct {
	root    string
	load    Loader
	logger  *log.Logger
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewService creates a service rooted at root. Call Reload before serving.
func NewService(root string, load Loader, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default().WithPrefix("daemon")
	}
	s := &Service{root: root, load: load, logger: logger}
	s.current.Store(&Snapshot{
		Rules:  config.RuleSnapshot{Allow: []string{}, Deny: []string{}},
		Root:   root,
		engine: core.NewEngine(core.WithRoot(root)),
	})
	return s
}

// StaticLoader always returns snap.
func StaticLoader(snap config.RuleSnapshot) Loader {
	return func(context.Context) (config.RuleSnapshot, error) { return snap, nil }
}

// ConfigLoader loads rules for root from cfg.
func ConfigLoader(cfg config.Config, root string) Loader {
	return func(ctx context.Context) (config.RuleSnapshot, error) {
		return config.LoadRules(ctx, cfg, root)
	}
}

// ReloadingLoader reads the config again on every load, so edits to the
// [rules] section take effect without a restart. A config that fails to load
// keeps the previous snapshot.
func ReloadingLoader(loadConfig func() (config.Config, error), root string) Loader {
	return func(ctx context.Context) (config.RuleSnapshot, error) {
		cfg, err := loadConfig()
		if err != nil {
			return config.RuleSnapshot{}, fmt.Errorf("load config: %w", err)
		}
		return config.LoadRules(ctx, cfg, root)
	}
}

// Snapshot returns the current snapshot.
func (s *Service) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload replaces the snapshot. Unavailable sources are logged and the new
// snapshot is installed without them; any other load error keeps the old
// snapshot.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	if s.load == nil {
		return s.Snapshot(), nil
	}
	rules, err := s.load(ctx)
	if err != nil {
		if !errors.Is(err, config.ErrUnavailable) {
			return s.Snapshot(), fmt.Errorf("reload rules: %w", err)
		}
		s.logger.Warn("rule sources unavailable", "error", err)
	}
	next := &Snapshot{
		Rules:    rules,
		Root:     s.root,
		Version:  s.version.Add(1),
		LoadedAt: time.Now().UTC(),
		engine:   core.NewEngine(core.WithRoot(s.root)),
	}
	s.current.Store(next)
	s.logger.Info("rules loaded", "version", next.Version, "allow", len(rules.Allow), "deny", len(rules.Deny))
	return next, nil
}

// Authorize decides commandLine under the current snapshot.
func (s *Service) Authorize(commandLine string) (core.Result, uint64) {
	snap := s.Snapshot()
	return snap.engine.Authorize(commandLine, snap.Rules.Allow, snap.Rules.Deny), snap.Version
}

// AuthorizePath decides a file operation under the current snapshot.
func (s *Service) AuthorizePath(tool, path string) (core.Result, uint64) {
	snap := s.Snapshot()
	return snap.engine.AuthorizePath(tool, path, snap.Rules.Allow, snap.Rules.Deny), snap.Version
}
