// Package config loads permgate configuration.
//
// Precedence, lowest to highest: built-in defaults, user config
// (~/.permgate/config.toml), project config (.permgate/config.toml), PERMGATE_*
// environment variables, flag overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full permgate configuration.
type Config struct {
	General GeneralConfig `toml:"general" mapstructure:"general" json:"general" yaml:"general"`
	Rules   RulesConfig   `toml:"rules" mapstructure:"rules" json:"rules" yaml:"rules"`
	Audit   AuditConfig   `toml:"audit" mapstructure:"audit" json:"audit" yaml:"audit"`
	Daemon  DaemonConfig  `toml:"daemon" mapstructure:"daemon" json:"daemon" yaml:"daemon"`
	Miner   MinerConfig   `toml:"miner" mapstructure:"miner" json:"miner" yaml:"miner"`
	Logging LoggingConfig `toml:"logging" mapstructure:"logging" json:"logging" yaml:"logging"`
}

// GeneralConfig holds engine-wide settings.
type GeneralConfig struct {
	// Root is the path-rule root. Empty means the git repository root, or
	// the working directory outside a repository.
	Root              string `toml:"root" mapstructure:"root" json:"root" yaml:"root"`
	SettingsTimeoutMs int    `toml:"settings_timeout_ms" mapstructure:"settings_timeout_ms" json:"settings_timeout_ms" yaml:"settings_timeout_ms"`
	GitTimeoutMs      int    `toml:"git_timeout_ms" mapstructure:"git_timeout_ms" json:"git_timeout_ms" yaml:"git_timeout_ms"`
}

// RulesConfig holds rules defined in permgate's own config.
type RulesConfig struct {
	Allow []string `toml:"allow" mapstructure:"allow" json:"allow" yaml:"allow"`
	Deny  []string `toml:"deny" mapstructure:"deny" json:"deny" yaml:"deny"`
	// IncludeAgentSettings adds the permissions of the agent's
	// settings.json files.
	IncludeAgentSettings bool `toml:"include_agent_settings" mapstructure:"include_agent_settings" json:"include_agent_settings" yaml:"include_agent_settings"`
}

// AuditConfig controls the decision log.
type AuditConfig struct {
	DatabasePath string `toml:"database_path" mapstructure:"database_path" json:"database_path" yaml:"database_path"`
	Enabled      bool   `toml:"enabled" mapstructure:"enabled" json:"enabled" yaml:"enabled"`
}

// DaemonConfig controls permgate serve.
type DaemonConfig struct {
	SocketPath string `toml:"socket_path" mapstructure:"socket_path" json:"socket_path" yaml:"socket_path"`
	Watch      bool   `toml:"watch" mapstructure:"watch" json:"watch" yaml:"watch"`
}

// MinerConfig sets the thresholds for proposed rules.
type MinerConfig struct {
	MinCount      int     `toml:"min_count" mapstructure:"min_count" json:"min_count" yaml:"min_count"`
	MinConfidence float64 `toml:"min_confidence" mapstructure:"min_confidence" json:"min_confidence" yaml:"min_confidence"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `toml:"level" mapstructure:"level" json:"level" yaml:"level"`
}

// LoadOptions controls Load.
type LoadOptions struct {
	// ProjectDir holds .permgate/config.toml. Empty means the working
	// directory.
	ProjectDir string
	// ConfigPath replaces the project config path.
	ConfigPath string
	// FlagOverrides are applied last, keyed like "general.root".
	FlagOverrides map[string]any
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			SettingsTimeoutMs: 500,
			GitTimeoutMs:      2000,
		},
		Rules: RulesConfig{
			Allow:                []string{},
			Deny:                 []string{},
			IncludeAgentSettings: true,
		},
		Audit: AuditConfig{
			DatabasePath: "~/.permgate/permgate.db",
			Enabled:      true,
		},
		Daemon: DaemonConfig{
			SocketPath: "~/.permgate/permgate.sock",
			Watch:      true,
		},
		Miner: MinerConfig{
			MinCount:      3,
			MinConfidence: 0.6,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// envBindings maps config keys to environment variables.
var envBindings = map[string]string{
	"general.root":                 "PERMGATE_ROOT",
	"general.settings_timeout_ms":  "PERMGATE_SETTINGS_TIMEOUT_MS",
	"general.git_timeout_ms":       "PERMGATE_GIT_TIMEOUT_MS",
	"rules.allow":                  "PERMGATE_ALLOW",
	"rules.deny":                   "PERMGATE_DENY",
	"rules.include_agent_settings": "PERMGATE_INCLUDE_AGENT_SETTINGS",
	"audit.database_path":          "PERMGATE_DB",
	"audit.enabled":                "PERMGATE_AUDIT",
	"daemon.socket_path":           "PERMGATE_SOCKET",
	"daemon.watch":                 "PERMGATE_WATCH",
	"miner.min_count":              "PERMGATE_MIN_COUNT",
	"miner.min_confidence":         "PERMGATE_MIN_CONFIDENCE",
	"logging.level":                "PERMGATE_LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("general.root", d.General.Root)
	v.SetDefault("general.settings_timeout_ms", d.General.SettingsTimeoutMs)
	v.SetDefault("general.git_timeout_ms", d.General.GitTimeoutMs)
	v.SetDefault("rules.allow", d.Rules.Allow)
	v.SetDefault("rules.deny", d.Rules.Deny)
	v.SetDefault("rules.include_agent_settings", d.Rules.IncludeAgentSettings)
	v.SetDefault("audit.database_path", d.Audit.DatabasePath)
	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("daemon.socket_path", d.Daemon.SocketPath)
	v.SetDefault("daemon.watch", d.Daemon.Watch)
	v.SetDefault("miner.min_count", d.Miner.MinCount)
	v.SetDefault("miner.min_confidence", d.Miner.MinConfidence)
	v.SetDefault("logging.level", d.Logging.Level)
}

// Load reads the layered configuration and validates it.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	userPath, projectPath := ConfigPaths(opts.ProjectDir, opts.ConfigPath)
	if err := mergeConfigFile(v, userPath); err != nil {
		return Config{}, err
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return Config{}, err
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	for key, val := range opts.FlagOverrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Rules.Allow = splitList(cfg.Rules.Allow)
	cfg.Rules.Deny = splitList(cfg.Rules.Deny)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitList trims entries and drops empty ones. Env values arrive as one
// comma-separated string.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	v.SetConfigType("toml")
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ConfigPaths returns the user and project config paths.
func ConfigPaths(projectDir, override string) (user, project string) {
	if home, err := os.UserHomeDir(); err == nil {
		user = filepath.Join(home, ".permgate", "config.toml")
	}
	return user, projectConfigPath(projectDir, override)
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	if projectDir == "" {
		return filepath.Join(".permgate", "config.toml")
	}
	return filepath.Join(projectDir, ".permgate", "config.toml")
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}

// Validate reports every invalid field.
func Validate(cfg Config) error {
	var problems []string
	if cfg.General.SettingsTimeoutMs <= 0 {
		problems = append(problems, "general.settings_timeout_ms must be positive")
	}
	if cfg.General.GitTimeoutMs <= 0 {
		problems = append(problems, "general.git_timeout_ms must be positive")
	}
	if cfg.Audit.Enabled && cfg.Audit.DatabasePath == "" {
		problems = append(problems, "audit.database_path is required when audit is enabled")
	}
	if cfg.Daemon.SocketPath == "" {
		problems = append(problems, "daemon.socket_path is required")
	}
	if cfg.Miner.MinCount < 1 {
		problems = append(problems, "miner.min_count must be at least 1")
	}
	if cfg.Miner.MinConfidence < 0 || cfg.Miner.MinConfidence > 1 {
		problems = append(problems, "miner.min_confidence must be between 0 and 1")
	}
	if !logLevels[strings.ToLower(cfg.Logging.Level)] {
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error, fatal", cfg.Logging.Level))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ExpandHome replaces a leading "~" with the home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
