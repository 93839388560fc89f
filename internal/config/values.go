package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindFloat
	kindStringSlice
)

var keyKinds = map[string]valueKind{
	"general.root":                 kindString,
	"general.settings_timeout_ms":  kindInt,
	"general.git_timeout_ms":       kindInt,
	"rules.allow":                  kindStringSlice,
	"rules.deny":                   kindStringSlice,
	"rules.include_agent_settings": kindBool,
	"audit.database_path":          kindString,
	"audit.enabled":                kindBool,
	"daemon.socket_path":           kindString,
	"daemon.watch":                 kindBool,
	"miner.min_count":              kindInt,
	"miner.min_confidence":         kindFloat,
	"logging.level":                kindString,
}

// Keys returns every settable key.
func Keys() []string {
	keys := make([]string, 0, len(keyKinds))
	for k := range keyKinds {
		keys = append(keys, k)
	}
	return keys
}

// GetValue returns the value at a dotted key, or a whole section.
func GetValue(cfg Config, key string) (any, bool) {
	switch key {
	case "general":
		return cfg.General, true
	case "rules":
		return cfg.Rules, true
	case "audit":
		return cfg.Audit, true
	case "daemon":
		return cfg.Daemon, true
	case "miner":
		return cfg.Miner, true
	case "logging":
		return cfg.Logging, true

	case "general.root":
		return cfg.General.Root, true
	case "general.settings_timeout_ms":
		return cfg.General.SettingsTimeoutMs, true
	case "general.git_timeout_ms":
		return cfg.General.GitTimeoutMs, true
	case "rules.allow":
		return cfg.Rules.Allow, true
	case "rules.deny":
		return cfg.Rules.Deny, true
	case "rules.include_agent_settings":
		return cfg.Rules.IncludeAgentSettings, true
	case "audit.database_path":
		return cfg.Audit.DatabasePath, true
	case "audit.enabled":
		return cfg.Audit.Enabled, true
	case "daemon.socket_path":
		return cfg.Daemon.SocketPath, true
	case "daemon.watch":
		return cfg.Daemon.Watch, true
	case "miner.min_count":
		return cfg.Miner.MinCount, true
	case "miner.min_confidence":
		return cfg.Miner.MinConfidence, true
	case "logging.level":
		return cfg.Logging.Level, true
	}
	return nil, false
}

// ParseValue converts a command-line string to the type of key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", raw, err)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q: %w", raw, err)
		}
		return b, nil
	case kindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", raw, err)
		}
		return f, nil
	case kindStringSlice:
		return splitList([]string{raw}), nil
	}
	return nil, fmt.Errorf("unsupported value kind %d", kind)
}

// WriteValue sets key in the TOML file at path, creating the file and its
// tables as needed. Other content is preserved.
func WriteValue(path, key string, value any) error {
	if path == "" {
		return errors.New("config path is required")
	}
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read config %s: %w", path, err)
	}

	parts := strings.Split(key, ".")
	table := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := table[part]
		if !ok {
			m := map[string]any{}
			table[part] = m
			table = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q: %s is not a table", key, part)
		}
		table = m
	}
	table[parts[len(parts)-1]] = value

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
