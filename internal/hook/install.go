package hook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCommand is the hook command written into the agent settings.
const DefaultCommand = "permgate hook run"

// Matcher is the tool matcher of the installed entry: every tool.
const Matcher = "*"

// SettingsPath returns the agent settings file hooks are installed in:
// ~/.claude/settings.json when global, else the project's
// .claude/settings.json.
func SettingsPath(projectDir string, global bool) (string, error) {
	if global {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".claude", "settings.json"), nil
	}
	if projectDir == "" {
		return "", fmt.Errorf("project directory is required")
	}
	return filepath.Join(projectDir, ".claude", "settings.json"), nil
}

// InstallResult reports what Install did.
type InstallResult struct {
	SettingsPath   string `json:"settings_path"`
	Command        string `json:"command"`
	AlreadyExisted bool   `json:"already_existed"`
	Replaced       bool   `json:"replaced"`
}

// Status is the installation state of the hook in one settings file.
type Status struct {
	SettingsPath string `json:"settings_path"`
	Installed    bool   `json:"installed"`
	Command      string `json:"command,omitempty"`
	Matcher      string `json:"matcher,omitempty"`
}

// Install adds the PreToolUse entry running command to the settings file,
// preserving every other hook. An existing permgate entry is kept unless
// force is set, in which case it is replaced.
func Install(settingsPath, command string, force bool) (InstallResult, error) {
	if command == "" {
		command = DefaultCommand
	}
	res := InstallResult{SettingsPath: settingsPath, Command: command}

	settings, err := readSettingsFile(settingsPath)
	if err != nil {
		return res, err
	}
	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}
	preToolUse, _ := hooks[EventName].([]any)

	entry := map[string]any{
		"matcher": Matcher,
		"hooks": []any{
			map[string]any{"type": "command", "command": command},
		},
	}
	for i, h := range preToolUse {
		if _, ok := permgateEntry(h); !ok {
			continue
		}
		res.AlreadyExisted = true
		if force {
			preToolUse[i] = entry
			res.Replaced = true
		}
		break
	}
	if !res.AlreadyExisted {
		preToolUse = append(preToolUse, entry)
	}

	hooks[EventName] = preToolUse
	settings["hooks"] = hooks
	return res, writeSettingsFile(settingsPath, settings)
}

// Uninstall removes every permgate entry. removed is false when none was
// found, including when the settings file does not exist.
func Uninstall(settingsPath string) (removed bool, err error) {
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return false, nil
	}
	settings, err := readSettingsFile(settingsPath)
	if err != nil {
		return false, err
	}
	hooks, _ := settings["hooks"].(map[string]any)
	preToolUse, _ := hooks[EventName].([]any)
	if len(preToolUse) == 0 {
		return false, nil
	}

	filtered := make([]any, 0, len(preToolUse))
	for _, h := range preToolUse {
		if _, ok := permgateEntry(h); ok {
			removed = true
			continue
		}
		filtered = append(filtered, h)
	}
	if !removed {
		return false, nil
	}
	hooks[EventName] = filtered
	settings["hooks"] = hooks
	return true, writeSettingsFile(settingsPath, settings)
}

// GetStatus reports whether the settings file runs permgate.
func GetStatus(settingsPath string) (Status, error) {
	st := Status{SettingsPath: settingsPath}
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return st, nil
	}
	settings, err := readSettingsFile(settingsPath)
	if err != nil {
		return st, err
	}
	hooks, _ := settings["hooks"].(map[string]any)
	preToolUse, _ := hooks[EventName].([]any)
	for _, h := range preToolUse {
		if cmd, ok := permgateEntry(h); ok {
			st.Installed = true
			st.Command = cmd
			if m, ok := h.(map[string]any); ok {
				st.Matcher, _ = m["matcher"].(string)
			}
			break
		}
	}
	return st, nil
}

// permgateEntry reports whether a PreToolUse matcher group runs permgate
// and returns its command.
func permgateEntry(group any) (string, bool) {
	g, ok := group.(map[string]any)
	if !ok {
		return "", false
	}
	list, _ := g["hooks"].([]any)
	for _, hk := range list {
		m, ok := hk.(map[string]any)
		if !ok {
			continue
		}
		cmd, _ := m["command"].(string)
		if isPermgateCommand(cmd) {
			return cmd, true
		}
	}
	return "", false
}

func isPermgateCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	for i := 0; i+2 < len(fields); i++ {
		if filepath.Base(fields[i]) == "permgate" && fields[i+1] == "hook" && fields[i+2] == "run" {
			return true
		}
	}
	return false
}

func readSettingsFile(path string) (map[string]any, error) {
	settings := map[string]any{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return settings, nil
}

func writeSettingsFile(path string, settings map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
