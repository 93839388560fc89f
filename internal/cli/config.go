package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/output"
)

var (
	flagConfigGlobal bool
)

func init() {
	configCmd.PersistentFlags().BoolVar(&flagConfigGlobal, "global", false, "operate on user config (~/.permgate/config.toml)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or modify permgate configuration",
	Long: `Show or modify permgate configuration.

Values are layered: built-in defaults, then ~/.permgate/config.toml, then
.permgate/config.toml in the project, then PERMGATE_* environment variables,
then command-line flags. 'config set' edits one file and keeps the rest of it.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := newWriter(cmd)
	if err != nil {
		return err
	}
	return out.Write(configView{cfg})
}

type configView struct {
	config.Config
}

// Text renders the effective config as TOML, ready to paste into a file.
func (v configView) Text(_ *output.Styles) string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v.Config); err != nil {
		return fmt.Sprintf("%+v", v.Config)
	}
	return buf.String()
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		val, ok := config.GetValue(cfg, args[0])
		if !ok {
			return fmt.Errorf("unknown key %q", args[0])
		}
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		return out.Write(map[string]any{
			"key":   args[0],
			"value": val,
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the project (or --global) config file",
	Long: `Set one configuration value. Lists take comma-separated rules:
  permgate config set rules.deny "Bash(rm -rf:*),Read(.env)"
  permgate config set --global logging.level debug`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectPath()
		if err != nil {
			return err
		}
		target := configTarget(project)

		value, err := config.ParseValue(args[0], args[1])
		if err != nil {
			return err
		}
		if err := config.WriteValue(target, args[0], value); err != nil {
			return err
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		return out.Write(map[string]any{
			"path":  target,
			"key":   args[0],
			"value": value,
		})
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR (default: vi)",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectPath()
		if err != nil {
			return err
		}
		target := configTarget(project)

		// Ensure the file exists with at least defaults for convenience.
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			if err := config.WriteValue(target, "logging.level", config.DefaultConfig().Logging.Level); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", target, err)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		editCmd := exec.Command(editor, target)
		editCmd.Stdin = os.Stdin
		editCmd.Stdout = os.Stdout
		editCmd.Stderr = os.Stderr
		return editCmd.Run()
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file paths and the settable keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectPath()
		if err != nil {
			return err
		}
		userPath, projectConfig := config.ConfigPaths(project, flagConfig)
		keys := config.Keys()
		sort.Strings(keys)
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		return out.Write(map[string]any{
			"user":    userPath,
			"project": projectConfig,
			"target":  configTarget(project),
			"keys":    keys,
		})
	},
}

// configTarget is the file config set and edit write to.
func configTarget(project string) string {
	userPath, projectConfig := config.ConfigPaths(project, flagConfig)
	if flagConfigGlobal {
		return userPath
	}
	return projectConfig
}
