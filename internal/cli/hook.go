package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/daemon"
	"github.com/Dicklesworthstone/permgate/internal/hook"
	"github.com/Dicklesworthstone/permgate/internal/output"
)

var (
	flagHookGlobal   bool
	flagHookForce    bool
	flagHookCommand  string
	flagHookNoDaemon bool
)

// hookDaemonTimeout bounds asking a running daemon for rules before the hook
// loads them itself.
const hookDaemonTimeout = 200 * time.Millisecond

func init() {
	hookCmd.PersistentFlags().BoolVarP(&flagHookGlobal, "global", "g", false, "use the user settings (~/.claude/settings.json)")

	hookInstallCmd.Flags().BoolVarP(&flagHookForce, "force", "f", false, "replace an existing permgate hook entry")
	hookInstallCmd.Flags().StringVar(&flagHookCommand, "command", hook.DefaultCommand, "command the agent runs for each tool call")

	hookRunCmd.Flags().BoolVar(&flagHookNoDaemon, "no-daemon", false, "load rules directly even when the daemon is running")

	hookCmd.AddCommand(hookRunCmd)
	hookCmd.AddCommand(hookInstallCmd)
	hookCmd.AddCommand(hookUninstallCmd)
	hookCmd.AddCommand(hookStatusCmd)

	rootCmd.AddCommand(hookCmd)
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage the agent PreToolUse hook",
	Long: `Manage the PreToolUse hook that lets permgate decide each tool call.

The agent runs 'permgate hook run' before every tool call and pipes the call
as JSON on stdin. permgate answers allow, deny or ask on stdout; when no rule
applies it prints nothing and the agent's own permission prompt is used.

Quick start:
  permgate hook install    # Add the hook to .claude/settings.json
  permgate hook status     # Check installation status
  permgate hook uninstall  # Remove the hook`,
}

var hookRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Decide one tool call read from stdin",
	Long: `Decide one tool call read from stdin and print the hook response.

Rules come from a running daemon serving the same root when one answers
quickly, otherwise from the settings files. Decisions are recorded in the
audit database when audit.enabled is set. Malformed input is answered with
ask, never with an error, so the agent falls back to asking the user.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := commandLogger("hook")
		cfg, _, err := loadConfig()
		if err != nil {
			// A broken config must not block the agent; decide with defaults.
			logger.Warn("config unavailable, using defaults", "error", err)
			cfg = config.DefaultConfig()
		}

		opts := []hook.Option{hook.WithLogger(logger)}
		if !flagHookNoDaemon {
			opts = append(opts, hook.WithRules(daemonRules(cfg)))
		}
		if cfg.Audit.Enabled {
			database, err := openDB(cfg)
			if err != nil {
				logger.Warn("audit disabled", "error", err)
			} else {
				defer database.Close()
				opts = append(opts, hook.WithSink(hook.DBSink{DB: database}))
			}
		}

		h := hook.NewHandler(cfg, opts...)
		_, err = h.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		return err
	},
}

// daemonRules asks the daemon for its snapshot and falls back to loading the
// rules in-process when it is down or serves another root.
func daemonRules(cfg config.Config) hook.RuleSource {
	local := hook.ConfigRules(cfg)
	sock := config.ExpandHome(cfg.Daemon.SocketPath)
	return hook.RuleSourceFunc(func(ctx context.Context, projectDir string) (config.RuleSnapshot, error) {
		if _, err := os.Stat(sock); err != nil {
			return local.Rules(ctx, projectDir)
		}
		client := daemon.NewClient(sock, daemon.WithTimeout(hookDaemonTimeout), daemon.WithLogger(commandLogger("hook")))
		defer client.Close()
		snap, err := client.Rules(ctx, projectDir)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, daemon.ErrRootMismatch) {
			commandLogger("hook").Debug("daemon unavailable", "socket", sock, "error", err)
		}
		return local.Rules(ctx, projectDir)
	})
}

func hookSettingsPath() (string, error) {
	project, err := projectPath()
	if err != nil {
		return "", err
	}
	return hook.SettingsPath(project, flagHookGlobal)
}

var hookInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Add the permgate hook to the agent settings",
	Long: `Add a PreToolUse entry running 'permgate hook run' to the agent settings.

Existing hooks and permissions are preserved. An existing permgate entry is
left alone unless --force is given. Use --global to install for all projects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		path, err := hookSettingsPath()
		if err != nil {
			return err
		}
		command := strings.TrimSpace(flagHookCommand)
		if command == "" {
			return fmt.Errorf("--command must not be empty")
		}
		res, err := hook.Install(path, command, flagHookForce)
		if err != nil {
			return err
		}

		switch out.Format() {
		case output.FormatText:
			switch {
			case res.Replaced:
				out.Success("replaced permgate hook in " + res.SettingsPath)
			case res.AlreadyExisted:
				out.Success("permgate hook already installed in " + res.SettingsPath + " (use --force to replace)")
			default:
				out.Success("installed permgate hook in " + res.SettingsPath)
			}
			return nil
		default:
			return out.Write(res)
		}
	},
}

var hookUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the permgate hook from the agent settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		path, err := hookSettingsPath()
		if err != nil {
			return err
		}
		removed, err := hook.Uninstall(path)
		if err != nil {
			return err
		}
		if out.Format() == output.FormatText {
			if removed {
				out.Success("removed permgate hook from " + path)
			} else {
				out.Success("no permgate hook in " + path)
			}
			return nil
		}
		return out.Write(map[string]any{
			"settings_path": path,
			"removed":       removed,
		})
	},
}

type hookStatusView struct {
	hook.Status
}

func (v hookStatusView) Text(s *output.Styles) string {
	if !v.Installed {
		return fmt.Sprintf("%s not installed in %s\n  run: permgate hook install", s.Verdict("ask"), v.SettingsPath)
	}
	return fmt.Sprintf("%s installed in %s\n  %s %s\n  %s %s", s.Verdict("allow"), v.SettingsPath,
		s.Key.Render("command:"), v.Command, s.Key.Render("matcher:"), v.Matcher)
}

var hookStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the permgate hook is installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		path, err := hookSettingsPath()
		if err != nil {
			return err
		}
		st, err := hook.GetStatus(path)
		if err != nil {
			return err
		}
		return out.Write(hookStatusView{st})
	},
}
