package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/daemon"
	"github.com/Dicklesworthstone/permgate/internal/output"
)

var (
	flagServeSocket  string
	flagServeNoWatch bool
)

func init() {
	serveCmd.PersistentFlags().StringVar(&flagServeSocket, "socket", "", "unix socket path (default: daemon.socket_path)")
	serveCmd.Flags().BoolVar(&flagServeNoWatch, "no-watch", false, "do not reload when rule sources change")

	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveReloadCmd)

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve authorization decisions over a unix socket",
	Long: `Run the authorization daemon in the foreground.

The daemon answers line-delimited JSON-RPC requests (ping, status, rules,
reload, authorize, authorize_path) on a unix socket readable only by you.
Rules are loaded once and reloaded when a watched settings or config file
changes, so hooks can fetch a ready snapshot instead of reading files.

  permgate serve &
  permgate serve status
  permgate serve reload`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, project, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		root := resolveRoot(ctx, cfg, project)
		// Reload the permgate config too, so [rules] edits apply without a restart.
		loader := daemon.ReloadingLoader(func() (config.Config, error) {
			cfg, _, err := loadConfig()
			return cfg, err
		}, root)
		opts := daemon.Options{
			SocketPath: socketPath(cfg),
			Root:       root,
			Loader:     loader,
			Logger:     commandLogger("daemon"),
		}
		if cfg.Daemon.Watch && !flagServeNoWatch {
			opts.WatchPaths = watchPaths(cfg, root, project)
		}
		d, err := daemon.New(opts)
		if err != nil {
			return err
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		return d.Run(ctx, func(srv *daemon.IPCServer) {
			snap := d.Service().Snapshot()
			if out.Format() == output.FormatText {
				out.Success(fmt.Sprintf("serving %s on %s (%d allow, %d deny)", root, srv.SocketPath(), len(snap.Rules.Allow), len(snap.Rules.Deny)))
				return
			}
			_ = out.WriteNDJSON(map[string]any{
				"event":       "listening",
				"socket":      srv.SocketPath(),
				"root":        root,
				"allow_rules": len(snap.Rules.Allow),
				"deny_rules":  len(snap.Rules.Deny),
			})
		})
	},
}

func socketPath(cfg config.Config) string {
	if flagServeSocket != "" {
		return config.ExpandHome(flagServeSocket)
	}
	return config.ExpandHome(cfg.Daemon.SocketPath)
}

// watchPaths lists every file a rule snapshot is built from.
func watchPaths(cfg config.Config, root, project string) []string {
	var paths []string
	if cfg.Rules.IncludeAgentSettings {
		paths = append(paths, config.AgentSettingsPaths(root)...)
	}
	userConfig, projectConfig := config.ConfigPaths(project, flagConfig)
	for _, p := range []string{userConfig, projectConfig} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

type daemonStatusView struct {
	Running bool   `json:"running"`
	Socket  string `json:"socket"`
	*daemon.StatusResult
}

func (v daemonStatusView) Text(s *output.Styles) string {
	if !v.Running {
		return fmt.Sprintf("%s daemon not running (%s)", s.Verdict("ask"), v.Socket)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s daemon running on %s\n", s.Verdict("allow"), v.Socket)
	fmt.Fprintf(&b, "  %s %s\n", s.Key.Render("root:"), v.Root)
	fmt.Fprintf(&b, "  %s %d (loaded %s)\n", s.Key.Render("snapshot:"), v.Version, v.LoadedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "  %s %d allow, %d deny\n", s.Key.Render("rules:"), v.AllowRules, v.DenyRules)
	if len(v.Sources) > 0 {
		fmt.Fprintf(&b, "  %s %s\n", s.Key.Render("sources:"), strings.Join(v.Sources, ", "))
	}
	fmt.Fprintf(&b, "  %s %s\n", s.Key.Render("signatures:"), v.SignatureHash)
	return b.String()
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and what it serves",
	RunE: func(cmd *cobra.Command, args []string) error {
		return daemonCall(cmd, func(ctx context.Context, c *daemon.Client) (daemon.StatusResult, error) {
			return c.Status(ctx)
		})
	},
}

var serveReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the daemon to reload its rules now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return daemonCall(cmd, func(ctx context.Context, c *daemon.Client) (daemon.StatusResult, error) {
			return c.Reload(ctx)
		})
	},
}

func daemonCall(cmd *cobra.Command, call func(context.Context, *daemon.Client) (daemon.StatusResult, error)) error {
	out, err := newWriter(cmd)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	sock := socketPath(cfg)
	client := daemon.NewClient(sock, daemon.WithLogger(commandLogger("daemon")), daemon.WithTimeout(2*time.Second))
	defer client.Close()

	view := daemonStatusView{Socket: sock}
	res, err := call(cmd.Context(), client)
	if err != nil {
		var rpcErr *daemon.Error
		if errors.As(err, &rpcErr) {
			return err
		}
		commandLogger("daemon").Debug("daemon unreachable", "error", err)
		if err := out.Write(view); err != nil {
			return err
		}
		return &ExitError{Code: 1}
	}
	view.Running = true
	view.StatusResult = &res
	return out.Write(view)
}
