// Package cli implements the Cobra command-line interface for permgate.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/core"
	"github.com/Dicklesworthstone/permgate/internal/db"
	"github.com/Dicklesworthstone/permgate/internal/git"
	"github.com/Dicklesworthstone/permgate/internal/output"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values
var (
	flagConfig  string
	flagOutput  string
	flagJSON    bool
	flagVerbose bool
	flagDB      string
	flagProject string
	flagRoot    string
)

var rootCmd = &cobra.Command{
	Use:   "permgate",
	Short: "Command authorization for coding agents",
	Long: `permgate decides whether a shell command or file operation proposed by a
coding agent may run automatically, must be denied, or needs a human.

Commands are split into simple commands, checked against dangerous-command
signatures, then matched against the allow and deny rules of the agent
settings and permgate's own config:

  deny   - a deny rule or a dangerous signature matched
  ask    - parsing was uncertain or a command needs review
  allow  - every command matched an allow rule
  pass   - no rule matched; the agent's own permission flow applies`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			log.SetLevel(log.DebugLevel)
		}
		if flagProject == "" {
			return nil
		}
		if info, err := os.Stat(flagProject); err != nil || !info.IsDir() {
			return fmt.Errorf("project directory %s does not exist", flagProject)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		// When no subcommand given, show quick reference card
		showQuickReference(cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		goVersion := runtime.Version()
		project, _ := projectPath()
		userPath, projectConfig := config.ConfigPaths(project, flagConfig)
		detector := core.NewDetector()

		payload := map[string]any{
			"version":         version,
			"commit":          commit,
			"build_date":      date,
			"go_version":      goVersion,
			"user_config":     userPath,
			"project_config":  projectConfig,
			"project_path":    project,
			"signature_hash":  detector.Hash(),
			"signature_count": len(detector.Signatures()),
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		switch out.Format() {
		case output.FormatJSON, output.FormatYAML:
			return out.Write(payload)
		default:
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "permgate %s\n", version)
			fmt.Fprintf(w, "  commit:     %s\n", commit)
			fmt.Fprintf(w, "  built:      %s\n", date)
			fmt.Fprintf(w, "  go:         %s\n", goVersion)
			fmt.Fprintf(w, "  config:     %s\n", userPath)
			fmt.Fprintf(w, "  project:    %s\n", projectConfig)
			fmt.Fprintf(w, "  signatures: %d (%s)\n", len(detector.Signatures()), detector.Hash())
			return nil
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetOutput returns the configured output format.
// Precedence: CLI flags > PERMGATE_OUTPUT_FORMAT env > default
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "" && flagOutput != "text" {
		return flagOutput
	}
	if envFormat := os.Getenv("PERMGATE_OUTPUT_FORMAT"); envFormat != "" {
		switch envFormat {
		case "json", "yaml", "text":
			return envFormat
		}
	}
	if flagOutput == "" {
		return "text"
	}
	return flagOutput
}

// NewErrorWriter returns a writer for reporting err from main. It falls back
// to text when the output flag itself is invalid.
func NewErrorWriter() *output.Writer {
	format, err := output.ParseFormat(GetOutput())
	if err != nil {
		format = output.FormatText
	}
	return output.New(format)
}

func newWriter(cmd *cobra.Command) (*output.Writer, error) {
	format, err := output.ParseFormat(GetOutput())
	if err != nil {
		return nil, err
	}
	return output.New(format,
		output.WithOutput(cmd.OutOrStdout()),
		output.WithErrorOutput(cmd.ErrOrStderr()),
	), nil
}

func projectPath() (string, error) {
	if flagProject != "" {
		return filepath.Abs(flagProject)
	}
	pwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return pwd, nil
}

// loadConfig loads the layered config with the global flags applied last and
// sets the log level from it.
func loadConfig() (config.Config, string, error) {
	project, err := projectPath()
	if err != nil {
		return config.Config{}, "", err
	}
	overrides := map[string]any{}
	if flagRoot != "" {
		root, err := filepath.Abs(flagRoot)
		if err != nil {
			return config.Config{}, "", err
		}
		overrides["general.root"] = root
	}
	if flagDB != "" {
		overrides["audit.database_path"] = flagDB
	}
	cfg, err := config.Load(config.LoadOptions{
		ProjectDir:    project,
		ConfigPath:    flagConfig,
		FlagOverrides: overrides,
	})
	if err != nil {
		return config.Config{}, "", err
	}
	if !flagVerbose {
		if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
			log.SetLevel(level)
		}
	}
	return cfg, project, nil
}

// resolveRoot returns the path-rule root: the configured root, else the git
// repository containing project, else project itself.
func resolveRoot(ctx context.Context, cfg config.Config, project string) string {
	if root := strings.TrimSpace(cfg.General.Root); root != "" {
		return config.ExpandHome(root)
	}
	return git.RepoRoot(ctx, project, time.Duration(cfg.General.GitTimeoutMs)*time.Millisecond)
}

func openDB(cfg config.Config) (*db.DB, error) {
	path := config.ExpandHome(cfg.Audit.DatabasePath)
	database, err := db.OpenAndMigrate(path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	return database, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "project config file path (default .permgate/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: PERMGATE_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "audit database path")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "path-rule root (default: git repository root)")

	rootCmd.AddCommand(versionCmd)
}
