package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/core"
	"github.com/Dicklesworthstone/permgate/internal/output"
	"github.com/Dicklesworthstone/permgate/internal/utils"
)

var (
	flagCheckAllow    []string
	flagCheckDeny     []string
	flagCheckExitCode bool
)

func init() {
	for _, c := range []*cobra.Command{checkCmd, checkPathCmd} {
		c.Flags().StringArrayVar(&flagCheckAllow, "allow", nil, "allow rule (repeatable); replaces the configured rules")
		c.Flags().StringArrayVar(&flagCheckDeny, "deny", nil, "deny rule (repeatable); replaces the configured rules")
		c.Flags().BoolVar(&flagCheckExitCode, "exit-code", false, "exit 0 allow, 2 deny, 3 ask, 4 pass")
	}
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(checkPathCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <command>",
	Short: "Decide whether a shell command may run",
	Long: `Decide whether a shell command may run under the configured rules.

The command is never executed. Quote it as one argument, or pass it after --:
  permgate check "git status && rm -rf build"
  permgate check -- git push --force origin main
  permgate check --allow 'Bash(npm test:*)' "npm test -- --watch"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line := strings.Join(args, " ")
		return runCheck(cmd, "Bash", line, func(e *core.Engine, snap config.RuleSnapshot) core.Result {
			return e.Authorize(line, snap.Allow, snap.Deny)
		})
	},
}

var checkPathCmd = &cobra.Command{
	Use:   "check-path <tool> <path>",
	Short: "Decide whether a file tool may operate on a path",
	Long: `Decide whether a file tool may operate on a path.

Edit rules also govern Write, MultiEdit and NotebookEdit; Read rules also
govern Glob, Grep and LS. Relative paths resolve against the rule root.
  permgate check-path Edit src/main.go
  permgate check-path Read --deny 'Read(.env)' .env`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tool, path := args[0], args[1]
		if strings.TrimSpace(tool) == "" {
			return fmt.Errorf("tool name is required")
		}
		return runCheck(cmd, tool, path, func(e *core.Engine, snap config.RuleSnapshot) core.Result {
			return e.AuthorizePath(tool, path, snap.Allow, snap.Deny)
		})
	},
}

// checkReport is the output of check and check-path.
type checkReport struct {
	Tool    string   `json:"tool"`
	Subject string   `json:"subject"`
	Root    string   `json:"root"`
	Sources []string `json:"sources"`
	core.Result
}

// Text renders the decision followed by one line per evaluated command.
func (r checkReport) Text(s *output.Styles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", s.Verdict(string(r.Decision)), utils.SingleLine(r.Subject))
	fmt.Fprintf(&b, "  %s %s\n", s.Key.Render("reason:"), r.Reason)
	if r.Line != nil {
		fmt.Fprintf(&b, "  %s %s\n", s.Key.Render("signature:"), r.Line.Signature)
	}
	for _, c := range r.Commands {
		detail := c.Reason
		if c.Rule != "" {
			detail = s.Rule.Render(c.Rule)
		} else if c.Detection != nil {
			detail = s.Rule.Render(c.Detection.Signature) + " " + c.Detection.Reason
		}
		fmt.Fprintf(&b, "  %-5s %s", s.Verdict(string(c.Verdict)), utils.Truncate(utils.SingleLine(c.Command.Raw), 72))
		if detail != "" {
			fmt.Fprintf(&b, "  %s", s.Dim.Render(detail))
		}
		b.WriteString("\n")
	}
	if r.Uncertain {
		fmt.Fprintf(&b, "  %s\n", s.Dim.Render("split by the "+r.Tier+" tier with low confidence"))
	}
	return b.String()
}

func runCheck(cmd *cobra.Command, tool, subject string, decide func(*core.Engine, config.RuleSnapshot) core.Result) error {
	out, err := newWriter(cmd)
	if err != nil {
		return err
	}
	cfg, project, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	root := resolveRoot(ctx, cfg, project)

	var snap config.RuleSnapshot
	if len(flagCheckAllow) > 0 || len(flagCheckDeny) > 0 {
		snap = config.RuleSnapshot{Allow: flagCheckAllow, Deny: flagCheckDeny, Sources: []string{"flags"}}
	} else {
		snap, err = config.LoadRules(ctx, cfg, root)
		if err != nil {
			// Unreadable sources contribute no rules.
			commandLogger("check").Warn("rule sources unavailable", "error", err)
		}
	}

	res := decide(core.NewEngine(core.WithRoot(root)), snap)
	report := checkReport{Tool: tool, Subject: subject, Root: root, Sources: snap.Sources, Result: res}
	if report.Sources == nil {
		report.Sources = []string{}
	}
	if err := out.Write(report); err != nil {
		return err
	}
	if flagCheckExitCode {
		return exitForVerdict(res.Decision)
	}
	return nil
}
