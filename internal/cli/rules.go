package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/core"
	"github.com/Dicklesworthstone/permgate/internal/output"
	"github.com/Dicklesworthstone/permgate/internal/rules"
)

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesLintCmd)
	rulesCmd.AddCommand(rulesTestCmd)
	rulesCmd.AddCommand(rulesSignaturesCmd)

	rootCmd.AddCommand(rulesCmd)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the allow and deny rules",
	Long: `Inspect the allow and deny rules permgate evaluates.

Rules come from the agent settings files (user, project, project local) and
the [rules] section of the permgate config, in that order. Rule grammar:
  Bash(git status)    exact command or a prefix at a word boundary
  Bash(npm run:*)     prefix followed by anything
  Edit(src/**)        gitignore-style path pattern for a file tool
  Read(!secrets/)     negated path pattern
  WebFetch            every use of a tool`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured rules and their sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		snap, _, err := loadSnapshot(cmd)
		if err != nil {
			return err
		}
		return out.Write(snapshotView(snap))
	},
}

type ruleListView struct {
	config.RuleSnapshot
}

func snapshotView(snap config.RuleSnapshot) ruleListView {
	if snap.Sources == nil {
		snap.Sources = []string{}
	}
	return ruleListView{snap}
}

func (v ruleListView) Text(s *output.Styles) string {
	var b strings.Builder
	if v.Empty() {
		b.WriteString("no rules configured\n")
	}
	for _, r := range v.Deny {
		fmt.Fprintf(&b, "%s %s\n", s.Verdict("deny"), s.Rule.Render(r))
	}
	for _, r := range v.Allow {
		fmt.Fprintf(&b, "%s %s\n", s.Verdict("allow"), s.Rule.Render(r))
	}
	if len(v.Sources) > 0 {
		fmt.Fprintf(&b, "%s %s\n", s.Dim.Render("sources:"), strings.Join(v.Sources, ", "))
	}
	return b.String()
}

// lintIssue is one invalid rule.
type lintIssue struct {
	List  string `json:"list"`
	Rule  string `json:"rule"`
	Error string `json:"error"`
}

type lintReport struct {
	Checked int         `json:"checked"`
	Invalid []lintIssue `json:"invalid"`
	Sources []string    `json:"sources"`
}

func (r lintReport) Text(s *output.Styles) string {
	var b strings.Builder
	if len(r.Invalid) == 0 {
		fmt.Fprintf(&b, "%s %d rules ok\n", s.Verdict("allow"), r.Checked)
		return b.String()
	}
	for _, issue := range r.Invalid {
		fmt.Fprintf(&b, "%s %s %s\n", s.Verdict("deny"), s.Rule.Render(issue.List+": "+issue.Rule), s.Dim.Render(issue.Error))
	}
	fmt.Fprintf(&b, "%d of %d rules invalid; invalid rules never match\n", len(r.Invalid), r.Checked)
	return b.String()
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Report rules that do not parse",
	Long: `Report rules that do not parse. Invalid rules are ignored during
evaluation, so a typo silently disables a rule. Exits non-zero when any rule
is invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		snap, _, err := loadSnapshot(cmd)
		if err != nil {
			return err
		}
		report := lint(snap)
		if err := out.Write(report); err != nil {
			return err
		}
		if len(report.Invalid) > 0 {
			return &ExitError{Code: 1}
		}
		return nil
	},
}

func lint(snap config.RuleSnapshot) lintReport {
	report := lintReport{Invalid: []lintIssue{}, Sources: snap.Sources}
	if report.Sources == nil {
		report.Sources = []string{}
	}
	for _, list := range []struct {
		name  string
		specs []string
	}{{"deny", snap.Deny}, {"allow", snap.Allow}} {
		for _, spec := range list.specs {
			report.Checked++
			if _, err := rules.ParseRule(spec); err != nil {
				report.Invalid = append(report.Invalid, lintIssue{List: list.name, Rule: spec, Error: err.Error()})
			}
		}
	}
	return report
}

type ruleTestResult struct {
	Rule    string `json:"rule"`
	Kind    string `json:"kind"`
	Tool    string `json:"tool"`
	Subject string `json:"subject"`
	Root    string `json:"root,omitempty"`
	Matched bool   `json:"matched"`
}

func (r ruleTestResult) Text(s *output.Styles) string {
	word := s.Deny.Render("no match")
	if r.Matched {
		word = s.Allow.Render("match")
	}
	return fmt.Sprintf("%s %s %s", word, s.Rule.Render(r.Rule), r.Subject)
}

var rulesTestCmd = &cobra.Command{
	Use:   "test <rule> <subject> [tool]",
	Short: "Test one rule against a command or path",
	Long: `Test one rule against a command line or path without loading any config
rules. For path rules the optional tool (default: the rule's tool) selects
which tool is operating, so 'Edit(src/**)' can be tested for Write too.
  permgate rules test 'Bash(git diff:*)' 'git diff --stat'
  permgate rules test 'Edit(src/**)' src/app/main.go Write`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		rule, err := rules.ParseRule(args[0])
		if err != nil {
			return err
		}
		tool := rule.Tool
		if len(args) == 3 {
			tool = args[2]
		}
		res := ruleTestResult{Rule: rule.Raw, Kind: rule.Kind.String(), Tool: tool, Subject: args[1]}
		if tool == rules.BashTool {
			res.Matched = rule.MatchCommand(args[1])
		} else {
			cfg, project, err := loadConfig()
			if err != nil {
				return err
			}
			res.Root = resolveRoot(cmd.Context(), cfg, project)
			res.Matched = rule.MatchPath(tool, args[1], res.Root)
		}
		return out.Write(res)
	},
}

type signaturesView struct {
	Hash       string               `json:"hash"`
	Count      int                  `json:"count"`
	Signatures []core.SignatureInfo `json:"signatures"`
}

func (v signaturesView) Text(s *output.Styles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d signatures (%s)\n", s.Head.Render("dangerous-command table:"), v.Count, v.Hash)
	for _, sig := range v.Signatures {
		sev := s.Deny.Render(fmt.Sprintf("%-6s", sig.Severity))
		if sig.Severity != "deny" {
			sev = s.Ask.Render(fmt.Sprintf("%-6s", sig.Severity))
		}
		fmt.Fprintf(&b, "  %s %-7s %s %s\n", sev, sig.Scope, s.Rule.Render(sig.ID), s.Dim.Render(sig.Reason))
	}
	return b.String()
}

var rulesSignaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "List the built-in dangerous-command signatures",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		d := core.NewDetector()
		sigs := d.Export()
		return out.Write(signaturesView{Hash: d.Hash(), Count: len(sigs), Signatures: sigs})
	},
}

// loadSnapshot loads the config and the rules for the resolved root.
// Unreadable sources are logged and skipped.
func loadSnapshot(cmd *cobra.Command) (config.RuleSnapshot, string, error) {
	cfg, project, err := loadConfig()
	if err != nil {
		return config.RuleSnapshot{}, "", err
	}
	root := resolveRoot(cmd.Context(), cfg, project)
	snap, err := config.LoadRules(cmd.Context(), cfg, root)
	if err != nil {
		commandLogger("rules").Warn("rule sources unavailable", "error", err)
	}
	return snap, root, nil
}
