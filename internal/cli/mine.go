package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/db"
	"github.com/Dicklesworthstone/permgate/internal/miner"
	"github.com/Dicklesworthstone/permgate/internal/output"
	"github.com/Dicklesworthstone/permgate/internal/tui"
	"github.com/Dicklesworthstone/permgate/internal/utils"
)

var (
	flagMineSince         time.Duration
	flagMineMinCount      int
	flagMineMinConfidence float64
	flagMineListStatus    string
	flagMineReviewStatus  string
	flagMineExportStatus  string
	flagMineTheme         string
)

func init() {
	mineRunCmd.Flags().DurationVar(&flagMineSince, "since", 0, "only mine decisions newer than this (e.g. 168h); 0 mines all")
	mineRunCmd.Flags().IntVar(&flagMineMinCount, "min-count", 0, "minimum occurrences (default: miner.min_count)")
	mineRunCmd.Flags().Float64Var(&flagMineMinConfidence, "min-confidence", 0, "minimum confidence 0..1 (default: miner.min_confidence)")

	mineListCmd.Flags().StringVar(&flagMineListStatus, "status", "pending", "filter by status: pending, accepted, rejected, all")
	mineReviewCmd.Flags().StringVar(&flagMineReviewStatus, "status", "pending", "initial filter: pending, accepted, rejected, all")
	mineReviewCmd.Flags().StringVar(&flagMineTheme, "theme", "", "override theme (mocha, latte)")
	mineExportCmd.Flags().StringVar(&flagMineExportStatus, "status", "accepted", "export proposals with this status")

	mineCmd.AddCommand(mineRunCmd)
	mineCmd.AddCommand(mineListCmd)
	mineCmd.AddCommand(mineReviewCmd)
	mineCmd.AddCommand(mineAcceptCmd)
	mineCmd.AddCommand(mineRejectCmd)
	mineCmd.AddCommand(mineExportCmd)

	rootCmd.AddCommand(mineCmd)
}

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Propose rules from the decision log",
	Long: `Propose allow and deny rules from the audited decision log.

The miner replays hook decisions that ended in ask or pass, generalizes them
('git diff --name-only' becomes 'Bash(git diff:*)', 'Edit src/a/b.ts' becomes
'Edit(src/**)') and scores each candidate by frequency and risk. Proposals are
stored for review and never change live rules; export accepted ones and add
them to your settings yourself.

  permgate mine run
  permgate mine review
  permgate mine export > proposals.json`,
}

var mineRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Mine the decision log into proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		cfg, project, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := cmd.Context()
		root := resolveRoot(ctx, cfg, project)
		snap, err := config.LoadRules(ctx, cfg, root)
		if err != nil {
			commandLogger("mine").Warn("rule sources unavailable", "error", err)
		}

		minCount, minConfidence := cfg.Miner.MinCount, cfg.Miner.MinConfidence
		if flagMineMinCount > 0 {
			minCount = flagMineMinCount
		}
		if flagMineMinConfidence > 0 {
			minConfidence = flagMineMinConfidence
		}
		var since time.Time
		if flagMineSince > 0 {
			since = time.Now().Add(-flagMineSince)
		}

		m := miner.New(
			miner.WithThresholds(minCount, minConfidence),
			miner.WithRoot(root),
			miner.WithExisting(snap.Allow, snap.Deny),
		)
		report, err := m.Run(ctx, database, since)
		if err != nil {
			return err
		}
		if report.Proposals == nil {
			report.Proposals = []*db.Proposal{}
		}
		return out.Write(mineReport(report))
	},
}

type mineReport miner.Report

func (r mineReport) Text(s *output.Styles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mined %d decisions into %d proposals\n", r.Decisions, len(r.Proposals))
	b.WriteString(proposalList(r.Proposals).Text(s))
	return b.String()
}

type proposalList []*db.Proposal

func (l proposalList) Text(s *output.Styles) string {
	var b strings.Builder
	for _, p := range l {
		fmt.Fprintf(&b, "  %s %-5s %s %s\n",
			s.Dim.Render(shortID(p.ID)),
			s.Verdict(p.List),
			s.Rule.Render(p.Rule),
			s.Dim.Render(fmt.Sprintf("x%d conf %.2f risk %.2f [%s]", p.Count, p.Confidence, p.Risk, p.Status)),
		)
		for i, ex := range p.Examples {
			if i == 2 {
				break
			}
			fmt.Fprintf(&b, "      %s\n", s.Dim.Render(utils.Truncate(utils.SingleLine(ex), 70)))
		}
	}
	if len(l) == 0 {
		b.WriteString("  no proposals\n")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseStatusFilter maps "all" and "" to no filter.
func parseStatusFilter(s string) (db.ProposalStatus, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "all" {
		return "", nil
	}
	status := db.ProposalStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("invalid status %q (use pending, accepted, rejected or all)", s)
	}
	return status, nil
}

var mineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		status, err := parseStatusFilter(flagMineListStatus)
		if err != nil {
			return err
		}
		database, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer database.Close()

		proposals, err := database.ListProposals(cmd.Context(), status)
		if err != nil {
			return err
		}
		if proposals == nil {
			proposals = []*db.Proposal{}
		}
		return out.Write(proposalList(proposals))
	},
}

var mineReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review proposals interactively",
	Long: `Open the interactive reviewer.

Key bindings:
  up/down (j/k)  Move
  a              Accept
  r              Reject
  p              Back to pending
  f              Cycle the status filter
  q              Quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := parseStatusFilter(flagMineReviewStatus)
		if err != nil {
			return err
		}
		database, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := tui.Run(cmd.Context(), database, tui.Options{Status: status, Theme: flagMineTheme}); err != nil {
			return fmt.Errorf("review: %w", err)
		}
		return nil
	},
}

var mineAcceptCmd = &cobra.Command{
	Use:   "accept <id>...",
	Short: "Mark proposals accepted",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setProposalStatus(cmd, args, db.ProposalAccepted)
	},
}

var mineRejectCmd = &cobra.Command{
	Use:   "reject <id>...",
	Short: "Mark proposals rejected",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setProposalStatus(cmd, args, db.ProposalRejected)
	},
}

func setProposalStatus(cmd *cobra.Command, ids []string, status db.ProposalStatus) error {
	out, err := newWriter(cmd)
	if err != nil {
		return err
	}
	database, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	updated := make([]*db.Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := resolveProposal(cmd, database, id)
		if err != nil {
			return err
		}
		if err := database.SetProposalStatus(ctx, p.ID, status); err != nil {
			return fmt.Errorf("proposal %s: %w", id, err)
		}
		p.Status = status
		updated = append(updated, p)
	}
	return out.Write(proposalList(updated))
}

// resolveProposal finds a proposal by full ID or unique ID prefix.
func resolveProposal(cmd *cobra.Command, database *db.DB, id string) (*db.Proposal, error) {
	if p, err := database.GetProposal(cmd.Context(), id); err == nil {
		return p, nil
	}
	all, err := database.ListProposals(cmd.Context(), "")
	if err != nil {
		return nil, err
	}
	var match *db.Proposal
	for _, p := range all {
		if strings.HasPrefix(p.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("proposal id %q is ambiguous", id)
			}
			match = p
		}
	}
	if match == nil {
		return nil, fmt.Errorf("proposal %s: %w", id, db.ErrNotFound)
	}
	return match, nil
}

type exportView struct {
	Permissions miner.Permissions `json:"permissions"`
}

func (v exportView) Text(_ *output.Styles) string {
	var b strings.Builder
	for _, r := range v.Permissions.Deny {
		fmt.Fprintf(&b, "deny  %s\n", r)
	}
	for _, r := range v.Permissions.Allow {
		fmt.Fprintf(&b, "allow %s\n", r)
	}
	return b.String()
}

var mineExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print proposals as an agent settings permissions block",
	Long: `Print proposals as a permissions block for .claude/settings.json.
Nothing is written; copy the rules you want into your settings.
  permgate mine export -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		status, err := parseStatusFilter(flagMineExportStatus)
		if err != nil {
			return err
		}
		database, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer database.Close()

		proposals, err := database.ListProposals(cmd.Context(), status)
		if err != nil {
			return err
		}
		return out.Write(exportView{Permissions: miner.Export(proposals)})
	},
}

func openConfiguredDB() (*db.DB, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openDB(cfg)
}
