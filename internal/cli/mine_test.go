package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/permgate/internal/db"
	"github.com/Dicklesworthstone/permgate/internal/miner"
	"github.com/Dicklesworthstone/permgate/internal/testutil"
)

func mineArgs(h *testutil.Harness, args ...string) []string {
	return append([]string{"mine"}, append(args, "-C", h.ProjectDir, "--root", h.ProjectDir, "--db", h.DBPath)...)
}

func TestMine_RunListAcceptExport(t *testing.T) {
	h := testutil.NewHarness(t)
	testutil.MakeDecisions(t, h.DB, "Bash", "ask", "git diff --stat", "git diff", "git diff HEAD~1")
	testutil.MakeDecisions(t, h.DB, "Bash", "allow", "ls", "ls", "ls")

	stdout, _, err := executeCommand(t, mineArgs(h, "run", "-j")...)
	testutil.RequireNoError(t, err, "mine run")
	var report miner.Report
	decodeJSON(t, stdout, &report)
	testutil.RequireEqual(t, 3, report.Decisions, "decisions mined")
	testutil.RequireLen(t, report.Proposals, 1, "proposals")
	testutil.RequireEqual(t, "Bash(git diff:*)", report.Proposals[0].Rule, "rule")

	stdout, _, err = executeCommand(t, mineArgs(h, "list", "-j")...)
	testutil.RequireNoError(t, err, "mine list")
	var pending []*db.Proposal
	decodeJSON(t, stdout, &pending)
	testutil.RequireLen(t, pending, 1, "pending proposals")
	id := pending[0].ID

	_, _, err = executeCommand(t, mineArgs(h, "accept", shortID(id))...)
	testutil.RequireNoError(t, err, "mine accept")

	stored, err := h.DB.GetProposal(context.Background(), id)
	testutil.RequireNoError(t, err, "GetProposal")
	testutil.RequireEqual(t, db.ProposalAccepted, stored.Status, "status")

	stdout, _, err = executeCommand(t, mineArgs(h, "export", "-j")...)
	testutil.RequireNoError(t, err, "mine export")
	var exported struct {
		Permissions miner.Permissions `json:"permissions"`
	}
	decodeJSON(t, stdout, &exported)
	testutil.RequireEqual(t, "Bash(git diff:*)", strings.Join(exported.Permissions.Allow, ","), "exported allow")
	testutil.RequireLen(t, exported.Permissions.Deny, 0, "exported deny")
}

func TestMine_RunRespectsThresholdFlags(t *testing.T) {
	h := testutil.NewHarness(t)
	testutil.MakeDecisions(t, h.DB, "Bash", "ask", "cat a.txt")

	stdout, _, err := executeCommand(t, mineArgs(h, "run", "-j")...)
	testutil.RequireNoError(t, err, "mine run")
	var report miner.Report
	decodeJSON(t, stdout, &report)
	testutil.RequireLen(t, report.Proposals, 0, "below default min count")

	stdout, _, err = executeCommand(t, mineArgs(h, "run", "-j", "--min-count", "1", "--min-confidence", "0.01")...)
	testutil.RequireNoError(t, err, "mine run")
	decodeJSON(t, stdout, &report)
	testutil.RequireLen(t, report.Proposals, 1, "with lowered thresholds")
}

func TestMine_Reject(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	p := &db.Proposal{Rule: "Bash(make:*)", List: "allow", Tool: "Bash", Count: 4, Confidence: 0.8}
	testutil.RequireNoError(t, h.DB.UpsertProposal(ctx, p), "UpsertProposal")

	stdout, _, err := executeCommand(t, mineArgs(h, "reject", p.ID)...)
	testutil.RequireNoError(t, err, "mine reject")
	if !strings.Contains(stdout, "Bash(make:*)") {
		t.Errorf("expected the rejected rule in output, got %q", stdout)
	}

	stored, err := h.DB.GetProposal(ctx, p.ID)
	testutil.RequireNoError(t, err, "GetProposal")
	testutil.RequireEqual(t, db.ProposalRejected, stored.Status, "status")

	stdout, _, err = executeCommand(t, mineArgs(h, "list")...)
	testutil.RequireNoError(t, err, "mine list")
	if !strings.Contains(stdout, "no proposals") {
		t.Errorf("rejected proposal should not be pending, got %q", stdout)
	}
}

func TestMine_AcceptUnknownID(t *testing.T) {
	h := testutil.NewHarness(t)
	_, _, err := executeCommand(t, mineArgs(h, "accept", "nope")...)
	if err == nil {
		t.Fatal("expected an error for an unknown proposal")
	}
}

func TestMine_ListInvalidStatus(t *testing.T) {
	h := testutil.NewHarness(t)
	_, _, err := executeCommand(t, mineArgs(h, "list", "--status", "maybe")...)
	if err == nil || !strings.Contains(err.Error(), "invalid status") {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}

func TestParseStatusFilter(t *testing.T) {
	for _, s := range []string{"", "all", " ALL "} {
		got, err := parseStatusFilter(s)
		testutil.RequireNoError(t, err, "parseStatusFilter")
		testutil.RequireEqual(t, db.ProposalStatus(""), got, "no filter for "+s)
	}
	got, err := parseStatusFilter("Accepted")
	testutil.RequireNoError(t, err, "parseStatusFilter")
	testutil.RequireEqual(t, db.ProposalAccepted, got, "accepted")
}
