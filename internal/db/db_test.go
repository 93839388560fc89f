package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dicklesworthstone/permgate/internal/db"
	"github.com/Dicklesworthstone/permgate/internal/testutil"
)

func TestOpenAndMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "permgate.db")
	d, err := db.OpenAndMigrate(path)
	testutil.RequireNoError(t, err, "first open")
	v, err := d.SchemaVersion(context.Background())
	testutil.RequireNoError(t, err, "schema version")
	testutil.RequireEqual(t, 2, v, "schema version")
	testutil.RequireNoError(t, d.Close(), "close")

	d, err = db.OpenAndMigrate(path)
	testutil.RequireNoError(t, err, "reopen")
	defer d.Close()
	v, err = d.SchemaVersion(context.Background())
	testutil.RequireNoError(t, err, "schema version")
	testutil.RequireEqual(t, 2, v, "schema version after reopen")
	testutil.RequireEqual(t, path, d.Path(), "path")
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := db.Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestDecisions(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewTestDB(t)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []*db.Decision{
		{Tool: "Bash", Decision: "allow", Subject: "git status", CreatedAt: base},
		{Tool: "Bash", Decision: "ask", Subject: "npm install", CreatedAt: base.Add(500 * time.Millisecond)},
		{Tool: "Edit", Decision: "allow", Subject: "src/a.ts", CreatedAt: base.Add(time.Second)},
	}
	for _, r := range records {
		testutil.RequireNoError(t, database.RecordDecision(ctx, r), "RecordDecision")
		if r.ID == "" {
			t.Fatal("RecordDecision did not assign an ID")
		}
	}

	all, err := database.ListDecisions(ctx, db.DecisionFilter{})
	testutil.RequireNoError(t, err, "ListDecisions")
	testutil.RequireLen(t, all, 3, "all decisions")
	testutil.RequireEqual(t, "git status", all[0].Subject, "oldest first")
	testutil.RequireEqual(t, "npm install", all[1].Subject, "sub-second ordering")

	bash, err := database.ListDecisions(ctx, db.DecisionFilter{Tool: "Bash", Decision: "allow"})
	testutil.RequireNoError(t, err, "ListDecisions filtered")
	testutil.RequireLen(t, bash, 1, "bash allow decisions")

	recent, err := database.ListDecisions(ctx, db.DecisionFilter{Since: base.Add(time.Second), Limit: 10})
	testutil.RequireNoError(t, err, "ListDecisions since")
	testutil.RequireLen(t, recent, 1, "recent decisions")

	got, err := database.GetDecision(ctx, records[2].ID)
	testutil.RequireNoError(t, err, "GetDecision")
	testutil.RequireEqual(t, "src/a.ts", got.Subject, "subject")
	if !got.CreatedAt.Equal(records[2].CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, records[2].CreatedAt)
	}

	if _, err := database.GetDecision(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("GetDecision(missing) err = %v, want ErrNotFound", err)
	}
	if err := database.RecordDecision(ctx, &db.Decision{ID: records[0].ID, Tool: "Bash", Decision: "allow"}); !errors.Is(err, db.ErrDuplicateID) {
		t.Errorf("duplicate id err = %v", err)
	}
	if err := database.RecordDecision(ctx, &db.Decision{Decision: "allow"}); err == nil {
		t.Error("expected error for missing tool")
	}

	n, err := database.PruneDecisions(ctx, base.Add(time.Second))
	testutil.RequireNoError(t, err, "PruneDecisions")
	testutil.RequireEqual(t, int64(2), n, "pruned")
}

func TestProposals(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewTestDB(t)

	p := &db.Proposal{Rule: "Bash(git diff:*)", List: "allow", Tool: "Bash", Count: 3, Confidence: 0.7, Examples: []string{"git diff --stat"}}
	testutil.RequireNoError(t, database.UpsertProposal(ctx, p), "UpsertProposal")
	testutil.RequireEqual(t, db.ProposalPending, p.Status, "initial status")
	firstID := p.ID

	testutil.RequireNoError(t, database.SetProposalStatus(ctx, p.ID, db.ProposalAccepted), "SetProposalStatus")

	again := &db.Proposal{Rule: "Bash(git diff:*)", List: "allow", Tool: "Bash", Count: 5, Confidence: 0.8}
	testutil.RequireNoError(t, database.UpsertProposal(ctx, again), "UpsertProposal again")
	testutil.RequireEqual(t, firstID, again.ID, "upsert keeps id")
	testutil.RequireEqual(t, 5, again.Count, "count refreshed")
	testutil.RequireEqual(t, db.ProposalAccepted, again.Status, "review kept")

	other := &db.Proposal{Rule: "Edit(src/**)", List: "allow", Tool: "Edit", Count: 4, Confidence: 0.9}
	testutil.RequireNoError(t, database.UpsertProposal(ctx, other), "UpsertProposal other")

	pending, err := database.ListProposals(ctx, db.ProposalPending)
	testutil.RequireNoError(t, err, "ListProposals pending")
	testutil.RequireLen(t, pending, 1, "pending proposals")
	testutil.RequireEqual(t, "Edit(src/**)", pending[0].Rule, "pending rule")

	all, err := database.ListProposals(ctx, "")
	testutil.RequireNoError(t, err, "ListProposals all")
	testutil.RequireLen(t, all, 2, "all proposals")
	testutil.RequireEqual(t, "Edit(src/**)", all[0].Rule, "most confident first")

	if err := database.SetProposalStatus(ctx, "missing", db.ProposalRejected); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("SetProposalStatus(missing) err = %v", err)
	}
	if err := database.SetProposalStatus(ctx, other.ID, "maybe"); err == nil {
		t.Error("expected invalid status error")
	}
	if err := database.UpsertProposal(ctx, &db.Proposal{Rule: "x", List: "sometimes"}); err == nil {
		t.Error("expected invalid list error")
	}
	if _, err := database.GetProposal(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("GetProposal(missing) err = %v", err)
	}
}
