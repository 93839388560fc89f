package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Dicklesworthstone/permgate/internal/db"
)

// DecisionOption customizes a test decision.
type DecisionOption func(*db.Decision)

// MakeDecision inserts an audit decision. Defaults to an allowed
// "echo test" Bash call.
func MakeDecision(t *testing.T, database *db.DB, opts ...DecisionOption) *db.Decision {
	t.Helper()

	d := &db.Decision{
		Tool:      "Bash",
		Decision:  "allow",
		Subject:   "echo test",
		SessionID: "sess-test",
	}
	for _, opt := range opts {
		opt(d)
	}
	RequireNoError(t, database.RecordDecision(context.Background(), d), "record decision")
	return d
}

// WithTool sets the tool name.
func WithTool(tool string) DecisionOption {
	return func(d *db.Decision) { d.Tool = tool }
}

// WithSubject sets the command line or path.
func WithSubject(subject string) DecisionOption {
	return func(d *db.Decision) { d.Subject = subject }
}

// WithVerdict sets the decision string.
func WithVerdict(v string) DecisionOption {
	return func(d *db.Decision) { d.Decision = v }
}

// WithCreatedAt overrides the timestamp.
func WithCreatedAt(ts time.Time) DecisionOption {
	return func(d *db.Decision) { d.CreatedAt = ts }
}

// MakeDecisions inserts one decision per subject for tool with verdict.
func MakeDecisions(t *testing.T, database *db.DB, tool, verdict string, subjects ...string) {
	t.Helper()
	for _, s := range subjects {
		MakeDecision(t, database, WithTool(tool), WithVerdict(verdict), WithSubject(s))
	}
}
