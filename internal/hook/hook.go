// Package hook is the PreToolUse call site: it decodes the agent's event,
// authorizes the tool call and prints the permission decision.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/permgate/internal/config"
	"github.com/Dicklesworthstone/permgate/internal/core"
	"github.com/Dicklesworthstone/permgate/internal/db"
	"github.com/Dicklesworthstone/permgate/internal/git"
	"github.com/Dicklesworthstone/permgate/internal/rules"
	"github.com/Dicklesworthstone/permgate/internal/tool"
)

// EventName is the only hook event handled.
const EventName = "PreToolUse"

// Event is the JSON object the agent writes to the hook's stdin.
type Event struct {
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	Cwd            string          `json:"cwd"`
	HookEventName  string          `json:"hook_event_name"`
	ToolName       string          `json:"tool_name"`
	ToolInput      json.RawMessage `json:"tool_input"`
}

// Output is the JSON object printed for allow, deny and ask.
type Output struct {
	HookSpecificOutput SpecificOutput `json:"hookSpecificOutput"`
}

// SpecificOutput carries the decision.
type SpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason"`
}

// Decision is the outcome of one hook invocation.
type Decision struct {
	Tool     string        `json:"tool"`
	Subject  string        `json:"subject"`
	Root     string        `json:"root"`
	Verdict  core.Verdict  `json:"decision"`
	Reason   string        `json:"reason"`
	Rule     string        `json:"rule,omitempty"`
	Duration time.Duration `json:"-"`
}

// Output returns the printed form of d. ok is false for pass, which prints
// nothing so the agent's own permission flow decides.
func (d Decision) Output() (Output, bool) {
	if d.Verdict == core.VerdictPass {
		return Output{}, false
	}
	return Output{HookSpecificOutput: SpecificOutput{
		HookEventName:            EventName,
		PermissionDecision:       string(d.Verdict),
		PermissionDecisionReason: "permgate: " + d.Reason,
	}}, true
}

// AuditSink receives every decision. Failures are logged, never fatal.
type AuditSink interface {
	Record(ctx context.Context, d db.Decision) error
}

// DBSink records decisions in the permgate database.
type DBSink struct {
	DB *db.DB
}

// Record implements AuditSink.
func (s DBSink) Record(ctx context.Context, d db.Decision) error {
	return s.DB.RecordDecision(ctx, &d)
}

// RuleSource yields the rule snapshot for a project.
type RuleSource interface {
	Rules(ctx context.Context, projectDir string) (config.RuleSnapshot, error)
}

// RuleSourceFunc adapts a function to RuleSource.
type RuleSourceFunc func(ctx context.Context, projectDir string) (config.RuleSnapshot, error)

// Rules implements RuleSource.
func (f RuleSourceFunc) Rules(ctx context.Context, projectDir string) (config.RuleSnapshot, error) {
	return f(ctx, projectDir)
}

// ConfigRules loads rules from the agent settings and permgate config.
func ConfigRules(cfg config.Config) RuleSource {
	return RuleSourceFunc(func(ctx context.Context, projectDir string) (config.RuleSnapshot, error) {
		return config.LoadRules(ctx, cfg, projectDir)
	})
}

// Handler authorizes hook events.
type Handler struct {
	cfg    config.Config
	rules  RuleSource
	sink   AuditSink
	logger *log.Logger
	engine func(root string) *core.Engine
}

// Option configures a Handler.
type Option func(*Handler)

// WithRules replaces the rule source.
func WithRules(src RuleSource) Option {
	return func(h *Handler) { h.rules = src }
}

// WithSink sets the audit sink. Without one nothing is recorded.
func WithSink(s AuditSink) Option {
	return func(h *Handler) { h.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a handler for cfg.
func NewHandler(cfg config.Config, opts ...Option) *Handler {
	h := &Handler{
		cfg:    cfg,
		logger: log.Default().WithPrefix("hook"),
		engine: func(root string) *core.Engine { return core.NewEngine(core.WithRoot(root)) },
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.rules == nil {
		h.rules = ConfigRules(cfg)
	}
	return h
}

// Run reads one event from r, writes the decision to w and audits it.
// Malformed input is answered with ask rather than an error.
func (h *Handler) Run(ctx context.Context, r io.Reader, w io.Writer) (Decision, error) {
	var ev Event
	dec := json.NewDecoder(r)
	if err := dec.Decode(&ev); err != nil {
		h.logger.Warn("invalid hook input", "error", err)
		d := Decision{Verdict: core.VerdictAsk, Reason: "invalid hook input"}
		return d, write(w, d)
	}
	d := h.Decide(ctx, ev)
	if err := write(w, d); err != nil {
		return d, err
	}
	h.audit(ctx, ev, d)
	return d, nil
}

func write(w io.Writer, d Decision) error {
	out, ok := d.Output()
	if !ok {
		return nil
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("write hook output: %w", err)
	}
	return nil
}

// Decide authorizes ev.
func (h *Handler) Decide(ctx context.Context, ev Event) Decision {
	start := time.Now()
	d := h.decide(ctx, ev)
	d.Duration = time.Since(start)
	h.logger.Debug("decided", "tool", d.Tool, "decision", d.Verdict, "reason", d.Reason, "took", d.Duration)
	return d
}

func (h *Handler) decide(ctx context.Context, ev Event) Decision {
	d := Decision{Tool: ev.ToolName}
	if ev.HookEventName != "" && ev.HookEventName != EventName {
		d.Verdict, d.Reason = core.VerdictPass, "not a "+EventName+" event"
		return d
	}
	in, err := tool.Decode(ev.ToolName, ev.ToolInput)
	if err != nil {
		d.Verdict, d.Reason = core.VerdictAsk, err.Error()
		return d
	}

	d.Root = h.root(ctx, ev.Cwd)
	snap, err := h.rules.Rules(ctx, d.Root)
	if err != nil {
		// Unreadable sources contribute no rules; the snapshot is still valid.
		h.logger.Warn("rule sources unavailable", "error", err)
	}
	engine := h.engine(d.Root)

	if cmd, ok := tool.Command(in); ok {
		d.Subject = cmd
		res := engine.Authorize(cmd, snap.Allow, snap.Deny)
		d.Verdict, d.Reason = res.Decision, res.Reason
		d.Rule = firstRule(res)
		return d
	}

	p, ok := tool.Path(in)
	if !ok && rules.IsFileTool(ev.ToolName) {
		switch in.(type) {
		case tool.Glob, tool.Grep, tool.LS:
			// These default to the working directory.
			p = "."
		default:
			d.Verdict, d.Reason = core.VerdictAsk, ev.ToolName+" input has no path"
			return d
		}
	}
	d.Subject = p
	res := engine.AuthorizePath(ev.ToolName, p, snap.Allow, snap.Deny)
	d.Verdict, d.Reason = res.Decision, res.Reason
	return d
}

func firstRule(res core.Result) string {
	for _, c := range res.Commands {
		if c.Rule != "" && c.Verdict == res.Decision {
			return c.Rule
		}
	}
	return ""
}

func (h *Handler) root(ctx context.Context, cwd string) string {
	if root := strings.TrimSpace(h.cfg.General.Root); root != "" {
		return config.ExpandHome(root)
	}
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}
	timeout := time.Duration(h.cfg.General.GitTimeoutMs) * time.Millisecond
	return git.RepoRoot(ctx, cwd, timeout)
}

func (h *Handler) audit(ctx context.Context, ev Event, d Decision) {
	if h.sink == nil {
		return
	}
	rec := db.Decision{
		SessionID: ev.SessionID,
		Tool:      d.Tool,
		Decision:  string(d.Verdict),
		Reason:    d.Reason,
		Subject:   d.Subject,
		Cwd:       ev.Cwd,
		Rule:      d.Rule,
	}
	if rec.Tool == "" {
		return
	}
	if err := h.sink.Record(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("audit record failed", "error", err)
	}
}
