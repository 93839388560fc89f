package core

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Dicklesworthstone/permgate/internal/rules"
	"github.com/Dicklesworthstone/permgate/internal/shell"
)

// Engine authorizes command lines and file operations against ordered
// allow/deny rule lists. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	detector *Detector
	root     string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRoot sets the directory relative paths and anchored path patterns are
// resolved against. Defaults to the working directory.
func WithRoot(root string) Option {
	return func(e *Engine) { e.root = root }
}

// WithDetector replaces the built-in dangerous-command detector.
func WithDetector(d *Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.detector == nil {
		e.detector = NewDetector()
	}
	if e.root == "" {
		if wd, err := os.Getwd(); err == nil {
			e.root = wd
		}
	}
	return e
}

// Root returns the path root.
func (e *Engine) Root() string { return e.root }

// Detector returns the engine's detector.
func (e *Engine) Detector() *Detector { return e.detector }

// Authorize decides whether commandLine may run.
func (e *Engine) Authorize(commandLine string, allow, deny []string) Result {
	if line := e.detector.ClassifyLine(commandLine); line.Matched() {
		v := VerdictAsk
		if line.Severity == SeverityDeny {
			v = VerdictDeny
		}
		return Result{Decision: v, Reason: line.Reason, Line: &line}
	}

	dec := shell.Decompose(commandLine, shell.WithKeywords())
	allowSet, denySet := rules.NewRuleSet(allow), rules.NewRuleSet(deny)
	res := Result{Tier: dec.Tier.String(), Uncertain: dec.Uncertain}

	for _, c := range dec.Commands {
		v := e.verdict(c, allowSet, denySet)
		res.Commands = append(res.Commands, v)
		if v.Verdict == VerdictAsk {
			break
		}
	}

	res.Decision, res.Reason = Aggregate(res.Commands, configured(allowSet, denySet))
	if dec.Uncertain && (res.Decision == VerdictAllow || res.Decision == VerdictPass) {
		res.Decision = VerdictAsk
		res.Reason = "command line could not be split with confidence"
	}
	return res
}

func (e *Engine) verdict(c shell.SimpleCommand, allow, deny *rules.RuleSet) CommandVerdict {
	cv := CommandVerdict{Command: c}
	if c.IsKeyword() {
		cv.Verdict, cv.Reason = VerdictSkip, "control keyword"
		return cv
	}
	if det := e.detector.ClassifyCommand(c); det.Matched() {
		cv.Detection = &det
		cv.Reason = det.Reason
		if det.Severity == SeverityDeny {
			cv.Verdict = VerdictDeny
		} else {
			cv.Verdict = VerdictAsk
		}
		return cv
	}
	text := ruleText(c)
	if r, ok := deny.MatchCommand(text); ok {
		cv.Verdict, cv.Rule, cv.Reason = VerdictDeny, r.Raw, "deny rule "+r.Raw
		return cv
	}
	if r, ok := allow.MatchCommand(text); ok {
		cv.Verdict, cv.Rule, cv.Reason = VerdictAllow, r.Raw, "allow rule "+r.Raw
		return cv
	}
	cv.Verdict = VerdictPass
	return cv
}

// ruleText is the text rules see for c. Commands unwrapped from sudo get the
// prefix back, so a rule for the bare program does not cover them.
func ruleText(c shell.SimpleCommand) string {
	if c.Sudo && !strings.HasPrefix(c.Raw, "sudo ") {
		return "sudo " + c.Raw
	}
	return c.Raw
}

// AuthorizePath decides whether tool may operate on path, using the rules
// only. An empty tool name is a programming error and panics.
func (e *Engine) AuthorizePath(tool, path string, allow, deny []string) Result {
	if tool == "" {
		panic("core: AuthorizePath called with empty tool name")
	}
	allowSet, denySet := rules.NewRuleSet(allow), rules.NewRuleSet(deny)
	if r, ok := denySet.MatchDenyPath(tool, path, e.root); ok {
		return Result{Decision: VerdictDeny, Reason: fmt.Sprintf("%s %s: deny rule %s", tool, path, r.Raw)}
	}
	if r, ok := allowSet.MatchPath(tool, path, e.root); ok {
		return Result{Decision: VerdictAllow, Reason: fmt.Sprintf("%s %s: allow rule %s", tool, path, r.Raw)}
	}
	if rules.HasTraversal(path) {
		return Result{Decision: VerdictAsk, Reason: fmt.Sprintf("%s %s: path traverses upwards", tool, path)}
	}
	if !configured(allowSet, denySet) {
		return Result{Decision: VerdictAsk, Reason: "no rules configured"}
	}
	return Result{Decision: VerdictPass, Reason: fmt.Sprintf("no rule matched %s %s", tool, path)}
}

// configured reports whether at least one valid rule exists.
func configured(sets ...*rules.RuleSet) bool {
	for _, rs := range sets {
		if rs.Len() > len(rs.Errors()) {
			return true
		}
	}
	return false
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// Default returns the shared engine rooted at the working directory.
func Default() *Engine {
	defaultEngineOnce.Do(func() { defaultEngine = NewEngine() })
	return defaultEngine
}

// Authorize uses the default engine.
func Authorize(commandLine string, allow, deny []string) Result {
	return Default().Authorize(commandLine, allow, deny)
}

// AuthorizePath uses the default engine.
func AuthorizePath(tool, path string, allow, deny []string) Result {
	return Default().AuthorizePath(tool, path, allow, deny)
}
