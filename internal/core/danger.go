// Package core classifies dangerous commands and aggregates per-command
// verdicts into one authorization decision.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/Dicklesworthstone/permgate/internal/shell"
)

// Severity is the detector's classification.
type Severity int

const (
	// SeverityNone means no signature matched.
	SeverityNone Severity = iota
	// SeverityReview means a human has to look at the command.
	SeverityReview
	// SeverityDeny means the command must not run.
	SeverityDeny
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityReview:
		return "review"
	case SeverityDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Scope says what text a signature inspects.
type Scope int

const (
	// ScopeCommand signatures see one simple command.
	ScopeCommand Scope = iota
	// ScopeLine signatures see the whole input line, for shapes that span
	// several commands such as curl ... | sh.
	ScopeLine
)

// String returns the scope name.
func (s Scope) String() string {
	if s == ScopeLine {
		return "line"
	}
	return "command"
}

// Subject is the text a matcher inspects.
type Subject struct {
	// Raw is the command (or line) as written.
	Raw string
	// Words is the argv that actually runs: leading assignments, prefix
	// wrappers and sudo removed.
	Words []string
	// Sudo is set when the command was prefixed with sudo.
	Sudo bool
}

// Text returns Words joined by spaces.
func (s Subject) Text() string {
	return strings.Join(s.Words, " ")
}

// Program returns the base name of the program, or "".
func (s Subject) Program() string {
	if len(s.Words) == 0 {
		return ""
	}
	return filepath.Base(s.Words[0])
}

// NewSubject splits raw into a Subject.
func NewSubject(raw string) Subject {
	words, err := shellwords.Parse(raw)
	if err != nil {
		words = strings.Fields(raw)
	}
	s := Subject{Raw: raw}
	s.Words, s.Sudo = shell.StripSudo(words)
	return s
}

// Matcher decides whether a signature applies to a subject.
type Matcher interface {
	Match(s Subject) bool
	// String describes the matcher for audit output.
	String() string
}

// RegexMatcher matches a compiled expression, optionally vetoed by an
// exclusion expression.
type RegexMatcher struct {
	Pattern *regexp.Regexp
	Except  *regexp.Regexp
	// OnRaw matches Subject.Raw instead of Subject.Text().
	OnRaw bool
}

// Match implements Matcher.
func (m RegexMatcher) Match(s Subject) bool {
	text := s.Text()
	if m.OnRaw {
		text = s.Raw
	}
	if !m.Pattern.MatchString(text) {
		return false
	}
	return m.Except == nil || !m.Except.MatchString(text)
}

func (m RegexMatcher) String() string {
	if m.Except != nil {
		return fmt.Sprintf("%s (except %s)", m.Pattern, m.Except)
	}
	return m.Pattern.String()
}

// FuncMatcher matches with a token-level predicate.
type FuncMatcher struct {
	Fn   func(s Subject) bool
	Desc string
}

// Match implements Matcher.
func (m FuncMatcher) Match(s Subject) bool { return m.Fn(s) }

func (m FuncMatcher) String() string { return m.Desc }

// Signature is one entry of the detector table.
type Signature struct {
	ID       string
	Category string
	Severity Severity
	Scope    Scope
	Matcher  Matcher
	Reason   string
}

// Detection is the detector's answer for one command or line.
type Detection struct {
	Severity  Severity `json:"severity"`
	Signature string   `json:"signature,omitempty"`
	Category  string   `json:"category,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Matched reports whether a signature fired.
func (d Detection) Matched() bool { return d.Severity != SeverityNone }

// Detector evaluates an ordered signature table; the first match wins. It is
// stateless and safe for concurrent use.
type Detector struct {
	sigs []Signature
}

// NewDetector returns a detector with the built-in table.
func NewDetector() *Detector {
	return &Detector{sigs: builtinSignatures()}
}

// NewDetectorWith returns a detector with a custom table.
func NewDetectorWith(sigs []Signature) *Detector {
	return &Detector{sigs: append([]Signature(nil), sigs...)}
}

// Classify inspects one simple command's raw text.
func (d *Detector) Classify(raw string) Detection {
	return d.classify(ScopeCommand, raw, false)
}

// ClassifyCommand inspects one decomposed command. A command that runs under
// sudo is treated as sudo-prefixed even when its Raw text no longer shows it.
func (d *Detector) ClassifyCommand(c shell.SimpleCommand) Detection {
	return d.classify(ScopeCommand, c.Raw, c.Sudo)
}

// ClassifyLine inspects a whole command line with the line-scoped signatures.
func (d *Detector) ClassifyLine(line string) Detection {
	return d.classify(ScopeLine, line, false)
}

func (d *Detector) classify(scope Scope, raw string, sudo bool) Detection {
	if strings.TrimSpace(raw) == "" {
		return Detection{}
	}
	var (
		subj  Subject
		built bool
	)
	for i := range d.sigs {
		sig := &d.sigs[i]
		if sig.Scope != scope {
			continue
		}
		if !built {
			subj = NewSubject(raw)
			subj.Sudo = subj.Sudo || sudo
			built = true
		}
		if sig.Matcher.Match(subj) {
			return Detection{
				Severity:  sig.Severity,
				Signature: sig.ID,
				Category:  sig.Category,
				Reason:    sig.Reason,
			}
		}
	}
	return Detection{}
}

// Signatures returns a copy of the table in evaluation order.
func (d *Detector) Signatures() []Signature {
	return append([]Signature(nil), d.sigs...)
}

// SignatureInfo is the exported form of a Signature.
type SignatureInfo struct {
	ID       string `json:"id" yaml:"id"`
	Category string `json:"category" yaml:"category"`
	Severity string `json:"severity" yaml:"severity"`
	Scope    string `json:"scope" yaml:"scope"`
	Matcher  string `json:"matcher" yaml:"matcher"`
	Reason   string `json:"reason" yaml:"reason"`
}

// Export describes the table for audit output.
func (d *Detector) Export() []SignatureInfo {
	out := make([]SignatureInfo, 0, len(d.sigs))
	for _, s := range d.sigs {
		out = append(out, SignatureInfo{
			ID:       s.ID,
			Category: s.Category,
			Severity: s.Severity.String(),
			Scope:    s.Scope.String(),
			Matcher:  s.Matcher.String(),
			Reason:   s.Reason,
		})
	}
	return out
}

// Hash returns a deterministic digest of the table, for version tracking.
func (d *Detector) Hash() string {
	h := sha256.New()
	for _, s := range d.sigs {
		fmt.Fprintf(h, "%s|%s|%d|%d|%s\n", s.ID, s.Category, s.Severity, s.Scope, s.Matcher)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
