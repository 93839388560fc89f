// Package rules implements the permission rule grammar: Bash command-prefix
// rules, gitignore-style path rules for file tools, and bare tool rules.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRule is wrapped by every grammar error. Invalid rules never match.
var ErrInvalidRule = errors.New("invalid rule")

// Kind is the rule kind.
type Kind int

const (
	// KindTool is a bare tool name such as "Glob". It matches every use of
	// the tool.
	KindTool Kind = iota
	// KindCommand is a Bash(prefix) or Bash(prefix:*) rule.
	KindCommand
	// KindPath is a gitignore-style path rule for a file tool.
	KindPath
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTool:
		return "tool"
	case KindCommand:
		return "command"
	case KindPath:
		return "path"
	default:
		return "unknown"
	}
}

// BashTool is the tool whose rules carry command prefixes.
const BashTool = "Bash"

// editTools share Edit(...) rules.
var editTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// readTools share Read(...) rules.
var readTools = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"LS":           true,
	"NotebookRead": true,
}

// IsFileTool reports whether tool takes a file path.
func IsFileTool(tool string) bool {
	return editTools[tool] || readTools[tool]
}

// Names may carry MCP namespaces: mcp__server__tool.
var ruleRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)(?:\((.*)\))?$`)

// Rule is one parsed permission rule. The zero value never matches.
type Rule struct {
	// Raw is the rule as written.
	Raw string `json:"raw"`
	// Tool is the tool name before the parenthesis.
	Tool string `json:"tool"`
	// Payload is the text between the parentheses, empty for tool rules.
	Payload string `json:"payload,omitempty"`
	Kind    Kind   `json:"-"`
	// Err is set for invalid rules.
	Err error `json:"-"`

	cmd  *commandPattern
	path *pathPattern
}

// Valid reports whether the rule parsed.
func (r Rule) Valid() bool {
	return r.Err == nil && r.Tool != ""
}

// String returns the rule as written.
func (r Rule) String() string {
	return r.Raw
}

// ParseRule parses "Tool", "Tool(payload)", "Bash(prefix)" or
// "Bash(prefix:*)". On error the returned Rule carries the error in Err and
// never matches.
func ParseRule(s string) (Rule, error) {
	raw := s
	s = strings.TrimSpace(s)
	r := Rule{Raw: raw}

	m := ruleRe.FindStringSubmatch(s)
	if m == nil {
		r.Err = fmt.Errorf("%w: %q: expected Tool or Tool(pattern)", ErrInvalidRule, raw)
		return r, r.Err
	}
	r.Tool = m[1]
	hasParens := strings.HasSuffix(s, ")") && strings.Contains(s, "(")
	if !hasParens {
		r.Kind = KindTool
		return r, nil
	}

	r.Payload = strings.TrimSpace(m[2])
	if r.Payload == "" {
		r.Err = fmt.Errorf("%w: %q: empty pattern", ErrInvalidRule, raw)
		return r, r.Err
	}

	var err error
	if r.Tool == BashTool {
		r.Kind = KindCommand
		r.cmd, err = compileCommandPattern(r.Payload)
	} else {
		r.Kind = KindPath
		r.path, err = compilePathPattern(r.Payload)
	}
	if err != nil {
		r.Err = fmt.Errorf("%w: %q: %v", ErrInvalidRule, raw, err)
		return r, r.Err
	}
	return r, nil
}

// MustParse parses s and panics on error. For rule tables built into the
// binary and tests.
func MustParse(s string) Rule {
	r, err := ParseRule(s)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseAll parses every rule in specs, keeping invalid rules (which never
// match) and returning their errors.
func ParseAll(specs []string) ([]Rule, []error) {
	out := make([]Rule, 0, len(specs))
	var errs []error
	for _, s := range specs {
		r, err := ParseRule(s)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, r)
	}
	return out, errs
}

// AppliesTo reports whether the rule governs uses of tool. Edit rules also
// cover Write, MultiEdit and NotebookEdit; Read rules cover Glob, Grep and LS.
func (r Rule) AppliesTo(tool string) bool {
	if !r.Valid() || tool == "" {
		return false
	}
	switch {
	case r.Tool == tool:
		return true
	case r.Tool == "Edit":
		return editTools[tool]
	case r.Tool == "Read":
		return readTools[tool]
	}
	return false
}

// MatchCommand reports whether a Bash rule matches the command text.
func (r Rule) MatchCommand(cmd string) bool {
	if !r.Valid() || r.Tool != BashTool {
		return false
	}
	if r.Kind == KindTool {
		return true
	}
	return r.cmd.match(cmd)
}

// MatchPath reports whether the rule matches tool operating on p. root is the
// directory relative paths and anchored patterns are resolved against.
func (r Rule) MatchPath(tool, p, root string) bool {
	if !r.AppliesTo(tool) || r.Tool == BashTool {
		return false
	}
	if r.Kind == KindTool {
		return true
	}
	return r.path.match(p, root)
}

// Negated reports whether the rule is a "!pattern" path rule.
func (r Rule) Negated() bool {
	return r.path != nil && r.path.negated
}
