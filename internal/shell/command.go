// Package shell decomposes shell command lines into simple commands for
// security triage. It is not a shell parser: it aims to see every program a
// line could run, and to err on the side of seeing too much.
package shell

import (
	"strings"
)

// Origin records how a SimpleCommand was reached.
type Origin int

const (
	// OriginTopLevel is a command found by splitting the input itself.
	OriginTopLevel Origin = iota
	// OriginUnwrapped is a command recovered from a meta-command such as
	// `sh -c`, `xargs` or `timeout`.
	OriginUnwrapped
	// OriginControlBody is a command inside a for/while/until/if/case body
	// or condition.
	OriginControlBody
	// OriginSubstitution is a command inside $(...), backticks or <(...).
	OriginSubstitution
	// OriginKeyword marks a fragment made only of control keywords. Only
	// emitted when WithKeywords is set.
	OriginKeyword
)

// String returns the origin name used in output.
func (o Origin) String() string {
	switch o {
	case OriginTopLevel:
		return "top_level"
	case OriginUnwrapped:
		return "unwrapped"
	case OriginControlBody:
		return "control_body"
	case OriginSubstitution:
		return "substitution"
	case OriginKeyword:
		return "keyword"
	default:
		return "unknown"
	}
}

// Range is a half-open byte range [Start, End) into the original input.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SimpleCommand is one executable unit extracted from a command line.
type SimpleCommand struct {
	// Name is the program token. Empty for assignment-only or
	// redirection-only fragments.
	Name string `json:"name,omitempty"`
	// Args are the argument tokens with quotes removed.
	Args []string `json:"args,omitempty"`
	// Assignments are leading KEY=value tokens.
	Assignments []string `json:"assignments,omitempty"`
	// Redirections are raw redirection tokens with their target merged in
	// (">out.txt", "2>&1").
	Redirections []string `json:"redirections,omitempty"`
	// Range indexes into the text given to the top-level Decompose call.
	Range Range `json:"range"`
	// Origin tells how the command was reached.
	Origin Origin `json:"-"`
	// Raw is the text this record was derived from. Never empty.
	Raw string `json:"raw"`
	// Sudo is set when the command runs under sudo, directly or inside a
	// script sudo started.
	Sudo bool `json:"sudo,omitempty"`
}

// Words returns the name followed by the args.
func (c SimpleCommand) Words() []string {
	if c.Name == "" {
		return append([]string(nil), c.Args...)
	}
	return append([]string{c.Name}, c.Args...)
}

// Normalized returns the name and args joined by single spaces. Assignments
// and redirections are dropped.
func (c SimpleCommand) Normalized() string {
	return strings.Join(c.Words(), " ")
}

// IsKeyword reports whether the record stands for a bare control keyword.
func (c SimpleCommand) IsKeyword() bool {
	return c.Origin == OriginKeyword
}

// Tier identifies which decomposer produced a result.
type Tier int

const (
	// TierPrecise means the line parsed as bash.
	TierPrecise Tier = iota
	// TierLenient means the best-effort splitter was used.
	TierLenient
)

// String returns the tier name.
func (t Tier) String() string {
	if t == TierPrecise {
		return "precise"
	}
	return "lenient"
}

// Decomposition is the result of decomposing one command line.
type Decomposition struct {
	// Input is the original text.
	Input string
	// Commands are the extracted commands in left-to-right order.
	Commands []SimpleCommand
	// Tier is the decomposer that produced Commands.
	Tier Tier
	// Uncertain is set when the lenient tier met constructs it could not
	// close (unbalanced quotes, unterminated substitutions). Callers should
	// escalate rather than trust the split.
	Uncertain bool
	// ParseError holds the precise tier's error when the lenient tier was used.
	ParseError string
}

// controlKeywords have no security meaning on their own.
var controlKeywords = map[string]bool{
	"for":   true,
	"do":    true,
	"done":  true,
	"if":    true,
	"then":  true,
	"else":  true,
	"elif":  true,
	"fi":    true,
	"while": true,
	"until": true,
	"case":  true,
	"esac":  true,
	"in":    true,
	"{":     true,
	"}":     true,
}

// IsControlKeyword reports whether word is a shell control-structure keyword.
func IsControlKeyword(word string) bool {
	return controlKeywords[word]
}
