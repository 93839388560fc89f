package core

import (
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/permgate/internal/shell"
)

// Verdict is the outcome for one command, or for a whole line.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
	VerdictAsk   Verdict = "ask"
	// VerdictPass means no local opinion; the caller's own flow decides.
	VerdictPass Verdict = "pass"
	// VerdictSkip marks control keywords. Never an aggregate decision.
	VerdictSkip Verdict = "skip"
)

// String implements fmt.Stringer.
func (v Verdict) String() string { return string(v) }

// ParseVerdict converts a string to a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(strings.ToLower(strings.TrimSpace(s))); v {
	case VerdictAllow, VerdictDeny, VerdictAsk, VerdictPass, VerdictSkip:
		return v, nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// CommandVerdict is the verdict for one SimpleCommand.
type CommandVerdict struct {
	Command   shell.SimpleCommand `json:"command"`
	Verdict   Verdict             `json:"verdict"`
	Rule      string              `json:"rule,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Detection *Detection          `json:"detection,omitempty"`
}

// Result is the authorization decision for one request.
type Result struct {
	Decision Verdict          `json:"decision"`
	Reason   string           `json:"reason"`
	Commands []CommandVerdict `json:"commands,omitempty"`
	// Line is set when a line-scoped signature decided.
	Line *Detection `json:"line,omitempty"`
	// Tier and Uncertain describe the decomposition, for Authorize only.
	Tier      string `json:"tier,omitempty"`
	Uncertain bool   `json:"uncertain,omitempty"`
}

// Aggregate combines per-command verdicts into one decision. The precedence
// is fixed: the first ask wins, then any deny, then unanimous allow, then
// pass. A list with nothing but skips, or an empty list, is ask. When
// rulesConfigured is false a pass becomes ask.
func Aggregate(verdicts []CommandVerdict, rulesConfigured bool) (Verdict, string) {
	var (
		denied  []string
		allowed []string
		passed  []string
	)
	for _, v := range verdicts {
		switch v.Verdict {
		case VerdictAsk:
			return VerdictAsk, describe(v)
		case VerdictDeny:
			denied = append(denied, describe(v))
		case VerdictAllow:
			allowed = append(allowed, v.Command.Raw)
		case VerdictPass:
			passed = append(passed, v.Command.Raw)
		}
	}
	switch {
	case len(denied) > 0:
		return VerdictDeny, "denied: " + strings.Join(denied, "; ")
	case len(allowed) == 0 && len(passed) == 0:
		return VerdictAsk, "no evaluable command"
	case !rulesConfigured:
		return VerdictAsk, "no rules configured"
	case len(passed) == 0:
		return VerdictAllow, "allowed: " + strings.Join(allowed, "; ")
	default:
		return VerdictPass, "no rule matched: " + strings.Join(passed, "; ")
	}
}

func describe(v CommandVerdict) string {
	if v.Reason == "" {
		return v.Command.Raw
	}
	return fmt.Sprintf("%s (%s)", v.Command.Raw, v.Reason)
}
