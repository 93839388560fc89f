package rules

import (
	"errors"
	"strings"

	"github.com/gobwas/glob"
	"github.com/mattn/go-shellwords"

	"github.com/Dicklesworthstone/permgate/internal/shell"
)

// commandPattern is the compiled payload of a Bash rule.
type commandPattern struct {
	prefix string
	words  []string
	// wildcard is set for "prefix:*".
	wildcard bool
	// glob is set when the payload has * wildcards other than ":*".
	glob glob.Glob
}

func compileCommandPattern(payload string) (*commandPattern, error) {
	if strings.Trim(payload, "* ") == "" {
		return nil, errors.New("wildcard-only pattern would match every command")
	}
	cp := &commandPattern{}
	if strings.HasSuffix(payload, ":*") {
		cp.wildcard = true
		payload = strings.TrimSuffix(payload, ":*")
		if strings.TrimSpace(payload) == "" {
			return nil, errors.New("empty prefix before :*")
		}
	}
	cp.prefix = collapse(payload)

	if strings.Contains(cp.prefix, "*") {
		g, err := glob.Compile(cp.prefix)
		if err != nil {
			return nil, err
		}
		cp.glob = g
		return cp, nil
	}
	cp.words = splitWords(cp.prefix)
	return cp, nil
}

func (cp *commandPattern) match(cmd string) bool {
	norm := collapse(cmd)
	if norm == "" {
		return false
	}
	if cp.glob != nil {
		if cp.glob.Match(norm) {
			return true
		}
		return cp.wildcard && cp.glob.Match(strings.Join(shell.StripWrappers(splitWords(cmd)), " "))
	}
	if norm == cp.prefix || strings.HasPrefix(norm, cp.prefix+" ") {
		return true
	}
	if !cp.wildcard {
		return false
	}
	words := shell.StripWrappers(splitWords(cmd))
	if len(words) < len(cp.words) {
		return false
	}
	for i, w := range cp.words {
		if words[i] != w {
			return false
		}
	}
	return true
}

// collapse trims s and replaces runs of whitespace by one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitWords splits a command the way a shell would, falling back to
// whitespace splitting for text shellwords rejects.
func splitWords(s string) []string {
	words, err := shellwords.Parse(s)
	if err != nil {
		return strings.Fields(s)
	}
	return words
}
