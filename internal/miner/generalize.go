package miner

import (
	"path"
	"regexp"
	"strings"

	"github.com/Dicklesworthstone/permgate/internal/rules"
	"github.com/Dicklesworthstone/permgate/internal/shell"
)

// subcommandRe accepts words that look like a subcommand ("diff",
// "run-script") rather than a flag, path or value.
var subcommandRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// commandCandidate is one generalized sub-command of a command line.
type commandCandidate struct {
	rule    string
	cmd     shell.SimpleCommand
	words   []string
	program string
}

// generalizeCommand decomposes line and returns one Bash rule per evaluable
// sub-command: "Bash(git diff:*)" when the second word is a subcommand,
// "Bash(make:*)" otherwise.
func generalizeCommand(line string) []commandCandidate {
	dec := shell.Decompose(line)
	var out []commandCandidate
	for _, c := range dec.Commands {
		words := shell.StripWrappers(c.Words())
		if len(words) == 0 || shell.IsControlKeyword(words[0]) || strings.ContainsAny(words[0], "()$`*") {
			continue
		}
		prefix := words[0]
		if len(words) > 1 && subcommandRe.MatchString(words[1]) {
			prefix += " " + words[1]
		}
		if c.Sudo {
			prefix = "sudo " + prefix
		}
		out = append(out, commandCandidate{
			rule:    rules.BashTool + "(" + prefix + ":*)",
			cmd:     c,
			words:   words,
			program: path.Base(words[0]),
		})
	}
	return out
}

// GeneralizeCommand returns the Bash rule strings proposed for line.
func GeneralizeCommand(line string) []string {
	var out []string
	for _, c := range generalizeCommand(line) {
		out = append(out, c.rule)
	}
	return out
}

// GeneralizePath returns the path rule proposed for tool operating on p:
// "Edit(src/**)" for src/a/b.ts, "Edit(*.md)" for README.md at the root,
// "Read(//etc/**)" for /etc/hosts outside root. ok is false for paths that
// traverse upwards or are empty.
func GeneralizePath(tool, p, root string) (string, bool) {
	if strings.TrimSpace(p) == "" || rules.HasTraversal(p) {
		return "", false
	}
	rel := rules.Normalize(p, root)
	if rel == "." || rules.HasTraversal(rel) {
		return "", false
	}
	if path.IsAbs(rel) {
		dir := path.Dir(rel)
		if dir == "/" {
			return tool + "(/" + rel + ")", true
		}
		return tool + "(/" + dir + "/**)", true
	}
	if i := strings.IndexByte(rel, '/'); i > 0 {
		return tool + "(" + rel[:i] + "/**)", true
	}
	if ext := path.Ext(rel); ext != "" && ext != rel {
		return tool + "(*" + ext + ")", true
	}
	return tool + "(/" + rel + ")", true
}
