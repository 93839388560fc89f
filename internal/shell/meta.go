package shell

import (
	"path/filepath"
	"regexp"
	"strings"
)

// unwrapKind describes how a meta-command carries its inner command.
type unwrapKind int

const (
	unwrapNone unwrapKind = iota
	// unwrapScript: one argument is a complete shell script (sh -c '...').
	unwrapScript
	// unwrapPrefix: the wrapper is followed by an ordinary command line
	// (timeout 60 cmd args...).
	unwrapPrefix
	// unwrapNode: node -e '<js>'; shell strings passed to child_process
	// calls are decomposed, the node invocation itself is kept.
	unwrapNode
	// unwrapEval: the arguments from index on, joined by spaces, are a
	// script (eval rm -rf "$d").
	unwrapEval
)

// unwrap says where the inner command of a meta-command lives.
type unwrap struct {
	kind unwrapKind
	// index is the word index of the script argument (script, node), of
	// the first script word (eval) or of the first inner word (prefix).
	index int
	// sudo is set when the wrapper runs its command as another user.
	sudo bool
}

// shellInterpreters accept -c with a script argument.
var shellInterpreters = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true,
}

// shellOptArg lists interpreter options that consume the following word.
var shellOptArg = map[string]bool{
	"-o": true, "+o": true, "-O": true, "+O": true,
	"--rcfile": true, "--init-file": true,
}

// metaCommands lists the wrappers recognized by findUnwrap.
var metaCommands = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true,
	"xargs": true, "timeout": true, "time": true, "env": true,
	"nice": true, "nohup": true, "command": true, "exec": true,
	"node": true, "sudo": true, "eval": true,
}

// IsMetaCommand reports whether name is a wrapper whose arguments contain
// another command.
func IsMetaCommand(name string) bool {
	return metaCommands[filepath.Base(name)]
}

// findUnwrap inspects the words of one command (name first) and reports
// where its inner command is, if any.
func findUnwrap(words []string) unwrap {
	if len(words) == 0 {
		return unwrap{}
	}
	name := filepath.Base(words[0])
	args := words[1:]

	switch {
	case shellInterpreters[name]:
		// With -c the first operand is the script, wherever -c appears
		// among the options.
		script := false
		for i := 0; i < len(args); i++ {
			a := args[i]
			switch {
			case a == "--" || a == "-":
				if script && i+1 < len(args) {
					return unwrap{kind: unwrapScript, index: i + 2}
				}
				return unwrap{}
			case shellOptArg[a]:
				i++
			case strings.HasPrefix(a, "--"):
			case strings.HasPrefix(a, "-"):
				if strings.Contains(a[1:], "c") {
					script = true
				}
			case strings.HasPrefix(a, "+"):
			default:
				if script {
					return unwrap{kind: unwrapScript, index: i + 1}
				}
				// First operand is a script file; nothing to unwrap.
				return unwrap{}
			}
		}
	case name == "eval":
		if len(args) > 0 {
			return unwrap{kind: unwrapEval, index: 1}
		}
	case name == "sudo":
		for _, a := range args {
			if a == "--" || !strings.HasPrefix(a, "-") {
				break
			}
			if a == "-e" || a == "--edit" || a == "-l" || a == "--list" {
				return unwrap{}
			}
		}
		u := prefixAfter(args, sudoOptArg, nil)
		u.sudo = u.kind == unwrapPrefix
		return u
	case name == "xargs":
		return prefixAfter(args, xargsOptArg, nil)
	case name == "timeout":
		idx := skipOptions(args, map[string]bool{"-s": true, "-k": true, "--signal": true, "--kill-after": true})
		// idx is the duration; the command follows it.
		if idx+1 < len(args) {
			return unwrap{kind: unwrapPrefix, index: idx + 2}
		}
	case name == "time":
		return prefixAfter(args, map[string]bool{"-f": true, "-o": true, "--format": true, "--output": true}, nil)
	case name == "nice":
		return prefixAfter(args, map[string]bool{"-n": true, "--adjustment": true}, nil)
	case name == "nohup" || name == "exec":
		return prefixAfter(args, map[string]bool{"-a": true}, nil)
	case name == "command":
		for _, a := range args {
			if a == "-v" || a == "-V" {
				return unwrap{}
			}
		}
		return prefixAfter(args, nil, nil)
	case name == "env":
		for i, a := range args {
			if (a == "-S" || a == "--split-string") && i+1 < len(args) {
				return unwrap{kind: unwrapScript, index: i + 2}
			}
		}
		return prefixAfter(args, map[string]bool{"-u": true, "-C": true, "--unset": true, "--chdir": true}, func(a string) bool {
			return isAssignment(a)
		})
	case name == "node":
		for i, a := range args {
			if (a == "-e" || a == "--eval" || a == "-p" || a == "--print") && i+1 < len(args) {
				return unwrap{kind: unwrapNode, index: i + 2}
			}
		}
	}
	return unwrap{}
}

var sudoOptArg = map[string]bool{
	"-u": true, "-g": true, "-h": true, "-p": true, "-C": true,
	"-D": true, "-r": true, "-t": true, "-U": true,
	"--user": true, "--group": true, "--host": true, "--prompt": true,
	"--chdir": true, "--role": true, "--type": true, "--other-user": true,
	"--close-from": true,
}

var xargsOptArg = map[string]bool{
	"-I": true, "-L": true, "-n": true, "-P": true, "-s": true, "-d": true,
	"-E": true, "-a": true, "--delimiter": true, "--max-args": true,
	"--max-procs": true, "--max-lines": true, "--arg-file": true, "--max-chars": true,
	"--eof": true,
}

// prefixAfter skips options (and, when skip is set, other leading words it
// accepts) and returns a prefix unwrap at the first remaining word.
func prefixAfter(args []string, optArg map[string]bool, skip func(string) bool) unwrap {
	i := skipOptions(args, optArg)
	for skip != nil && i < len(args) && skip(args[i]) {
		i++
	}
	if i < len(args) {
		return unwrap{kind: unwrapPrefix, index: i + 1}
	}
	return unwrap{}
}

// skipOptions returns the index of the first non-option argument. Options in
// optArg consume the following word unless written as --opt=value.
func skipOptions(args []string, optArg map[string]bool) int {
	i := 0
	for i < len(args) {
		a := args[i]
		if a == "--" {
			return i + 1
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			return i
		}
		if optArg[a] {
			i += 2
			continue
		}
		i++
	}
	return i
}

// nodeExecRe finds string literals handed to child_process from node -e code.
// One group per quote style.
var nodeExecRe = regexp.MustCompile(`(?:execSync|exec|execFileSync|spawnSync|spawn)\(\s*(?:'((?:\\.|[^'\\])*)'|"((?:\\.|[^"\\])*)"|` + "`" + `((?:\\.|[^` + "`" + `\\])*)` + "`" + `)`)

// nodeShellStrings extracts the shell command strings from JavaScript source.
func nodeShellStrings(js string) []string {
	var out []string
	for _, m := range nodeExecRe.FindAllStringSubmatch(js, -1) {
		for _, g := range m[1:] {
			if s := strings.TrimSpace(g); s != "" {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// StripWrappers drops leading assignments and prefix wrappers (timeout 15,
// env X=y, nice, nohup, command, time, xargs) from a word list and returns
// the words of the command that actually runs. Script wrappers such as
// sh -c are left alone, and so is sudo.
func StripWrappers(words []string) []string {
	for depth := 0; depth <= maxDepth; depth++ {
		for len(words) > 0 && isAssignment(words[0]) {
			words = words[1:]
		}
		u := findUnwrap(words)
		if u.kind != unwrapPrefix || u.sudo {
			return words
		}
		words = words[u.index:]
	}
	return words
}

// StripSudo is StripWrappers that also removes sudo and its options. It
// reports whether a sudo was removed.
func StripSudo(words []string) ([]string, bool) {
	sudo := false
	for depth := 0; depth <= maxDepth; depth++ {
		words = StripWrappers(words)
		u := findUnwrap(words)
		if !u.sudo {
			return words, sudo
		}
		sudo = true
		words = words[u.index:]
	}
	return words, sudo
}
