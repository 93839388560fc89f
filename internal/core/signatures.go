package core

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Signature categories.
const (
	CategoryDestructive    = "destructive"
	CategoryDisk           = "disk"
	CategoryGitHistory     = "git_history"
	CategoryGitInternals   = "git_internals"
	CategoryRemoteScript   = "remote_script"
	CategoryGitHooks       = "git_hooks"
	CategoryGitConfig      = "git_config"
	CategoryGitCredentials = "git_credentials"
	CategoryInfrastructure = "infrastructure"
)

// mustRegex compiles a built-in expression. Built-in patterns must always be
// valid.
func mustRegex(p string) *regexp.Regexp {
	re, err := regexp.Compile(p)
	if err != nil {
		panic(fmt.Sprintf("invalid builtin pattern %q: %v", p, err))
	}
	return re
}

func match(p string) RegexMatcher { return RegexMatcher{Pattern: mustRegex(p)} }

func matchRaw(p string) RegexMatcher { return RegexMatcher{Pattern: mustRegex(p), OnRaw: true} }

func matchExcept(p, except string) RegexMatcher {
	return RegexMatcher{Pattern: mustRegex(p), Except: mustRegex(except)}
}

// builtinSignatures is the detector table. Deny entries come first so that a
// command matching both a deny and a review signature is denied.
func builtinSignatures() []Signature {
	return []Signature{
		// Immediate deny.
		{
			ID: "rm-recursive-force-wide", Category: CategoryDestructive, Severity: SeverityDeny,
			Matcher: FuncMatcher{Fn: rmRecursiveForceWide, Desc: "rm -r -f with /, /*, ~, a system path, a variable or a glob"},
			Reason:  "recursive forced deletion of a root, home, system, variable or glob target",
		},
		{
			ID: "sudo-rm", Category: CategoryDestructive, Severity: SeverityDeny,
			Matcher: FuncMatcher{Fn: func(s Subject) bool { return s.Sudo && s.Program() == "rm" }, Desc: "sudo rm"},
			Reason:  "deletion with elevated privileges",
		},
		{
			ID: "dd-device", Category: CategoryDisk, Severity: SeverityDeny,
			Matcher: matchExcept(`^dd\b.*\bof=/dev/\S+`, `\bof=/dev/(null|zero|stdout|stderr|tty|fd/\d+)(\s|$)`),
			Reason:  "dd writing to a block device",
		},
		{
			ID: "mkfs", Category: CategoryDisk, Severity: SeverityDeny,
			Matcher: FuncMatcher{Fn: func(s Subject) bool {
				p := s.Program()
				return p == "mkfs" || strings.HasPrefix(p, "mkfs.")
			}, Desc: "mkfs, mkfs.*"},
			Reason: "filesystem creation destroys the device contents",
		},
		{
			ID: "git-push-force", Category: CategoryGitHistory, Severity: SeverityDeny,
			Matcher: FuncMatcher{Fn: gitPushForce, Desc: "git push -f|--force|--force-with-lease|+refspec"},
			Reason:  "forced push rewrites remote history",
		},
		{
			ID: "git-internals-mutation", Category: CategoryGitInternals, Severity: SeverityDeny,
			Matcher: FuncMatcher{Fn: gitInternalsMutation, Desc: "rm|mv|rmdir on .git"},
			Reason:  "mutating .git internals can corrupt the repository",
		},

		// Manual review.
		{
			ID: "remote-script-pipe", Category: CategoryRemoteScript, Severity: SeverityReview, Scope: ScopeLine,
			Matcher: matchRaw(`(?i)\b(curl|wget)\b[^|;&]*\|\s*(sudo\s+(-\S+\s+)*)?(env\s+)?(sh|bash|zsh|dash|ksh|fish)\b`),
			Reason:  "remote script piped into a shell",
		},
		{
			ID: "remote-script-procsubst", Category: CategoryRemoteScript, Severity: SeverityReview, Scope: ScopeLine,
			Matcher: matchRaw(`(?i)\b(sh|bash|zsh|dash|ksh|fish|source|\.)\s+<\(\s*(curl|wget)\b`),
			Reason:  "remote script run through process substitution",
		},
		{
			ID: "remote-script-subst", Category: CategoryRemoteScript, Severity: SeverityReview, Scope: ScopeLine,
			Matcher: matchRaw(`(?i)\b(sh|bash|zsh|dash|ksh)\s+-c\s+["']?\$\(\s*(curl|wget)\b`),
			Reason:  "remote script run through command substitution",
		},
		{
			ID: "git-hook-bypass", Category: CategoryGitHooks, Severity: SeverityReview,
			Matcher: FuncMatcher{Fn: gitHookBypass, Desc: "git ... --no-verify, git commit -n"},
			Reason:  "skips repository hooks",
		},
		{
			ID: "git-config-write", Category: CategoryGitConfig, Severity: SeverityReview,
			Matcher: FuncMatcher{Fn: gitConfigWrite, Desc: "git config <key> <value>, --unset, --add, --edit, ..."},
			Reason:  "changes git configuration",
		},
		{
			ID: "git-credential", Category: CategoryGitCredentials, Severity: SeverityReview,
			Matcher: FuncMatcher{Fn: gitCredential, Desc: "git credential*, credential.helper"},
			Reason:  "touches git credentials",
		},
		{
			ID: "git-env-override", Category: CategoryGitCredentials, Severity: SeverityReview,
			Matcher: matchRaw(`(^|[\s;&|])(export\s+)?GIT_(DIR|WORK_TREE|SSH|SSH_COMMAND|ASKPASS|CONFIG\w*|EXEC_PATH|INDEX_FILE|OBJECT_DIRECTORY|ALTERNATE_OBJECT_DIRECTORIES|TERMINAL_PROMPT|PROXY_COMMAND|EXTERNAL_DIFF|TEMPLATE_DIR)=`),
			Reason:  "overrides git's environment",
		},
		{
			ID: "git-config-flag", Category: CategoryGitCredentials, Severity: SeverityReview,
			Matcher: FuncMatcher{Fn: gitConfigFlag, Desc: "git -c key=value, git --config-env"},
			Reason:  "overrides git configuration for one command",
		},
		{
			ID: "terraform-destroy", Category: CategoryInfrastructure, Severity: SeverityReview,
			Matcher: match(`^terraform\s+(-\S+\s+)*destroy\b`),
			Reason:  "destroys managed infrastructure",
		},
		{
			ID: "kubectl-delete-cluster", Category: CategoryInfrastructure, Severity: SeverityReview,
			Matcher: match(`^kubectl\s+(\S+\s+)*delete\s+(ns|namespaces?|nodes?|pv|persistentvolumes?)\b`),
			Reason:  "deletes cluster-scoped resources",
		},
		{
			ID: "sql-drop-database", Category: CategoryInfrastructure, Severity: SeverityReview,
			Matcher: matchRaw(`(?i)\bDROP\s+(DATABASE|SCHEMA)\b`),
			Reason:  "drops a database",
		},
	}
}

// systemDirs are top-level directories whose recursive removal, or removal
// of a direct child such as /home/alice, is never routine.
var systemDirs = map[string]bool{
	"bin": true, "boot": true, "dev": true, "etc": true, "home": true,
	"lib": true, "lib64": true, "media": true, "mnt": true, "opt": true,
	"proc": true, "root": true, "run": true, "sbin": true, "srv": true,
	"sys": true, "usr": true, "var": true, "Users": true, "System": true,
	"Library": true, "Applications": true,
}

func rmRecursiveForceWide(s Subject) bool {
	if s.Program() != "rm" {
		return false
	}
	var recursive, force bool
	var targets []string
	opts := true
	for _, a := range s.Words[1:] {
		switch {
		case opts && a == "--":
			opts = false
		case opts && strings.HasPrefix(a, "--"):
			switch a {
			case "--recursive":
				recursive = true
			case "--force":
				force = true
			}
		case opts && strings.HasPrefix(a, "-") && len(a) > 1:
			recursive = recursive || strings.ContainsAny(a[1:], "rR")
			force = force || strings.Contains(a[1:], "f")
		default:
			targets = append(targets, a)
		}
	}
	if !recursive || !force {
		return false
	}
	for _, t := range targets {
		if wideTarget(t) {
			return true
		}
	}
	return false
}

func wideTarget(t string) bool {
	switch {
	case t == "/" || t == "/*" || t == "~" || strings.HasPrefix(t, "~/") && strings.Trim(t[1:], "/*") == "":
		return true
	case strings.ContainsAny(t, "$*?`"):
		return true
	case strings.HasPrefix(t, "/"):
		clean := filepath.Clean(t)
		if clean == "/" {
			return true
		}
		parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
		return systemDirs[parts[0]] && len(parts) <= 2
	}
	return false
}

// gitArgs returns the git subcommand and its arguments, skipping global
// options. ok is false when the subject is not git. globals holds the global
// options seen.
func gitArgs(s Subject) (sub string, args, globals []string, ok bool) {
	if s.Program() != "git" {
		return "", nil, nil, false
	}
	w := s.Words[1:]
	for len(w) > 0 {
		a := w[0]
		switch {
		case a == "-C" || a == "-c" || a == "--git-dir" || a == "--work-tree" || a == "--namespace" || a == "--config-env":
			globals = append(globals, w[:min(2, len(w))]...)
			w = w[min(2, len(w)):]
		case strings.HasPrefix(a, "-"):
			globals = append(globals, a)
			w = w[1:]
		default:
			return a, w[1:], globals, true
		}
	}
	return "", nil, globals, true
}

func gitPushForce(s Subject) bool {
	sub, args, _, ok := gitArgs(s)
	if !ok || sub != "push" {
		return false
	}
	for _, a := range args {
		switch {
		case a == "--force" || strings.HasPrefix(a, "--force-with-lease") || a == "--force-if-includes":
			return true
		case strings.HasPrefix(a, "--"):
		case strings.HasPrefix(a, "-") && strings.Contains(a[1:], "f"):
			return true
		case strings.HasPrefix(a, "+") && len(a) > 1:
			return true
		}
	}
	return false
}

func gitInternalsMutation(s Subject) bool {
	switch s.Program() {
	case "rm", "mv", "rmdir":
	default:
		return false
	}
	for _, a := range s.Words[1:] {
		if strings.HasPrefix(a, "-") {
			continue
		}
		for _, seg := range strings.Split(filepath.ToSlash(a), "/") {
			if seg == ".git" {
				return true
			}
		}
	}
	return false
}

// commitValueFlags take the next argument as a value.
var commitValueFlags = map[string]bool{
	"-m": true, "-F": true, "-C": true, "-c": true, "-t": true,
	"--message": true, "--file": true, "--author": true, "--date": true,
	"--template": true, "--reuse-message": true, "--reedit-message": true,
}

func gitHookBypass(s Subject) bool {
	sub, args, _, ok := gitArgs(s)
	if !ok {
		return false
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--no-verify" {
			return true
		}
		if sub != "commit" {
			continue
		}
		if commitValueFlags[a] {
			i++
			continue
		}
		if strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") {
			for _, ch := range a[1:] {
				if ch == 'n' {
					return true
				}
				if strings.ContainsRune("mFCct", ch) {
					break
				}
			}
		}
	}
	return false
}

var (
	configWriteFlags = map[string]bool{
		"--unset": true, "--unset-all": true, "--add": true, "--replace-all": true,
		"-e": true, "--edit": true, "--rename-section": true, "--remove-section": true,
	}
	configReadFlags = map[string]bool{
		"--get": true, "--get-all": true, "--get-regexp": true, "--get-urlmatch": true,
		"--get-color": true, "--get-colorbool": true, "-l": true, "--list": true,
	}
	configValueFlags = map[string]bool{
		"-f": true, "--file": true, "--blob": true, "--type": true, "--default": true,
		"--comment": true, "--value": true,
	}
	configWriteVerbs = map[string]bool{
		"set": true, "unset": true, "rename-section": true, "remove-section": true, "edit": true,
	}
	configReadVerbs = map[string]bool{"get": true, "list": true}
)

func gitConfigWrite(s Subject) bool {
	sub, args, _, ok := gitArgs(s)
	if !ok || sub != "config" {
		return false
	}
	var positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case configWriteFlags[a]:
			return true
		case configReadFlags[a]:
			return false
		case configValueFlags[a]:
			i++
		case strings.HasPrefix(a, "-"):
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) == 0 {
		return false
	}
	if configWriteVerbs[positional[0]] {
		return true
	}
	if configReadVerbs[positional[0]] {
		return false
	}
	return len(positional) >= 2
}

func gitCredential(s Subject) bool {
	sub, args, globals, ok := gitArgs(s)
	if !ok {
		return false
	}
	if strings.HasPrefix(sub, "credential") {
		return true
	}
	for _, a := range append(globals, args...) {
		if strings.Contains(strings.ToLower(a), "credential.helper") {
			return true
		}
	}
	return false
}

func gitConfigFlag(s Subject) bool {
	_, _, globals, ok := gitArgs(s)
	if !ok {
		return false
	}
	for _, g := range globals {
		if g == "-c" || g == "--config-env" || strings.HasPrefix(g, "--config-env=") {
			return true
		}
	}
	return false
}
