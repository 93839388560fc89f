package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseRule(t *testing.T) {
	tests := []struct {
		in      string
		tool    string
		kind    Kind
		payload string
		wantErr bool
	}{
		{"Glob", "Glob", KindTool, "", false},
		{"Bash", "Bash", KindTool, "", false},
		{"Bash(git status)", "Bash", KindCommand, "git status", false},
		{"Bash(npm:*)", "Bash", KindCommand, "npm:*", false},
		{"Edit(src/**)", "Edit", KindPath, "src/**", false},
		{"Read(!node_modules/**)", "Read", KindPath, "!node_modules/**", false},
		{"mcp__github__create_issue", "mcp__github__create_issue", KindTool, "", false},
		{"  Bash(ls)  ", "Bash", KindCommand, "ls", false},
		{"Bash(**)", "Bash", KindCommand, "**", true},
		{"Bash(*)", "Bash", KindCommand, "*", true},
		{"Bash(:*)", "Bash", KindCommand, ":*", true},
		{"Bash()", "Bash", KindTool, "", true},
		{"Edit(!)", "Edit", KindPath, "!", true},
		{"(oops)", "", KindTool, "", true},
		{"", "", KindTool, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			r, err := ParseRule(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseRule(%q) expected error", tc.in)
				}
				if !errors.Is(err, ErrInvalidRule) {
					t.Errorf("error %v does not wrap ErrInvalidRule", err)
				}
				if r.Valid() {
					t.Errorf("invalid rule reports Valid()")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRule(%q) error = %v", tc.in, err)
			}
			if r.Tool != tc.tool || r.Kind != tc.kind || r.Payload != tc.payload {
				t.Errorf("got tool=%q kind=%v payload=%q", r.Tool, r.Kind, r.Payload)
			}
		})
	}
}

func TestInvalidRulesNeverMatch(t *testing.T) {
	for _, s := range []string{"Bash(**)", "Bash(*)", "Bash( ** )"} {
		r, _ := ParseRule(s)
		for _, cmd := range []string{"ls", "rm -rf /", "**", "*", ""} {
			if r.MatchCommand(cmd) {
				t.Errorf("%s matched command %q", s, cmd)
			}
		}
		for _, p := range []string{"src/index.ts", "**", "a"} {
			if MatchPath(s, p) {
				t.Errorf("MatchPath(%q, %q) = true", s, p)
			}
		}
	}
}

func TestMatchCommand(t *testing.T) {
	tests := []struct {
		rule string
		cmd  string
		want bool
	}{
		{"Bash(git status)", "git status", true},
		{"Bash(git status)", "git  status   --short", true},
		{"Bash(git status)", "git statusx", false},
		{"Bash(git status)", "git stat", false},
		{"Bash(npm:*)", "npm", true},
		{"Bash(npm:*)", "npm test", true},
		{"Bash(npm:*)", "npmx install", false},
		{"Bash(npm:*)", "timeout 15 npm test", true},
		{"Bash(npm:*)", "NODE_ENV=test npm test", true},
		{"Bash(npm:*)", "env CI=1 nice -n 5 npm run build", true},
		{"Bash(npm test)", "timeout 15 npm test", false},
		{"Bash(git diff:*)", "git diff --name-only", true},
		{"Bash(git diff:*)", "git log", false},
		{"Bash(npm:*)", "bash -c 'npm test'", false},
		{"Bash(git * --dry-run)", "git push origin --dry-run", true},
		{"Bash(git * --dry-run)", "git push origin", false},
		{"Bash", "anything at all", true},
		{"Edit(src/**)", "src/a.ts", false},
	}
	for _, tc := range tests {
		r := MustParse(tc.rule)
		if got := r.MatchCommand(tc.cmd); got != tc.want {
			t.Errorf("%s.MatchCommand(%q) = %v, want %v", tc.rule, tc.cmd, got, tc.want)
		}
	}
}

func TestMatchPath_Patterns(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**", "src/index.ts", true},
		{"**", "../etc/passwd", false},
		{"**", "src/../../etc/passwd", false},
		{"**", "..", false},
		{"./**", "README.md", true},
		{"./**", "../secret", false},
		{"/**", "a/b/c", true},
		{"src/../**", "lib/x.go", true},
		{"src/../**", "../x.go", false},

		{"src/**", "src/components/Button.tsx", true},
		{"src/**", "src", true},
		{"src/**", "lib/src/a.ts", false},
		{"src/**", "config.json", false},
		{"./src/**", "src/a.ts", true},

		{"build/", "build/out.js", true},
		{"build/", "pkg/build/out.js", true},
		{"build/", "builder/out.js", false},
		{"src/gen/", "src/gen/a.go", true},
		{"src/gen/", "lib/src/gen/a.go", false},

		{"src/**/test", "src/pkg/test/a.go", true},
		{"src/**/test", "test/src/a.go", false},
		{"src/**/test", "src/../test", false},

		{"/README.md", "README.md", true},
		{"/README.md", "docs/README.md", false},
		{"/docs/*.md", "docs/a.md", true},

		{"*.ts", "src/deep/index.ts", true},
		{"*.ts", "index.js", false},
		{"package.json", "web/package.json", true},
		{"*.ts", "../outside.ts", false},

		{"node_modules", "web/node_modules/x/index.js", true},
		{"node_modules", "src/index.js", false},

		{"docs/*.md", "docs/a.md", true},
		{"docs/*.md", "docs/sub/a.md", false},
		{"**/*.ts", "a.ts", true},
		{"**/*.ts", "x/y/a.ts", true},

		{"!node_modules/**", "src/index.ts", true},
		{"!node_modules/**", "node_modules/x.js", false},
		{"!node_modules/**", "../etc/passwd", false},

		{"Edit(src/**)", "src/components/Button.tsx", true},
		{"Edit(src/**)", "config.json", false},
		{"Bash(ls)", "ls", false},
	}
	for _, tc := range tests {
		if got := MatchPath(tc.pattern, tc.path); got != tc.want {
			t.Errorf("MatchPath(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestRule_MatchPathWithRoot(t *testing.T) {
	root := t.TempDir()
	r := MustParse("Edit(src/**)")

	if !r.MatchPath("Edit", filepath.Join(root, "src", "a.ts"), root) {
		t.Error("absolute path inside root should match")
	}
	if !r.MatchPath("Write", "src/a.ts", root) {
		t.Error("Edit rules should cover Write")
	}
	if r.MatchPath("Read", "src/a.ts", root) {
		t.Error("Edit rules should not cover Read")
	}
	if r.MatchPath("Edit", "/etc/passwd", root) {
		t.Error("absolute path outside root should not match")
	}

	all := MustParse("Read(**)")
	if all.MatchPath("Read", "/etc/passwd", root) {
		t.Error("universal pattern must reject paths outside root")
	}
	if !all.MatchPath("Grep", "x/y", root) {
		t.Error("Read rules should cover Grep")
	}

	abs := MustParse("Read(//etc/**)")
	if !abs.MatchPath("Read", "/etc/hosts", root) {
		t.Error("//etc/** should match /etc/hosts")
	}
	if abs.MatchPath("Read", "src/a.ts", root) {
		t.Error("//etc/** should not match a root-relative path")
	}

	tool := MustParse("Glob")
	if !tool.MatchPath("Glob", "anything", root) {
		t.Error("bare tool rule should match")
	}
	if tool.MatchPath("Read", "anything", root) {
		t.Error("bare Glob rule should not match Read")
	}
}

func TestNormalize(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	root := "/work/repo"
	tests := []struct {
		in, want string
	}{
		{"src/a.ts", "src/a.ts"},
		{"./src/a.ts", "src/a.ts"},
		{"src//b/../a.ts", "src/a.ts"},
		{"/work/repo/src/a.ts", "src/a.ts"},
		{"/work/repo", "."},
		{"/work/repository/x", "/work/repository/x"},
		{"/etc/passwd", "/etc/passwd"},
		{"../x", "../x"},
		{"", "."},
		{"~/notes.txt", filepath.ToSlash(filepath.Join(home, "notes.txt"))},
	}
	for _, tc := range tests {
		got := Normalize(tc.in, root)
		if got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if again := Normalize(got, root); again != got {
			t.Errorf("Normalize not idempotent for %q: %q then %q", tc.in, got, again)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	roots := []string{"", "/", "/work/repo"}
	paths := []string{
		"", ".", "..", "a", "./a", "a/./b", "a/../..", "/", "/work/repo/x/../y",
		"~", "~/x", "~user/x", "x/", "//double//slash", "/work/repo/",
	}
	for _, root := range roots {
		for _, p := range paths {
			once := Normalize(p, root)
			if twice := Normalize(once, root); twice != once {
				t.Errorf("root=%q Normalize(%q)=%q, again=%q", root, p, once, twice)
			}
		}
	}
}

func TestHasTraversal(t *testing.T) {
	for p, want := range map[string]bool{
		"..":            true,
		"../x":          true,
		"a/../b":        true,
		"a/..":          true,
		"a/b":           false,
		"..foo":         false,
		"a/..b/c":       false,
		"/etc/../etc/x": true,
	} {
		if got := HasTraversal(p); got != want {
			t.Errorf("HasTraversal(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestRuleSet_GitignoreOrdering(t *testing.T) {
	rs := NewRuleSet([]string{"Read(secrets/**)", "Read(!secrets/public/**)"})
	if _, ok := rs.MatchPath("Read", "secrets/key.pem", ""); !ok {
		t.Error("secrets/key.pem should match")
	}
	if _, ok := rs.MatchPath("Read", "secrets/public/readme", ""); ok {
		t.Error("negated rule should carve out secrets/public")
	}
	if _, ok := rs.MatchPath("Read", "src/a.go", ""); ok {
		t.Error("unrelated path should not match")
	}

	lone := NewRuleSet([]string{"Edit(!node_modules/**)"})
	r, ok := lone.MatchPath("Edit", "src/a.ts", "")
	if !ok || r.Raw != "Edit(!node_modules/**)" {
		t.Errorf("lone negated rule should match src/a.ts, got %v %v", r, ok)
	}
	if _, ok := lone.MatchPath("Edit", "node_modules/x.js", ""); ok {
		t.Error("lone negated rule should not match node_modules")
	}
	if _, ok := lone.MatchPath("Edit", "../x", ""); ok {
		t.Error("negated rule must reject traversal")
	}
}

func TestRuleSet_MatchDenyPathResolvesTraversal(t *testing.T) {
	root := "/home/u/proj"
	tests := []struct {
		name  string
		rules []string
		path  string
		want  bool
	}{
		{"back into root", []string{"Read(.env)"}, "../proj/.env", true},
		{"inner dotdot", []string{"Read(.env)"}, "src/../.env", true},
		{"escapes to absolute", []string{"Read(//etc/**)"}, "../../../etc/shadow", true},
		{"relative rule skipped outside root", []string{"Read(.env)", "Read(//etc/**)"}, "../../../etc/shadow", true},
		{"negated rule outside root", []string{"Read(!src/**)"}, "../../../etc/shadow", true},
		{"outside and unmatched", []string{"Read(.env)"}, "../other/x", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rs := NewRuleSet(tc.rules)
			if _, ok := rs.MatchDenyPath("Read", tc.path, root); ok != tc.want {
				t.Errorf("MatchDenyPath(%q) = %v, want %v", tc.path, ok, tc.want)
			}
		})
	}

	// The allow-side check still refuses every traversal.
	allow := NewRuleSet([]string{"Read(**)"})
	for _, p := range []string{"../proj/.env", "../x", "src/../../x"} {
		if _, ok := allow.MatchPath("Read", p, root); ok {
			t.Errorf("MatchPath(%q) matched a traversal", p)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		p, root, want string
	}{
		{"../proj/.env", "/home/u/proj", "/home/u/proj/.env"},
		{"../../../../etc/shadow", "/home/u/proj", "/etc/shadow"},
		{"src/./a.go", "/home/u/proj", "/home/u/proj/src/a.go"},
		{"/etc/../etc/hosts", "/home/u/proj", "/etc/hosts"},
		{"a/../../x", "", "../x"},
		{"", "/home/u/proj", ""},
	}
	for _, tc := range tests {
		if got := Resolve(tc.p, tc.root); got != tc.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tc.p, tc.root, got, tc.want)
		}
	}
}

func TestRuleSet_InvalidKept(t *testing.T) {
	rs := NewRuleSet([]string{"Bash(**)", "Bash(ls:*)"})
	if rs.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rs.Len())
	}
	if len(rs.Errors()) != 1 {
		t.Fatalf("Errors() = %v, want one", rs.Errors())
	}
	r, ok := rs.MatchCommand("ls -la")
	if !ok || r.Raw != "Bash(ls:*)" {
		t.Errorf("MatchCommand = %v %v", r, ok)
	}
	if _, ok := rs.MatchCommand("rm -rf /"); ok {
		t.Error("Bash(**) must not match")
	}
}
