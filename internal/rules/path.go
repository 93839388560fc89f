package rules

import (
	"errors"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// pathShape is the gitignore-style shape of a path pattern.
type pathShape int

const (
	// shapeUniversal: "**", "./**", "/**" and X/** collapsing to the root.
	shapeUniversal pathShape = iota
	// shapeAbsolute: "//abs/path" names a filesystem path.
	shapeAbsolute
	// shapeDir: trailing "/", a directory prefix.
	shapeDir
	// shapeUnder: "X/**", anything under X.
	shapeUnder
	// shapeContains: "X/**/Y", the path contains X then Y.
	shapeContains
	// shapeAnchored: leading "/", relative to the tool root.
	shapeAnchored
	// shapeBase: bare pattern with ".", matched against the final segment.
	shapeBase
	// shapeSegment: bare pattern without ".", matched against any segment.
	shapeSegment
	// shapeRelative: other patterns containing "/".
	shapeRelative
)

var errNegatedEmpty = errors.New("negation without a pattern")

// pathPattern is the compiled payload of a path rule.
type pathPattern struct {
	raw     string
	negated bool
	shape   pathShape
	// globs match alternatives; any match is a match.
	globs []glob.Glob
}

func compilePathPattern(payload string) (*pathPattern, error) {
	pp := &pathPattern{raw: payload}
	p := payload
	if strings.HasPrefix(p, "!") {
		pp.negated = true
		p = strings.TrimSpace(p[1:])
		if p == "" {
			return nil, errNegatedEmpty
		}
	}

	var srcs []string
	switch {
	case isUniversal(p):
		pp.shape = shapeUniversal
	case strings.HasPrefix(p, "//"):
		pp.shape = shapeAbsolute
		abs := "/" + strings.TrimLeft(p, "/")
		switch {
		case strings.HasSuffix(abs, "/**"):
			srcs = dirGlobs(strings.TrimSuffix(abs, "/**"))
		case strings.HasSuffix(abs, "/") && abs != "/":
			srcs = dirGlobs(strings.TrimSuffix(abs, "/"))
		default:
			srcs = []string{abs}
		}
	case strings.Contains(p, "/**/"):
		pp.shape = shapeContains
		i := strings.Index(p, "/**/")
		x := strings.TrimPrefix(strings.TrimPrefix(p[:i], "/"), "./")
		y := p[i+len("/**/"):]
		if x == "" {
			srcs = []string{"**" + y + "**"}
		} else {
			srcs = []string{"**" + x + "**" + y + "**"}
		}
	case strings.HasSuffix(p, "/**"):
		pp.shape = shapeUnder
		srcs = dirGlobs(rootRelative(strings.TrimSuffix(p, "/**")))
	case strings.HasSuffix(p, "/"):
		pp.shape = shapeDir
		dir := strings.TrimSuffix(p, "/")
		if !strings.Contains(dir, "/") {
			// "build/" matches a build directory at any depth.
			srcs = []string{dir, dir + "/**", "**/" + dir, "**/" + dir + "/**"}
		} else {
			srcs = dirGlobs(rootRelative(dir))
		}
	case strings.HasPrefix(p, "/"):
		pp.shape = shapeAnchored
		srcs = []string{rootRelative(p)}
	case !strings.Contains(p, "/") && strings.Contains(p, "."):
		pp.shape = shapeBase
		srcs = []string{p}
	case !strings.Contains(p, "/"):
		pp.shape = shapeSegment
		srcs = []string{p}
	default:
		pp.shape = shapeRelative
		rel := rootRelative(p)
		srcs = []string{rel}
		if strings.HasPrefix(rel, "**/") {
			// "**/*.ts" also matches at the top level.
			srcs = append(srcs, strings.TrimPrefix(rel, "**/"))
		}
	}

	for _, src := range srcs {
		g, err := glob.Compile(src, '/')
		if err != nil {
			return nil, err
		}
		pp.globs = append(pp.globs, g)
	}
	return pp, nil
}

// isUniversal reports whether p means "everything under the root".
func isUniversal(p string) bool {
	if strings.HasPrefix(p, "//") {
		return false
	}
	switch p {
	case "**", "./**", "/**", "**/*", "./**/*":
		return true
	}
	if strings.HasSuffix(p, "/**") {
		x := strings.TrimSuffix(p, "/**")
		c := path.Clean("/" + strings.TrimPrefix(x, "/"))
		return c == "/" && !strings.Contains(x, "*")
	}
	return false
}

// rootRelative strips a leading "/" or "./" and cleans p.
func rootRelative(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

// dirGlobs matches dir itself and everything below it.
func dirGlobs(dir string) []string {
	if dir == "" || dir == "/" {
		return []string{"/**"}
	}
	return []string{dir, dir + "/**"}
}

// match applies the pattern to p after the traversal and root checks, which
// hold for negated patterns too.
func (pp *pathPattern) match(p, root string) bool {
	hit, ok := pp.test(p, root)
	if !ok {
		return false
	}
	if pp.negated {
		return !hit
	}
	return hit
}

// test reports whether the pattern body matches p. ok is false when p must
// be rejected whatever the pattern says: it traverses upwards, or it is
// outside the root and the pattern is not absolute.
func (pp *pathPattern) test(p, root string) (hit, ok bool) {
	if strings.TrimSpace(p) == "" {
		return false, false
	}
	raw := expandHome(strings.TrimSpace(p))
	if HasTraversal(raw) && pp.shape != shapeAbsolute {
		return false, false
	}
	norm := Normalize(raw, root)
	if HasTraversal(norm) {
		return false, false
	}

	if pp.shape == shapeAbsolute {
		abs := norm
		if !path.IsAbs(abs) {
			if root == "" {
				return false, false
			}
			abs = path.Join(root, norm)
		}
		return pp.any(abs), true
	}
	if path.IsAbs(norm) {
		return false, false
	}

	switch pp.shape {
	case shapeUniversal:
		return true, true
	case shapeBase:
		return pp.any(path.Base(norm)), true
	case shapeSegment:
		for _, seg := range strings.Split(norm, "/") {
			if pp.any(seg) {
				return true, true
			}
		}
		return false, true
	default:
		return pp.any(norm), true
	}
}

func (pp *pathPattern) any(s string) bool {
	for _, g := range pp.globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// MatchPath reports whether pattern matches p, a path relative to the
// current tool root. pattern is either a bare gitignore-style pattern or a
// complete rule such as "Edit(src/**)"; Bash rules never match a path.
func MatchPath(pattern, p string) bool {
	if r, err := ParseRule(pattern); err == nil && r.Kind != KindTool {
		if r.Tool == BashTool {
			return false
		}
		return r.path.match(p, "")
	} else if err != nil && strings.HasPrefix(strings.TrimSpace(pattern), BashTool+"(") {
		return false
	}
	pp, err := compilePathPattern(pattern)
	if err != nil {
		return false
	}
	return pp.match(p, "")
}
