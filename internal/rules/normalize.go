package rules

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Normalize returns p in the form path patterns are matched against: "~"
// expanded, relative to root when inside it, "./" removed and cleaned.
// Absolute paths outside root stay absolute. Normalize is idempotent.
func Normalize(p, root string) string {
	p = filepath.ToSlash(expandHome(strings.TrimSpace(p)))
	if p == "" {
		return "."
	}
	if !path.IsAbs(p) {
		return path.Clean(p)
	}
	p = path.Clean(p)
	root = filepath.ToSlash(root)
	if root == "" || !path.IsAbs(root) {
		return p
	}
	root = path.Clean(root)
	if p == root {
		return "."
	}
	prefix := root + "/"
	if root == "/" {
		prefix = "/"
	}
	if strings.HasPrefix(p, prefix) {
		return p[len(prefix):]
	}
	return p
}

// Resolve joins a relative p onto root and cleans the result, which removes
// every "..". Without a root p is only cleaned, so a leading ".." survives.
func Resolve(p, root string) string {
	p = filepath.ToSlash(expandHome(strings.TrimSpace(p)))
	if p == "" {
		return p
	}
	root = filepath.ToSlash(root)
	if !path.IsAbs(p) && path.IsAbs(root) {
		p = path.Join(root, p)
	}
	return path.Clean(p)
}

// HasTraversal reports whether p climbs above its starting directory:
// "..", a "../" prefix, or "/../" anywhere.
func HasTraversal(p string) bool {
	p = filepath.ToSlash(p)
	return p == ".." ||
		strings.HasPrefix(p, "../") ||
		strings.HasSuffix(p, "/..") ||
		strings.Contains(p, "/../")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
