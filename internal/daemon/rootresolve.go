package daemon

import (
	"fmt"
	"os"
	"path/filepath"
)

// rootMarkers are the ancestor-walk project markers step
// 5 names, checked alongside a bare ".git" directory.
var rootMarkers = []string{
	"AGENTS.md", "Cargo.toml", "package.json", "pyproject.toml", "go.mod",
	"pom.xml", "build.gradle", "build.gradle.kts", "CMakeLists.txt", "Makefile",
}

// RootResolveInput carries every signal the resolution
// order can draw from.
type RootResolveInput struct {
	ExplicitPath   string // tool call's "path" argument, if any
	CursorRoot     string // cursor's embedded root, if any
	SessionHasRoot bool   // whether this session already established a root
	SessionRoot    string
	EnvOverride    string // CONTEXT_ROOT (or legacy alias), if set
	Cwd            string
}

// ResolveRoot ordered root resolution. All
// returned roots are canonicalized (symlink-resolved, absolute).
func ResolveRoot(in RootResolveInput) (string, error) {
	if in.ExplicitPath != "" {
		return canonicalize(resolveAgainst(in.ExplicitPath, in.Cwd))
	}
	if in.CursorRoot != "" && !in.SessionHasRoot {
		return canonicalize(in.CursorRoot)
	}
	if in.SessionHasRoot && in.SessionRoot != "" {
		return canonicalize(in.SessionRoot)
	}
	if in.EnvOverride != "" {
		return canonicalize(in.EnvOverride)
	}
	if found, ok := walkForMarker(in.Cwd); ok {
		return canonicalize(found)
	}
	return canonicalize(in.Cwd)
}

func resolveAgainst(path, cwd string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("daemon: canonicalize root %q: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The root may not exist yet (e.g. a fresh clone path argument);
		// fall back to the absolute, non-symlink-resolved form.
		return abs, nil
	}
	return resolved, nil
}

// walkForMarker walks cwd's ancestors looking for ".git" or any of
// rootMarkers, returning the first ancestor that has one.
func walkForMarker(cwd string) (string, bool) {
	dir := cwd
	for {
		if hasMarker(dir) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func hasMarker(dir string) bool {
	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
		return true
	}
	for _, marker := range rootMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
