// Package scanner walks a project tree and returns the set of files
// worth indexing, honoring .gitignore plus a fixed built-in ignore list
// and noise/secret file filters: glob-compiled ignore patterns walked
// with filepath.Walk.
package scanner

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// builtinIgnoreDirs fixed ignore set: any path
// segment matching one of these makes the path irrelevant regardless of
// .gitignore.
var builtinIgnoreDirs = map[string]struct{}{
	"node_modules": {},
	"target":       {},
	".git":         {},
	"dist":         {},
	"build":        {},
	"vendor":       {},
	".context":     {},
	"__pycache__":  {},
	".venv":        {},
}

// dotfileAllowlist holds the small set of dot-prefixed names that remain
// relevant despite the leading-dot rule.
var dotfileAllowlist = map[string]struct{}{
	".github":        {},
	".gitlab-ci.yml":  {},
	".env.example":    {},
}

// noiseFiles are known-noise basenames excluded regardless of extension.
var noiseFiles = map[string]struct{}{
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"Cargo.lock":        {},
	"go.sum":            {},
	"Makefile":          {},
	"docker-compose.yml": {},
	"docker-compose.yaml": {},
}

// secretFiles are known-secret basenames always excluded.
var secretFiles = map[string]struct{}{
	".env":      {},
	".npmrc":    {},
	".netrc":    {},
	".pgpass":   {},
}

// benchLogGlob matches "<root>/<anything>/bench/logs/*.json" per
// excluded wholesale.
var benchLogGlob = glob.MustCompile("*/bench/logs/*.json", '/')

// Options configures a scan.
type Options struct {
	// ExtraIgnore are additional glob patterns (gobwas/glob syntax,
	// '/' separator) applied on top of .gitignore and the built-ins.
	ExtraIgnore []string
}

// Scanner walks a project root and yields relevant, indexable files.
type Scanner struct {
	root        string
	gitignore   []glob.Glob
	extraIgnore []glob.Glob
}

// New compiles a Scanner for root. It reads root/.gitignore if present;
// a missing or unreadable .gitignore is not an error, it simply
// contributes no additional patterns.
func New(root string, opts Options) (*Scanner, error) {
	s := &Scanner{root: root}

	patterns, err := readGitignore(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		globs, err := compileGitignorePattern(p)
		if err != nil {
			continue // an unparseable line is skipped, not fatal
		}
		s.gitignore = append(s.gitignore, globs...)
	}

	for _, p := range opts.ExtraIgnore {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		s.extraIgnore = append(s.extraIgnore, g)
	}

	return s, nil
}

func readGitignore(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scan.Err()
}

// compileGitignorePattern turns a single .gitignore line into one or more
// globs. An unanchored pattern (no "/" in the line) matches at any depth,
// so both the bare pattern (root level) and a "**/"-prefixed variant are
// compiled, avoiding any reliance on "**" matching a zero-length prefix.
// Negation ("!pattern") is not supported and is rejected so it is simply
// skipped upstream rather than silently misapplied.
func compileGitignorePattern(line string) ([]glob.Glob, error) {
	if strings.HasPrefix(line, "!") {
		return nil, errUnsupportedNegation
	}
	pattern := line
	if strings.HasSuffix(pattern, "/") {
		pattern = pattern + "**"
	}

	if strings.Contains(pattern, "/") {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		return []glob.Glob{g}, nil
	}

	root, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	nested, err := glob.Compile("**/"+pattern, '/')
	if err != nil {
		return nil, err
	}
	return []glob.Glob{root, nested}, nil
}

var errUnsupportedNegation = scannerError("gitignore negation patterns are not supported")

type scannerError string

func (e scannerError) Error() string { return string(e) }

// Scan walks the tree rooted at the scanner's root and returns the
// project-relative, forward-slash paths of every relevant file.
func (s *Scanner) Scan() ([]string, error) {
	var out []string
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == s.root {
			return nil
		}
		relPath, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if s.isIgnoredDir(relPath) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.IsRelevant(relPath) {
			out = append(out, relPath)
		}
		return nil
	})
	return out, err
}

func (s *Scanner) isIgnoredDir(relPath string) bool {
	base := filepath.Base(relPath)
	if _, ignored := builtinIgnoreDirs[base]; ignored {
		return true
	}
	if strings.HasPrefix(base, ".") {
		if _, allowed := dotfileAllowlist[base]; !allowed {
			return true
		}
	}
	return s.matchesIgnore(relPath + "/**")
}

// IsRelevant is the watcher's relevance predicate: the
// same rule the watcher applies per-event and the scanner applies
// per-walked-file.
func (s *Scanner) IsRelevant(relPath string) bool {
	base := filepath.Base(relPath)

	if strings.EqualFold(base, ".gitignore") {
		return true
	}

	for _, seg := range strings.Split(relPath, "/") {
		if _, ignored := builtinIgnoreDirs[seg]; ignored {
			return false
		}
		if strings.HasPrefix(seg, ".") && seg != base {
			if _, allowed := dotfileAllowlist[seg]; !allowed {
				return false
			}
		}
	}
	if _, secret := secretFiles[base]; secret {
		return false
	}
	if strings.HasPrefix(base, ".") {
		if _, allowed := dotfileAllowlist[base]; !allowed {
			return false
		}
	}

	if _, noisy := noiseFiles[base]; noisy {
		return false
	}
	if benchLogGlob.Match(relPath) {
		return false
	}

	return !s.matchesIgnore(relPath)
}

func (s *Scanner) matchesIgnore(relPath string) bool {
	for _, g := range s.gitignore {
		if g.Match(relPath) {
			return true
		}
	}
	for _, g := range s.extraIgnore {
		if g.Match(relPath) {
			return true
		}
	}
	return false
}
