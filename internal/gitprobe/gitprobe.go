// Package gitprobe implements the Git probe external collaborator
// contract: probe_state(root) and
// changed_paths_between(root, a, b, max). Built on
// github.com/go-git/go-git/v5: a project-local git read path that never
// assumes a `git` executable on PATH.
package gitprobe

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// State is the probed git state of a worktree, or the zero value when the
// root is not a git repository (ProbeState's second return is false).
type State struct {
	Head         string
	Dirty        bool
	DirtyHash    string
	DirtyPaths   []string
	ComputedAtMs int64
}

// Probe implements the Git probe contract over go-git.
type Probe struct{}

// New returns a Probe.
func New() *Probe { return &Probe{} }

// ProbeState reports the current HEAD, dirty status, and a stable hash of
// the dirty set for root. The second return is false when root is not
// inside a git worktree at all; that is not an error, it is the expected
// state for non-git projects (the Fs watermark variant exists
// for exactly this case).
func (p *Probe) ProbeState(root string) (State, bool, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}

	head, err := repo.Head()
	headStr := ""
	if err == nil {
		headStr = head.Hash().String()
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return State{}, false, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return State{}, false, err
	}
	status, err := wt.Status()
	if err != nil {
		return State{}, false, err
	}

	var dirtyPaths []string
	for path := range status {
		if status.IsUntracked(path) {
			dirtyPaths = append(dirtyPaths, path)
			continue
		}
		s := status.File(path)
		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			dirtyPaths = append(dirtyPaths, path)
		}
	}
	sort.Strings(dirtyPaths)

	return State{
		Head:         headStr,
		Dirty:        len(dirtyPaths) > 0,
		DirtyHash:    hashPaths(dirtyPaths),
		DirtyPaths:   dirtyPaths,
		ComputedAtMs: time.Now().UnixMilli(),
	}, true, nil
}

func hashPaths(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MaxChangedPaths bounds changed_paths_between: an
// overflow is treated as a probe failure by the caller, which then falls
// back to a full incremental scan.
const MaxChangedPaths = 512

// ChangedPathsBetween returns the relative paths that differ between
// commits a and b, or ok=false if either revision can't be resolved or
// the changed set exceeds max.
func (p *Probe) ChangedPathsBetween(root, a, b string, max int) ([]string, bool, error) {
	if max <= 0 {
		max = MaxChangedPaths
	}
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	commitA, err := resolveCommit(repo, a)
	if err != nil {
		return nil, false, nil
	}
	commitB, err := resolveCommit(repo, b)
	if err != nil {
		return nil, false, nil
	}

	treeA, err := commitA.Tree()
	if err != nil {
		return nil, false, err
	}
	treeB, err := commitB.Tree()
	if err != nil {
		return nil, false, err
	}

	changes, err := treeA.Diff(treeB)
	if err != nil {
		return nil, false, err
	}
	if len(changes) > max {
		return nil, false, nil
	}

	seen := make(map[string]struct{}, len(changes))
	var paths []string
	for _, c := range changes {
		for _, name := range []string{c.From.Name, c.To.Name} {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			paths = append(paths, name)
		}
	}
	if len(paths) > max {
		return nil, false, nil
	}
	sort.Strings(paths)
	return paths, true, nil
}

func resolveCommit(repo *git.Repository, rev string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, err
	}
	return repo.CommitObject(*hash)
}
