// Package memory implements the read_pack Recall/Memory intents'
// external memory overlay: a read-only layer over an
// external agent CLI's own session transcripts, not anything ctxd
// itself writes. ctxd never records a session of its own; it discovers
// whatever session history the external CLI already maintains under its
// home directory (CODEX_HOME, or ~/.codex by default), matches sessions
// whose working directory is inside the project root, and classifies
// each session's JSONL events into titled candidates: decisions,
// plans, blockers, evidence, requirements, and raw prompt/reply/tool
// traces, which ForQuery and Recent then rank. Discovery, the
// per-session byte-cursor incremental scan, content-hash and
// semantic-key dedup, and two-stage lexical-then-semantic ranking all
// assume the daemon and the external CLI share one filesystem-visible
// home.
package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctxengine/ctxd/internal/readpack"
)

// Hit is one ranked overlay result surfaced to read_pack.
type Hit struct {
	Kind      string
	Title     string
	Score     float64
	TsMs      int64
	Excerpt   string
	Reference map[string]any
}

// Overlay scans one project's matching session transcripts under an
// external agent CLI's home directory. A project with no such CLI
// installed, or no matching sessions, simply yields empty results;
// that is not an error; a fresh project has no memory yet.
type Overlay struct {
	projectRoot  string
	agentHome    string
	sessionsRoot string
}

// Open resolves the external agent CLI's home/sessions directory for
// projectRoot. Resolution never errors: an Overlay with no sessions
// root just answers every call with no hits; absence of optional
// state is not a failure (compare a root with no graph.NodeStore yet).
func Open(projectRoot string) *Overlay {
	o := &Overlay{projectRoot: projectRoot}
	home, ok := discoverAgentHome()
	if !ok {
		return o
	}
	o.agentHome = home
	if root, ok := sessionsRoot(home); ok {
		o.sessionsRoot = root
	}
	return o
}

func (o *Overlay) available() bool { return o.sessionsRoot != "" }

// discoverAgentHome resolves the external CLI's home directory: the
// CODEX_HOME environment variable when set and valid, falling back to
// "~/.codex".
func discoverAgentHome() (string, bool) {
	if v := strings.TrimSpace(os.Getenv("CODEX_HOME")); v != "" {
		if _, ok := sessionsRoot(v); ok {
			return v, true
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	dir := filepath.Join(home, ".codex")
	if _, ok := sessionsRoot(dir); ok {
		return dir, true
	}
	return "", false
}

func sessionsRoot(agentHome string) (string, bool) {
	dir := filepath.Join(agentHome, "sessions")
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

// loadCandidates returns the project's cached overlay candidates,
// refreshing the cache from disk first if it has aged past the mode-
// and purpose-appropriate refresh interval, bounding re-scan frequency
// the same way the recent window itself is bounded.
func (o *Overlay) loadCandidates(forQuery bool, responseMode readpack.ResponseMode) []candidate {
	mode := string(responseMode)
	path := cachePath(o.agentHome, o.projectRoot)

	cache := loadCache(path)
	if cache == nil || cache.V != sessionsCacheVersion || cache.SessionsRoot != o.sessionsRoot {
		cache = emptyCache(o.sessionsRoot)
	}

	age := nowUnixMs() - cache.BuiltAtUnixMs
	if age >= refreshIntervalMs(forQuery, mode) {
		cache = refreshCache(o.projectRoot, o.sessionsRoot, cache, mode)
		_ = writeCache(path, cache) // best-effort: a failed cache write just costs a re-scan next call
	}

	out := make([]candidate, 0, len(cache.Candidates))
	for _, sc := range cache.Candidates {
		out = append(out, candidate{storedCandidate: sc})
	}
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

// ForQuery answers "what did we last discuss/decide about query" by
// ranking the project's overlay candidates against query: a lexical
// pre-filter (bleve, matching internal/search's hybrid scorer) followed
// by a semantic rerank of the lexical top slice via embed.
//
// Minimal response mode and an empty query both skip the overlay
// entirely: Minimal responses stay at the bare essentials, and an
// unscoped recall has nothing to rank against.
func (o *Overlay) ForQuery(ctx context.Context, query string, responseMode readpack.ResponseMode, embed EmbedFunc) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" || responseMode == readpack.ResponseModeMinimal || !o.available() {
		return nil, nil
	}

	cands := o.loadCandidates(true, responseMode)
	if len(cands) == 0 {
		return nil, nil
	}

	if err := applyLexicalScores(cands, query); err != nil {
		return nil, err
	}
	sortByPriorityThenLexical(cands)
	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}

	selected := selectForEmbedding(cands)
	hits := rankCandidates(ctx, query, selected, embed)
	if len(hits) > defaultMaxHits {
		hits = hits[:defaultMaxHits]
	}
	return hits, nil
}

// Recent answers the Memory intent: the overlay's raw recent window,
// newest-and-highest-priority first, with no query to rank against.
// Compact ("Facts") mode narrows the kinds returned to the
// engineering-conclusion set so it stays a low-noise daily driver;
// either mode applies a per-kind diversity cap so one chatty kind
// doesn't crowd out the rest.
func (o *Overlay) Recent(responseMode readpack.ResponseMode) ([]Hit, error) {
	if responseMode == readpack.ResponseModeMinimal || !o.available() {
		return nil, nil
	}

	cands := o.loadCandidates(false, responseMode)
	if len(cands) == 0 {
		return nil, nil
	}

	if responseMode == readpack.ResponseModeCompact {
		filtered := cands[:0]
		for _, c := range cands {
			if factsModeKinds[c.Kind] {
				filtered = append(filtered, c)
			}
		}
		cands = filtered
	}
	sortByPriorityThenRecency(cands)

	caps := diversityCaps(string(responseMode))
	state := newDiversityState()
	hits := make([]Hit, 0, defaultMaxHits)
	for _, c := range cands {
		if len(hits) >= defaultMaxHits {
			break
		}
		if !allowCandidateKind(c.Kind, state, caps) {
			continue
		}
		score := 1.0 - float64(len(hits))*0.01
		hits = append(hits, toHit(c.storedCandidate, score))
	}
	return hits, nil
}

func sortByPriorityThenLexical(cands []candidate) {
	sortCandidates(cands, func(a, b candidate) bool {
		if pa, pb := kindPriority(a.Kind), kindPriority(b.Kind); pa != pb {
			return pa > pb
		}
		if a.lexicalScore != b.lexicalScore {
			return a.lexicalScore > b.lexicalScore
		}
		if a.TsMs != b.TsMs {
			return a.TsMs > b.TsMs
		}
		return a.Kind < b.Kind
	})
}

func sortByPriorityThenRecency(cands []candidate) {
	sortCandidates(cands, func(a, b candidate) bool {
		if pa, pb := kindPriority(a.Kind), kindPriority(b.Kind); pa != pb {
			return pa > pb
		}
		if a.TsMs != b.TsMs {
			return a.TsMs > b.TsMs
		}
		return a.Kind < b.Kind
	})
}

func sortCandidates(cands []candidate, less func(a, b candidate) bool) {
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && less(cands[j], cands[j-1]); j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}
