package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maypok86/otter"
)

// CacheSchemaVersion is written into every graph_cache.json and checked
// on load; a mismatch is StaleCache and forces a rebuild.
const CacheSchemaVersion = 1

// frontCacheMaxWeight bounds the in-memory front cache's total cost
// (node count + edge count across every cached key), so a daemon
// cycling through Invalidate/rebuild on many roots doesn't grow this
// cache unbounded.
const frontCacheMaxWeight = 200_000

// graphFront is the process-wide in-memory front for Cache.Load: it
// lives above any one Cache instance and is keyed on the on-disk path
// plus CacheKey, so separate Cache values for the same path share it.
var graphFront, _ = otter.MustBuilder[string, *frontEntry](frontCacheMaxWeight).
	Cost(func(key string, e *frontEntry) uint32 {
		return uint32(len(e.file.Nodes) + len(e.file.Edges))
	}).
	Build()

type frontEntry struct {
	file cacheFile
}

// CacheKey is the tuple a cached Assembler is valid for. Keyed on
// TemplateHash only, with no chunker-version field: a chunker upgrade
// that changes output for unchanged files is a known blind spot.
type CacheKey struct {
	StoreMtimeMs int64  `json:"store_mtime_ms"`
	Language     string `json:"language"`
	TemplateHash string `json:"template_hash"` // chunk_lookup_fingerprint
}

type cacheFile struct {
	Version int      `json:"version"`
	Key     CacheKey `json:"key"`
	Nodes   []Node   `json:"nodes"`
	Edges   []Edge   `json:"edges"`
}

// Cache persists one Assembler snapshot per project, single-writer
// (the context-search operation that just built it), lock-free reads via
// atomic rename.
type Cache struct {
	path string
}

// NewCache returns a Cache writing to "<project>/.context/graph_cache.json".
func NewCache(contextDir string) *Cache {
	return &Cache{path: filepath.Join(contextDir, "graph_cache.json")}
}

// Load returns the cached Assembler iff its key exactly matches want. A
// hit in the in-memory front skips the disk read and JSON decode
// entirely; a miss falls through to disk and repopulates the front.
func (c *Cache) Load(want CacheKey) (*Assembler, bool, error) {
	frontKey := c.frontKey(want)
	if entry, ok := graphFront.Get(frontKey); ok {
		return assemblerFromFile(entry.file), true, nil
	}

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("graph: read cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false, fmt.Errorf("graph: decode cache: %w", err)
	}
	if f.Version != CacheSchemaVersion || f.Key != want {
		return nil, false, nil
	}

	graphFront.Set(frontKey, &frontEntry{file: f})
	return assemblerFromFile(f), true, nil
}

func assemblerFromFile(f cacheFile) *Assembler {
	a := newAssembler()
	for _, n := range f.Nodes {
		a.AddNode(n)
	}
	for _, e := range f.Edges {
		a.AddEdge(e.From, e.To, e.Kind)
	}
	return a
}

func (c *Cache) frontKey(key CacheKey) string {
	return fmt.Sprintf("%s|%d|%s|%s", c.path, key.StoreMtimeMs, key.Language, key.TemplateHash)
}

// Save atomically writes a's snapshot under key, via tmp+rename.
func (c *Cache) Save(key CacheKey, a *Assembler) error {
	f := cacheFile{Version: CacheSchemaVersion, Key: key, Nodes: a.AllNodes()}
	for _, edges := range a.edges {
		f.Edges = append(f.Edges, edges...)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("graph: encode cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("graph: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("graph: write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("graph: rename cache: %w", err)
	}
	graphFront.Set(c.frontKey(key), &frontEntry{file: f})
	return nil
}

// SizeBytes returns the cache file's on-disk footprint, or 0 if absent.
func (c *Cache) SizeBytes() int64 {
	info, err := os.Stat(c.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
