package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxengine/ctxd/internal/vectorstore"
)

func TestCacheSaveThenLoadRoundTripsNodesAndEdges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewCache(dir)
	key := CacheKey{StoreMtimeMs: 100, Language: "go", TemplateHash: "th1"}

	a := newAssembler()
	a.AddNode(Node{ChunkID: "a", FilePath: "a.go"})
	a.AddNode(Node{ChunkID: "b", FilePath: "b.go"})
	a.AddEdge("a", "b", RelationCalls)

	require.NoError(t, c.Save(key, a))

	loaded, ok, err := c.Load(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, loaded.NodeCount())
	edges := loaded.OutEdges("a")
	require.Len(t, edges, 1)
	assert.Equal(t, RelationCalls, edges[0].Kind)
}

func TestCacheLoadMissesOnKeyMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewCache(dir)
	a := newAssembler()
	a.AddNode(Node{ChunkID: "a"})
	require.NoError(t, c.Save(CacheKey{StoreMtimeMs: 1, Language: "go", TemplateHash: "th1"}, a))

	_, ok, err := c.Load(CacheKey{StoreMtimeMs: 2, Language: "go", TemplateHash: "th1"})
	require.NoError(t, err)
	assert.False(t, ok, "a stale store_mtime_ms must miss rather than return wrong data")
}

func TestCacheLoadMissesWhenFileAbsent(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	_, ok, err := c.Load(CacheKey{StoreMtimeMs: 1, Language: "go", TemplateHash: "th1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestCacheLoadHitsFrontCacheWithoutTouchingDisk checks that a key
// already populated in the in-memory front (by a prior Save or Load)
// resolves without needing the on-disk file to exist.
func TestCacheLoadHitsFrontCacheWithoutTouchingDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewCache(dir)
	key := CacheKey{StoreMtimeMs: 7, Language: "go", TemplateHash: "unique-front-cache-key"}

	a := newAssembler()
	a.AddNode(Node{ChunkID: "only"})
	require.NoError(t, c.Save(key, a))

	// Delete the on-disk file; the front cache entry Save() populated
	// must still answer this exact (path, key) without reading disk.
	require.NoError(t, os.Remove(c.path))

	loaded, ok, err := c.Load(key)
	require.NoError(t, err)
	require.True(t, ok, "a front-cache hit must not depend on the on-disk file existing")
	assert.Equal(t, 1, loaded.NodeCount())
}

func TestCacheFrontCacheIsSharedAcrossCacheValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewCache(dir)
	key := CacheKey{StoreMtimeMs: 9, Language: "go", TemplateHash: "another-unique-key"}

	a := newAssembler()
	a.AddNode(Node{ChunkID: "n"})
	require.NoError(t, c.Save(key, a))

	// A second Cache value pointed at the same path shares the
	// process-wide front cache keyed on (path, key), so it must hit the
	// front even though it never called Save itself.
	c2 := NewCache(dir)
	require.NoError(t, os.Remove(c2.path))
	loaded, ok, err := c2.Load(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, loaded.NodeCount())
}

func TestCacheSizeBytesZeroWhenAbsent(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	assert.Equal(t, int64(0), c.SizeBytes())
}

func TestCacheSizeBytesPositiveAfterSave(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewCache(dir)
	a := newAssembler()
	a.AddNode(Node{ChunkID: "n"})
	require.NoError(t, c.Save(CacheKey{StoreMtimeMs: 1, Language: "go", TemplateHash: "th"}, a))
	assert.Greater(t, c.SizeBytes(), int64(0))
}

func TestNodeStoreLoadMissesOnMetadataMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := NodeStorePath(dir)
	ns := NewNodeStore(NodeMetadata{SourceIndexMtimeMs: 1, GraphLanguage: "go", GraphDocVersion: 1, TemplateHash: "th1"})
	ns.Set(NodeKey{NodeID: "n1", ChunkID: "a.go:1:3"}, vectorstore.Entry{Vector: []float32{1, 2}})
	require.NoError(t, ns.Save(path))

	_, ok, err := LoadNodeStore(path, NodeMetadata{SourceIndexMtimeMs: 2, GraphLanguage: "go", GraphDocVersion: 1, TemplateHash: "th1"})
	require.NoError(t, err)
	assert.False(t, ok, "any of the four gating fields mismatching must miss, not error")
}

func TestNodeStoreSaveThenLoadRoundTripsEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := NodeStorePath(dir)
	meta := NodeMetadata{SourceIndexMtimeMs: 5, GraphLanguage: "go", GraphDocVersion: 1, TemplateHash: "th1"}
	ns := NewNodeStore(meta)
	key := NodeKey{NodeID: "n1", ChunkID: "a.go:1:3"}
	ns.Set(key, vectorstore.Entry{Vector: []float32{0.5, 0.5}})
	require.NoError(t, ns.Save(path))

	loaded, ok, err := LoadNodeStore(path, meta)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, loaded.Entries, key)
	assert.Equal(t, []float32{0.5, 0.5}, loaded.Entries[key].Vector)
}

func TestNodeStoreLoadMissesWhenAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, ok, err := LoadNodeStore(NodeStorePath(dir), NodeMetadata{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeStorePathJoinsContextDir(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("root", ".context", "graph_nodes.json"), NodeStorePath(filepath.Join("root", ".context")))
}

func TestDescribePrefersQualifiedNameThenSymbolThenFilePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pkg.Foo (go) in a.go", Describe(Node{QualifiedName: "pkg.Foo", Symbol: "Foo", Language: "go", FilePath: "a.go"}))
	assert.Equal(t, "Foo (go) in a.go", Describe(Node{Symbol: "Foo", Language: "go", FilePath: "a.go"}))
	assert.Equal(t, "a.go (go)", Describe(Node{Language: "go", FilePath: "a.go"}))
}
