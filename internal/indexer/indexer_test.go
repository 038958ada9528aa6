package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxengine/ctxd/internal/chunker"
	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/embed"
	"github.com/ctxengine/ctxd/internal/gitprobe"
	"github.com/ctxengine/ctxd/internal/scanner"
	"github.com/ctxengine/ctxd/internal/vectorstore"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return root
}

// pastDeadline returns a deadline already in the past, forcing the very
// first deadline.check() inside a run to trip ErrBudgetExceeded.
func pastDeadline() time.Time {
	return time.Now().Add(-time.Hour)
}

func newTestIndexer(t *testing.T, root string) (*Indexer, []ModelSpec) {
	t.Helper()
	sc, err := scanner.New(root, scanner.Options{})
	require.NoError(t, err)

	idx := New(root, sc, chunker.NewHeuristicChunker(), gitprobe.New(), NewPermit())
	models := []ModelSpec{{ID: "test-model", TemplateHash: "th1", Provider: embed.NewMockProvider()}}
	return idx, models
}

// TestIndexFullPopulatesConsistentCorpusAndStore checks that every
// chunk id in a model's VectorStore resolves in the corpus, and vice
// versa, after a full index run.
func TestIndexFullPopulatesConsistentCorpusAndStore(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"a.go": "package a\n\nfunc Foo() {}\n",
		"b.go": "package a\n\nfunc Bar() {}\n",
	})
	idx, models := newTestIndexer(t, root)

	stats, err := idx.IndexFull(context.Background(), models, nil)
	require.NoError(t, err)
	assert.Greater(t, stats.Files, 0)

	c, err := corpus.Load(CorpusPath(root))
	require.NoError(t, err)
	store, err := vectorstore.Load(IndexDir(root, "test-model"), "test-model")
	require.NoError(t, err)

	require.Greater(t, store.Len(), 0)
	for id := range store.IDs() {
		_, ok := c.Lookup(id)
		assert.True(t, ok, "store entry %s must resolve in the corpus", id)
	}
	for id := range c.AllIDs() {
		_, ok := store.Get(id)
		assert.True(t, ok, "corpus chunk %s must have a store entry", id)
	}
}

// TestIndexIncrementalPurgesDeletedFiles checks that a
// file removed from the live scan set is purged from both the corpus and
// every model's store on the next incremental run.
func TestIndexIncrementalPurgesDeletedFiles(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"keep.go":   "package a\n\nfunc Keep() {}\n",
		"remove.go": "package a\n\nfunc Remove() {}\n",
	})
	idx, models := newTestIndexer(t, root)

	_, err := idx.IndexFull(context.Background(), models, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "remove.go")))

	_, err = idx.IndexIncremental(context.Background(), models, nil)
	require.NoError(t, err)

	c, err := corpus.Load(CorpusPath(root))
	require.NoError(t, err)
	assert.False(t, c.HasFile("remove.go"))
	assert.True(t, c.HasFile("keep.go"))

	store, err := vectorstore.Load(IndexDir(root, "test-model"), "test-model")
	require.NoError(t, err)
	for id := range store.IDs() {
		assert.NotContains(t, id, "remove.go:", "store must not retain entries for a purged file")
	}
	_, hasRemoveMtime := store.Mtimes["remove.go"]
	assert.False(t, hasRemoveMtime)
}

// TestIndexIncrementalIsIdempotentWithNoChanges checks that two
// consecutive index_incremental calls against an unchanged tree produce
// byte-equal corpus.json and index.json/mtimes.json.
func TestIndexIncrementalIsIdempotentWithNoChanges(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"a.go": "package a\n\nfunc Foo() {}\n",
	})
	idx, models := newTestIndexer(t, root)

	_, err := idx.IndexFull(context.Background(), models, nil)
	require.NoError(t, err)

	firstCorpus, err := os.ReadFile(CorpusPath(root))
	require.NoError(t, err)
	firstIndex, err := os.ReadFile(filepath.Join(IndexDir(root, "test-model"), "index.json"))
	require.NoError(t, err)
	firstMtimes, err := os.ReadFile(filepath.Join(IndexDir(root, "test-model"), "mtimes.json"))
	require.NoError(t, err)

	_, err = idx.IndexIncremental(context.Background(), models, nil)
	require.NoError(t, err)

	secondCorpus, err := os.ReadFile(CorpusPath(root))
	require.NoError(t, err)
	secondIndex, err := os.ReadFile(filepath.Join(IndexDir(root, "test-model"), "index.json"))
	require.NoError(t, err)
	secondMtimes, err := os.ReadFile(filepath.Join(IndexDir(root, "test-model"), "mtimes.json"))
	require.NoError(t, err)

	assert.Equal(t, string(firstCorpus), string(secondCorpus))
	assert.Equal(t, string(firstIndex), string(secondIndex))
	assert.Equal(t, string(firstMtimes), string(secondMtimes))
}

// TestIndexFullBudgetExceededLeavesNoPartialState checks that a run
// returning ErrBudgetExceeded must not have
// committed anything: no .context directory's corpus.json/index files
// appear from that run.
func TestIndexFullBudgetExceededLeavesNoPartialState(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"a.go": "package a\n\nfunc Foo() {}\n",
		"b.go": "package a\n\nfunc Bar() {}\n",
	})
	idx, models := newTestIndexer(t, root)

	past := pastDeadline()
	_, err := idx.IndexFull(context.Background(), models, &past)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	_, statErr := os.Stat(CorpusPath(root))
	assert.True(t, os.IsNotExist(statErr), "a budget-exceeded run must not commit corpus.json")
}

// TestIndexFullThenBudgetExceededOnSecondRunLeavesFirstRunIntact covers
// the crash-mid-incremental-run case: a committed run's corpus.json is
// untouched by a later run that aborts on deadline.
func TestIndexFullThenBudgetExceededOnSecondRunLeavesFirstRunIntact(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"a.go": "package a\n\nfunc Foo() {}\n",
	})
	idx, models := newTestIndexer(t, root)

	_, err := idx.IndexFull(context.Background(), models, nil)
	require.NoError(t, err)
	before, err := os.ReadFile(CorpusPath(root))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package a\n\nfunc Bar() {}\n"), 0o644))

	past := pastDeadline()
	_, err = idx.IndexIncremental(context.Background(), models, &past)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	after, err := os.ReadFile(CorpusPath(root))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "an aborted run must not mutate the prior committed state")
}
