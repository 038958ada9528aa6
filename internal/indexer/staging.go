package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/vectorstore"
	"github.com/google/uuid"
)

// contextDirName is the per-project metadata directory everything on disk lives under.
const contextDirName = ".context"

// ContextDir returns "<root>/.context".
func ContextDir(root string) string {
	return filepath.Join(root, contextDirName)
}

// CorpusPath returns "<root>/.context/corpus.json".
func CorpusPath(root string) string {
	return filepath.Join(ContextDir(root), "corpus.json")
}

// IndexDir returns "<root>/.context/indexes/<model_dir>".
func IndexDir(root, modelID string) string {
	return filepath.Join(ContextDir(root), "indexes", vectorstore.ModelDir(modelID))
}

// transaction is one staging directory for a single commit, named
// "tx-<unix_ms>-<pid>", with a uuid suffix added to
// guarantee uniqueness across same-millisecond concurrent attempts from
// distinct processes (pid collision across containers/namespaces is
// otherwise possible).
type transaction struct {
	root string
	dir  string
}

func beginTransaction(root string) (*transaction, error) {
	name := fmt.Sprintf("tx-%d-%d-%s", time.Now().UnixMilli(), os.Getpid(), uuid.NewString()[:8])
	dir := filepath.Join(ContextDir(root), ".staging", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("indexer: create staging dir: %w", err)
	}
	return &transaction{root: root, dir: dir}, nil
}

// cleanup best-effort removes the staging directory. It must also run
// on abnormal exit, so callers defer it immediately after
// beginTransaction succeeds.
func (tx *transaction) cleanup() {
	_ = os.RemoveAll(tx.dir)
}

// commit implements the staging+rename protocol:
// stage every model store, stage the corpus, rename the corpus into
// place, then rename each model's four files into place.
func (tx *transaction) commit(c *corpus.Corpus, stores map[string]*vectorstore.Store) error {
	for modelID, store := range stores {
		stagedModelDir := filepath.Join(tx.dir, "indexes", vectorstore.ModelDir(modelID))
		if err := store.SaveStaged(stagedModelDir); err != nil {
			return fmt.Errorf("indexer: stage store %s: %w", modelID, err)
		}
	}

	stagedCorpus := filepath.Join(tx.dir, "corpus.json")
	if err := c.SaveTo(stagedCorpus); err != nil {
		return fmt.Errorf("indexer: stage corpus: %w", err)
	}

	if err := os.MkdirAll(ContextDir(tx.root), 0o755); err != nil {
		return fmt.Errorf("indexer: create context dir: %w", err)
	}
	if err := os.Rename(stagedCorpus, CorpusPath(tx.root)); err != nil {
		return fmt.Errorf("indexer: commit corpus: %w", err)
	}

	for modelID := range stores {
		stagedModelDir := filepath.Join(tx.dir, "indexes", vectorstore.ModelDir(modelID))
		finalModelDir := IndexDir(tx.root, modelID)
		if err := os.MkdirAll(finalModelDir, 0o755); err != nil {
			return fmt.Errorf("indexer: create index dir for %s: %w", modelID, err)
		}
		for _, file := range []string{"index.json", "meta.json", "mtimes.json", "watermark.json"} {
			if err := os.Rename(filepath.Join(stagedModelDir, file), filepath.Join(finalModelDir, file)); err != nil {
				return fmt.Errorf("indexer: commit %s for %s: %w", file, modelID, err)
			}
		}
	}
	return nil
}
