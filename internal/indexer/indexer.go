// Package indexer implements the incremental indexing pipeline: scan,
// chunk, embed, persist, under a per-project write lock and a
// process-global concurrency permit, with staging+rename atomic commits
// and self-healing drift repair between the chunk corpus and each
// model's vector store. Each run orchestrates detect changes -> delete
// -> carry unchanged mtimes -> process changed -> repair drift ->
// commit.
package indexer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ctxengine/ctxd/internal/chunk"
	"github.com/ctxengine/ctxd/internal/chunker"
	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/embed"
	"github.com/ctxengine/ctxd/internal/gitprobe"
	"github.com/ctxengine/ctxd/internal/scanner"
	"github.com/ctxengine/ctxd/internal/vectorstore"
)

// ErrBudgetExceeded is returned when a deadline elapses mid-run. A run
// that returns this error MUST NOT have committed.
var ErrBudgetExceeded = fmt.Errorf("indexer: budget exceeded")

// ModelSpec names one embedding model an Indexer maintains a store for.
type ModelSpec struct {
	ID           string
	TemplateHash string
	Provider     embed.Provider
}

// Indexer orchestrates scan -> chunk -> embed -> persist for one project
// root.
type Indexer struct {
	root  string
	scan  *scanner.Scanner
	chunk chunker.Chunker
	git   *gitprobe.Probe
	permit *Permit

	// activeProviders is populated at the start of run() for the
	// duration of a single index_* call; it exists so helpers like
	// embedAndInsert don't need models threaded through every signature.
	activeProviders map[string]embed.Provider
}

// New returns an Indexer for root.
func New(root string, sc *scanner.Scanner, ch chunker.Chunker, gp *gitprobe.Probe, permit *Permit) *Indexer {
	return &Indexer{root: root, scan: sc, chunk: ch, git: gp, permit: permit}
}

type deadline struct {
	at *time.Time
}

func (d deadline) check() error {
	if d.at != nil && time.Now().After(*d.at) {
		return ErrBudgetExceeded
	}
	return nil
}

// IndexFull scans everything and rebuilds the corpus and every store
// from scratch.
func (idx *Indexer) IndexFull(ctx context.Context, models []ModelSpec, dl *time.Time) (*Stats, error) {
	return idx.run(ctx, models, dl, func(c *corpus.Corpus, stores map[string]*vectorstore.Store, stats *Stats, d deadline) error {
		paths, err := idx.scan.Scan()
		if err != nil {
			return fmt.Errorf("indexer: scan: %w", err)
		}
		if err := d.check(); err != nil {
			return err
		}
		return idx.processFiles(ctx, paths, c, stores, stats, d)
	})
}

// IndexIncremental loads the existing corpus and stores, purges files
// that disappeared, processes files whose mtime advanced, and repairs
// drift.
func (idx *Indexer) IndexIncremental(ctx context.Context, models []ModelSpec, dl *time.Time) (*Stats, error) {
	return idx.run(ctx, models, dl, func(c *corpus.Corpus, stores map[string]*vectorstore.Store, stats *Stats, d deadline) error {
		live, err := idx.scan.Scan()
		if err != nil {
			return fmt.Errorf("indexer: scan: %w", err)
		}
		if err := d.check(); err != nil {
			return err
		}

		liveSet := make(map[string]struct{}, len(live))
		for _, p := range live {
			liveSet[p] = struct{}{}
		}

		for _, tracked := range c.Files() {
			if _, ok := liveSet[tracked]; !ok {
				idx.purgeFile(tracked, c, stores)
			}
		}

		var toProcess []string
		for _, p := range live {
			abs := filepath.Join(idx.root, p)
			mtimeMs, err := statMtimeMs(abs)
			if err != nil {
				stats.recordError(fmt.Errorf("stat %s: %w", p, err))
				continue
			}
			stored, anyStored := firstStoredMtime(stores, p)
			if anyStored && mtimeMs <= stored {
				continue
			}
			toProcess = append(toProcess, p)
		}

		if err := idx.processFiles(ctx, toProcess, c, stores, stats, d); err != nil {
			return err
		}
		return nil
	})
}

// IndexChangedPaths is the fast delta path: process only the given
// paths, with git reconciliation filling in anything the caller's hint
// missed.
func (idx *Indexer) IndexChangedPaths(ctx context.Context, models []ModelSpec, paths []string, dl *time.Time) (*Stats, error) {
	if !idx.changedPathsPreconditionsMet(models) {
		return idx.IndexIncremental(ctx, models, dl)
	}

	merged, fallback, newWatermark, err := idx.reconcile(paths, models)
	if err != nil {
		return nil, err
	}
	if fallback {
		return idx.IndexIncremental(ctx, models, dl)
	}

	return idx.run(ctx, models, dl, func(c *corpus.Corpus, stores map[string]*vectorstore.Store, stats *Stats, d deadline) error {
		liveSet := make(map[string]struct{}, len(merged))
		for _, p := range merged {
			if idx.scan.IsRelevant(p) {
				if _, err := os.Stat(filepath.Join(idx.root, p)); err == nil {
					liveSet[p] = struct{}{}
				}
			}
		}

		var toProcess []string
		for p := range liveSet {
			toProcess = append(toProcess, p)
		}
		for _, p := range merged {
			if _, live := liveSet[p]; !live {
				idx.purgeFile(p, c, stores)
			}
		}

		if err := idx.processFiles(ctx, toProcess, c, stores, stats, d); err != nil {
			return err
		}

		if newWatermark != nil {
			for _, s := range stores {
				s.Watermark = *newWatermark
			}
		}
		return nil
	})
}

func (idx *Indexer) changedPathsPreconditionsMet(models []ModelSpec) bool {
	if _, err := os.Stat(CorpusPath(idx.root)); err != nil {
		return false
	}
	for _, m := range models {
		if !vectorstore.Exists(IndexDir(idx.root, m.ID)) {
			return false
		}
	}
	_, ok, err := idx.git.ProbeState(idx.root)
	return ok && err == nil
}

// purgeFile removes a file's chunks and mtime record from the corpus and
// every store.
func (idx *Indexer) purgeFile(relPath string, c *corpus.Corpus, stores map[string]*vectorstore.Store) {
	c.RemoveFile(relPath)
	for _, s := range stores {
		s.RemoveFile(relPath)
		s.RemoveMtime(relPath)
	}
}

// processFiles chunks and embeds a batch of relative paths, overwriting
// their corpus entries and refreshing each model's store.
func (idx *Indexer) processFiles(ctx context.Context, relPaths []string, c *corpus.Corpus, stores map[string]*vectorstore.Store, stats *Stats, d deadline) error {
	for i, relPath := range relPaths {
		if i%32 == 0 {
			if err := d.check(); err != nil {
				return err
			}
		}

		abs := filepath.Join(idx.root, relPath)
		data, err := os.ReadFile(abs)
		if err != nil {
			stats.recordError(fmt.Errorf("read %s: %w", relPath, err))
			continue
		}

		chunks, err := idx.chunk.ChunkFile(ctx, relPath, string(data))
		if err != nil {
			stats.recordError(fmt.Errorf("chunk %s: %w", relPath, err))
			continue
		}
		c.SetFile(relPath, chunks)

		lang := "unknown"
		if len(chunks) > 0 {
			lang = chunks[0].Metadata.Language
		}
		stats.recordFile(lang, len(chunks))

		mtimeMs, err := statMtimeMs(abs)
		if err != nil {
			stats.recordError(fmt.Errorf("stat %s: %w", relPath, err))
			continue
		}

		for modelID, store := range stores {
			store.RemoveFile(relPath)
			if err := idx.embedAndInsert(ctx, store, modelID, relPath, chunks); err != nil {
				stats.recordError(fmt.Errorf("embed %s for %s: %w", relPath, modelID, err))
				continue
			}
			store.SetMtime(relPath, mtimeMs)
		}
	}
	return nil
}

func (idx *Indexer) embedAndInsert(ctx context.Context, store *vectorstore.Store, modelID, relPath string, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	provider := idx.providerFor(modelID)
	if provider == nil {
		return fmt.Errorf("no provider configured for model %s", modelID)
	}

	vectors, err := embed.EmbedChunks(ctx, provider, chunks, 0, nil)
	if err != nil {
		return err
	}
	for i, ch := range chunks {
		id := ch.ID()
		store.Set(id, vectorstore.Entry{Vector: vectors[i], PayloadRef: id})
	}
	return nil
}

// providerFor looks up the embedder configured for modelID during the
// current run.
func (idx *Indexer) providerFor(modelID string) embed.Provider {
	return idx.activeProviders[modelID]
}

func firstStoredMtime(stores map[string]*vectorstore.Store, relPath string) (int64, bool) {
	for _, s := range stores {
		if v, ok := s.Mtimes[relPath]; ok {
			return v, true
		}
	}
	return 0, false
}

// run is the shared scaffold for every index_* operation: acquire the
// write lock and concurrency permit, load or create the corpus and
// stores, invoke body, repair drift, and commit via staging+rename.
func (idx *Indexer) run(ctx context.Context, models []ModelSpec, dl *time.Time, body func(*corpus.Corpus, map[string]*vectorstore.Store, *Stats, deadline) error) (*Stats, error) {
	start := time.Now()
	d := deadline{at: dl}
	stats := newStats()

	if err := os.MkdirAll(ContextDir(idx.root), 0o755); err != nil {
		return nil, fmt.Errorf("indexer: create context dir: %w", err)
	}

	lock := NewProjectLock(ContextDir(idx.root))
	if err := lock.Acquire(ctx, 50*time.Millisecond); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Printf("indexer: release write lock: %v", err)
		}
	}()

	if err := idx.permit.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("indexer: acquire concurrency permit: %w", err)
	}
	defer idx.permit.Release()

	c, err := corpus.Load(CorpusPath(idx.root))
	if err != nil {
		return nil, err
	}
	if err := d.check(); err != nil {
		return nil, err
	}

	stores := make(map[string]*vectorstore.Store, len(models))
	idx.activeProviders = make(map[string]embed.Provider, len(models))
	for _, m := range models {
		s, err := vectorstore.Load(IndexDir(idx.root, m.ID), m.ID)
		if err != nil {
			return nil, err
		}
		if s.EmbeddingTemplateHash == "" {
			s.EmbeddingTemplateHash = m.TemplateHash
		}
		if s.Dimensions == 0 && m.Provider != nil {
			s.Dimensions = m.Provider.Dimensions()
		}
		stores[m.ID] = s
		idx.activeProviders[m.ID] = m.Provider
	}
	if err := d.check(); err != nil {
		return nil, err
	}

	if err := body(c, stores, stats, d); err != nil {
		return nil, err
	}

	for modelID, store := range stores {
		provider := idx.activeProviders[modelID]
		if provider == nil {
			continue
		}
		if err := repairDrift(ctx, c, store, provider); err != nil {
			stats.recordError(err)
		}
	}

	if err := d.check(); err != nil {
		return nil, err
	}

	tx, err := beginTransaction(idx.root)
	if err != nil {
		return nil, err
	}
	defer tx.cleanup()

	if err := tx.commit(c, stores); err != nil {
		return nil, err
	}

	stats.finish(start)
	return stats, nil
}
