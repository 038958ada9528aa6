package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ctxengine/ctxd/internal/indexer"
)

// Indexer is the narrow slice of *indexer.Indexer the watcher drives: the
// changed-paths fast path (with a paths hint) and a full incremental run
// (no hint).
type Indexer interface {
	IndexChangedPaths(ctx context.Context, models []indexer.ModelSpec, paths []string, dl *time.Time) (*indexer.Stats, error)
	IndexIncremental(ctx context.Context, models []indexer.ModelSpec, dl *time.Time) (*indexer.Stats, error)
}

// Watcher bridges fsnotify events to indexer invocations.
// One Watcher serves exactly one project root; the watcher never
// invokes the indexer concurrently with itself.
type Watcher struct {
	root     string
	models   []indexer.ModelSpec
	idx      Indexer
	filter   *RelevanceFilter
	notifier *fsnotify.Watcher

	mu          sync.Mutex
	state       *DebounceState
	tuner       *Tuner
	alerts      alertRing
	watchSet    map[string]struct{}
	lastCycleMs int64
	lastCycleAt time.Time

	done chan struct{}
}

// New creates a Watcher for root. It registers root and every
// subdirectory that passes the relevance filter with the OS notifier.
func New(root string, models []indexer.ModelSpec, idx Indexer, filter *RelevanceFilter) (*Watcher, error) {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		models:   models,
		idx:      idx,
		filter:   filter,
		notifier: notifier,
		state:    NewDebounceState(),
		tuner:    NewTuner(),
		watchSet: make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := w.watchTree(root); err != nil {
		notifier.Close()
		return nil, err
	}
	return w, nil
}

// watchTree walks dir and registers it plus every relevant subdirectory
// with the OS notifier (non-recursive per directory
// "union of directories currently registered" watch-set model).
func (w *Watcher) watchTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // a single unreadable subtree shouldn't abort the whole walk
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && !w.filter.IsWatchableDir(path) {
			return filepath.SkipDir
		}
		w.registerDir(path)
		return nil
	})
}

func (w *Watcher) registerDir(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watchSet[dir]; ok {
		return
	}
	if err := w.notifier.Add(dir); err != nil {
		// Registration failures are not fatal; the directory is simply
		// left out of the watch set.
		return
	}
	w.watchSet[dir] = struct{}{}
}

// Run drives the event loop until ctx is cancelled. It is the single
// consumer of fsnotify events and the single invoker of the indexer for
// this watcher's project root.
func (w *Watcher) Run(ctx context.Context) {
	defer w.notifier.Close()
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	armTimer := func() {
		w.mu.Lock()
		deadline := w.state.Deadline(time.Now())
		w.mu.Unlock()
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			if !w.filter.IsRelevant(ev.Name) {
				continue
			}

			w.mu.Lock()
			if w.filter.IsGitignore(ev.Name) {
				w.state.ForceFullScan = true
			}
			w.state.RecordEvent(ev.Name, time.Now())
			w.mu.Unlock()

			if ev.Op&fsnotify.Create != 0 {
				w.maybeExpandWatch(ev.Name)
			}

			armTimer()

		case <-timerC:
			w.runCycle(ctx)

		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: fsnotify error: %v", err)
		}
	}
}

// maybeExpandWatch: when a created path is a
// watchable directory, walk and register it and its relevant subtree.
func (w *Watcher) maybeExpandWatch(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if !w.filter.IsWatchableDir(path) {
		return
	}
	_ = w.watchTree(path)
}

// runCycle fires one debounced batch: drain pending paths, invoke the
// indexer, record telemetry, adapt the ladders, and reset state.
func (w *Watcher) runCycle(ctx context.Context) {
	w.mu.Lock()
	fullScan := w.state.ForceFullScan
	paths := w.state.DrainPaths()
	pending := w.state.PendingCount
	w.mu.Unlock()

	start := time.Now()
	var cycleErr error
	if fullScan || len(paths) == 0 {
		_, cycleErr = w.idx.IndexIncremental(ctx, w.models, nil)
	} else {
		_, cycleErr = w.idx.IndexChangedPaths(ctx, w.models, paths, nil)
	}
	duration := time.Since(start)

	w.mu.Lock()
	w.lastCycleMs = duration.Milliseconds()
	w.lastCycleAt = time.Now()
	w.tuner.RecordCycle(duration)
	if cycleErr != nil {
		w.alerts.push(Alert{At: time.Now(), Message: cycleErr.Error()})
	}

	load := w.tuner.P95()
	if load == 0 {
		load = duration.Milliseconds()
	}
	newDebounce, newMaxBatch := w.tuner.Adapt(load, pending, cycleErr != nil, w.state.Debounce, w.state.MaxBatch)
	w.state.Debounce = newDebounce
	w.state.MaxBatch = newMaxBatch
	w.state.Reset()
	w.mu.Unlock()

	if cycleErr != nil {
		log.Printf("watcher: index cycle failed: %v", cycleErr)
	}
}

// Health returns a snapshot of the watcher's current telemetry.
func (w *Watcher) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Health{
		P95Ms:             w.tuner.P95(),
		LastCycleMs:       w.lastCycleMs,
		LastCycleAt:       w.lastCycleAt,
		CurrentDebounceMs: w.state.Debounce.Milliseconds(),
		CurrentMaxBatchMs: w.state.MaxBatch.Milliseconds(),
		Alerts:            w.alerts.snapshot(),
		WatchedDirs:       len(w.watchSet),
	}
}

// Done is closed once Run returns, for callers that want to block on
// shutdown completion alongside cancelling the context passed to Run.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
