package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ctxengine/ctxd/internal/config"
	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/embed"
	"github.com/ctxengine/ctxd/internal/graph"
	"github.com/ctxengine/ctxd/internal/indexer"
	"github.com/ctxengine/ctxd/internal/memory"
	"github.com/ctxengine/ctxd/internal/rpc"
	"github.com/ctxengine/ctxd/internal/search"
	"github.com/ctxengine/ctxd/internal/vectorstore"
	"github.com/ctxengine/ctxd/internal/watcher"
)

// ModelConfig names one embedding model the Registry loads a store for
// when it opens a root, mirroring indexer.ModelSpec's (id, template
// hash, provider) tuple without importing the indexer's write-side
// machinery into every read.
type ModelConfig struct {
	ID           string
	TemplateHash string
	NewProvider  func() embed.Provider
}

// Registry lazily builds and caches one Server per canonicalized project
// root, so a single daemon process can serve every root a proxy session
// resolves to (root resolution happens per tool call, not
// once per daemon). A root's Server is rebuilt from on-disk state the
// first time it is seen and reused afterward; entries never expire on
// their own since the daemon's own lifetime (orphan detection, hot-
// reload) bounds how long any one process serves requests.
type Registry struct {
	models      []ModelConfig
	watchHealth func(root string) func() *watcher.Health

	mu      sync.Mutex
	servers map[string]*Server
}

// NewRegistry returns an empty Registry that loads models per root.
func NewRegistry(models []ModelConfig, watchHealth func(root string) func() *watcher.Health) *Registry {
	return &Registry{models: models, watchHealth: watchHealth, servers: make(map[string]*Server)}
}

// ServerFor returns the Server for root, building and caching it on
// first use.
func (r *Registry) ServerFor(ctx context.Context, root string) (*Server, error) {
	r.mu.Lock()
	if s, ok := r.servers[root]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	s, err := r.buildServer(ctx, root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.servers[root]; ok {
		return existing, nil
	}
	r.servers[root] = s
	return s, nil
}

// Invalidate drops root's cached Server so the next ServerFor rebuilds
// it from disk, for use after an out-of-band reindex of that root.
func (r *Registry) Invalidate(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, root)
}

func (r *Registry) buildServer(ctx context.Context, root string) (*Server, error) {
	c, err := corpus.Load(indexer.CorpusPath(root))
	if err != nil {
		return nil, fmt.Errorf("daemon: load corpus for %s: %w", root, err)
	}

	contextDir := indexer.ContextDir(root)

	var models []search.ModelSearch
	var embedQuery func(ctx context.Context, text string) ([]float32, error)
	var runtimeSearch func(ctx context.Context, queryVector []float32, topK int) ([]vectorstore.Hit, error)
	for _, mc := range r.models {
		store, err := vectorstore.Load(indexer.IndexDir(root, mc.ID), mc.ID)
		if err != nil {
			return nil, fmt.Errorf("daemon: load store %s for %s: %w", mc.ID, root, err)
		}
		rt, err := vectorstore.BuildRuntime(ctx, store)
		if err != nil {
			return nil, fmt.Errorf("daemon: build runtime %s for %s: %w", mc.ID, root, err)
		}
		provider := mc.NewProvider()
		models = append(models, search.ModelSearch{
			ID:        mc.ID,
			Store:     store,
			Runtime:   rt,
			Provider:  provider,
			Templates: func(query string) string { return query },
		})
		if embedQuery == nil {
			p := provider
			embedQuery = func(ctx context.Context, text string) ([]float32, error) {
				vecs, err := p.Embed(ctx, []string{text}, embed.EmbedModeQuery)
				if err != nil || len(vecs) == 0 {
					return nil, err
				}
				return vecs[0], nil
			}
			runtimeSearch = rt.Search
		}
	}

	assembler := graph.Build(c)

	var nodeStore *graph.NodeStore
	if len(r.models) > 0 {
		want := graph.NodeMetadata{TemplateHash: r.models[0].TemplateHash}
		if ns, ok, err := graph.LoadNodeStore(graph.NodeStorePath(contextDir), want); err == nil && ok {
			nodeStore = ns
		}
	}

	mem := memory.Open(root)

	// A root with no config file, or an unreadable one, falls back to the
	// default profile rather than failing the whole server build.
	profileCfg := config.Default().Profile
	if cfg, err := config.LoadConfigFromDir(root); err == nil {
		profileCfg = cfg.Profile
	}
	profile, err := profileCfg.Compile()
	if err != nil {
		profile, _ = config.Default().Profile.Compile()
	}

	var watchHealth func() *watcher.Health
	if r.watchHealth != nil {
		watchHealth = r.watchHealth(root)
	}

	return &Server{
		Corpus:            c,
		Models:            models,
		Assembler:         assembler,
		NodeStore:         nodeStore,
		NodeRuntimeSearch: runtimeSearch,
		EmbedQuery:        embedQuery,
		Memory:            mem,
		Profile:           profile,
		RootHash:          rpc.FingerprintRoot(root),
		WatchHealth:       watchHealth,
	}, nil
}

// staticServer handles the root-independent methods (initialize,
// notifications/initialized, tools/list): their implementation in
// Server.Handle never touches per-root state, so a single zero-value
// Server answers them for every session.
var staticServer = &Server{}

// RootRouter is the daemon's top-level JSON-RPC handler: it resolves
// each tools/call request's target project root from its "path"
// argument (by the time a request reaches the daemon, the proxy has
// already injected a non-empty path) and
// dispatches to that root's Registry-cached Server. Every other method
// answers from staticServer.
type RootRouter struct {
	Registry *Registry
}

type toolCallPathParams struct {
	Name      string       `json:"name"`
	Arguments pathOnlyArgs `json:"arguments"`
}

type pathOnlyArgs struct {
	Path string `json:"path"`
}

// Handle implements Server.Handle's method dispatch, routing tools/call
// to the resolved root's Server and answering every other method
// statically.
func (rr *RootRouter) Handle(ctx context.Context, req rpc.Request) rpc.Response {
	if req.Method != "tools/call" {
		return staticServer.Handle(ctx, req)
	}

	var params toolCallPathParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpc.ErrorResponse(req.ID, rpc.ErrInvalidParams, "malformed tools/call params")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return rpc.ErrorResponse(req.ID, rpc.ErrInternal, fmt.Sprintf("resolve cwd: %v", err))
	}
	root, err := ResolveRoot(RootResolveInput{ExplicitPath: params.Arguments.Path, Cwd: cwd})
	if err != nil {
		return rpc.ErrorResponse(req.ID, rpc.ErrInvalidParams, fmt.Sprintf("invalid_path: %v", err))
	}

	SessionFromContext(ctx).SetRoot(root)

	srv, err := rr.Registry.ServerFor(ctx, root)
	if err != nil {
		return rpc.ErrorResponse(req.ID, rpc.ErrInvalidRequest, err.Error())
	}
	return srv.Handle(ctx, req)
}
