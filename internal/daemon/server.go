package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ctxengine/ctxd/internal/config"
	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/graph"
	"github.com/ctxengine/ctxd/internal/meaningpack"
	"github.com/ctxengine/ctxd/internal/memory"
	"github.com/ctxengine/ctxd/internal/readpack"
	"github.com/ctxengine/ctxd/internal/rpc"
	"github.com/ctxengine/ctxd/internal/search"
	"github.com/ctxengine/ctxd/internal/vectorstore"
	"github.com/ctxengine/ctxd/internal/watcher"
)

// toolNames is the tool surface the daemon's tools/list enumerates,
// beyond initialize/notifications/tools-list/tools-call themselves.
var toolNames = []string{
	"read_pack", "batch", "meaning_pack", "search", "context_pack",
	"grep_context", "file_slice", "map", "doctor",
}

// Server dispatches JSON-RPC tool calls against one project root's live
// state: corpus, models, graph assembler/node store, and memory overlay.
// One Server instance serves every proxy connection that has resolved
// to the same root.
type Server struct {
	Corpus            *corpus.Corpus
	Models            []search.ModelSearch
	Assembler         *graph.Assembler
	NodeStore         *graph.NodeStore
	NodeRuntimeSearch func(ctx context.Context, queryVector []float32, topK int) ([]vectorstore.Hit, error)
	EmbedQuery        func(ctx context.Context, text string) ([]float32, error)
	Memory            *memory.Overlay
	Profile           *config.Profile
	RootHash          string
	WatchHealth       func() *watcher.Health
}

// rejectPath adapts the server's profile into the search layer's
// rejection predicate; a server without a profile rejects nothing.
func (s *Server) rejectPath() search.RejectPath {
	if s.Profile == nil {
		return nil
	}
	return s.Profile.RejectsPath
}

// Handle dispatches one JSON-RPC request to the appropriate method,
// returning the response to write back. It never returns an error:
// malformed or unknown requests become JSON-RPC error responses scoped
// to the originating request id.
func (s *Server) Handle(ctx context.Context, req rpc.Request) rpc.Response {
	switch req.Method {
	case "initialize":
		result, _ := rpc.ResultResponse(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
		return result
	case "notifications/initialized":
		return rpc.Response{} // notification; caller must not write this back
	case "tools/list":
		result, _ := rpc.ResultResponse(req.ID, map[string]any{"tools": toolNames})
		return result
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return rpc.ErrorResponse(req.ID, rpc.ErrMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req rpc.Request) rpc.Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpc.ErrorResponse(req.ID, rpc.ErrInvalidParams, "malformed tools/call params")
	}

	result, err := s.callTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return rpc.ErrorResponse(req.ID, rpc.ErrInvalidRequest, err.Error())
	}
	resp, err := rpc.ResultResponse(req.ID, result)
	if err != nil {
		return rpc.ErrorResponse(req.ID, rpc.ErrInternal, err.Error())
	}
	return resp
}

// callTool routes one named tool call to its handler. Exported at the
// package level (via Server) rather than per-tool RPC methods, since
// every tool shares the same (name, arguments) -> (result, error) shape
// and batch needs to invoke it directly without a full envelope
// round-trip.
func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "search":
		return s.toolSearch(ctx, args)
	case "context_pack":
		return s.toolContextPack(ctx, args)
	case "read_pack":
		return s.toolReadPack(ctx, args)
	case "meaning_pack":
		return s.toolMeaningPack(ctx, args)
	case "grep_context":
		return s.toolGrepContext(ctx, args)
	case "file_slice":
		return s.toolFileSlice(ctx, args)
	case "map":
		return s.toolMap(ctx, args)
	case "doctor":
		return s.toolDoctor(ctx, args)
	case "batch":
		return s.toolBatch(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (s *Server) toolSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var a searchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid search arguments: %w", err)
	}
	hits, err := search.HybridSearch(ctx, s.Corpus, s.Models, a.Query, a.Limit)
	if err != nil {
		return nil, err
	}

	items := make([]search.FormattedItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, search.FormattedItem{
			FilePath:  h.Chunk.FilePath,
			StartLine: h.Chunk.StartLine,
			EndLine:   h.Chunk.EndLine,
			Content:   h.Chunk.Content,
			Symbol:    h.Chunk.Metadata.Symbol,
			Kind:      h.Chunk.Metadata.Kind,
			Score:     h.Score,
			Reason:    "direct_hit",
			Imports:   h.Chunk.Metadata.ContextImports,
		})
	}
	deduped, stats := search.DedupeAndMerge(items, s.rejectPath())

	session := SessionFromContext(ctx)
	for _, it := range deduped {
		session.Touch(it.FilePath)
	}
	return map[string]any{"results": deduped, "dropped": stats.Dropped, "merged": stats.Merged}, nil
}

type contextPackArgs struct {
	Query                string `json:"query"`
	Limit                int    `json:"limit"`
	MaxChars             int    `json:"max_chars"`
	MaxRelatedPerPrimary int    `json:"max_related_per_primary"`
	IncludeDocs          *bool  `json:"include_docs"`
	PreferCode           *bool  `json:"prefer_code"`
	RelatedMode          string `json:"related_mode"`
	Strategy             string `json:"strategy"`
}

func (s *Server) toolContextPack(ctx context.Context, raw json.RawMessage) (any, error) {
	var a contextPackArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid context_pack arguments: %w", err)
	}

	// Arguments the caller leaves out fall back to the project profile's
	// defaults.
	includeDocs, preferCode := true, true
	relatedMode, strategy := a.RelatedMode, a.Strategy
	if s.Profile != nil {
		includeDocs, preferCode = s.Profile.IncludeDocs, s.Profile.PreferCode
		if relatedMode == "" {
			relatedMode = s.Profile.RelatedMode
		}
		if strategy == "" {
			strategy = s.Profile.Strategy
		}
	}
	if a.IncludeDocs != nil {
		includeDocs = *a.IncludeDocs
	}
	if a.PreferCode != nil {
		preferCode = *a.PreferCode
	}
	if relatedMode == "auto" {
		relatedMode = ""
	}

	req := search.PackRequest{
		Query:                a.Query,
		Limit:                a.Limit,
		MaxChars:             a.MaxChars,
		MaxRelatedPerPrimary: a.MaxRelatedPerPrimary,
		IncludeDocs:          includeDocs,
		PreferCode:           preferCode,
		RelatedMode:          search.RelatedMode(relatedMode),
		Strategy:             graph.Strategy(strategy),
		NodeStore:            s.NodeStore,
		NodeRuntimeSearch:    s.NodeRuntimeSearch,
		EmbedQuery:           s.EmbedQuery,
		Reject:               s.rejectPath(),
	}

	pack, err := search.ContextPack(ctx, s.Corpus, s.Models, s.Assembler, req)
	if err != nil {
		if a.MaxChars > 0 {
			return nil, fmt.Errorf("max_chars_too_small: retry with max_chars=%d: %w", readpack.RetryMaxChars(a.MaxChars), err)
		}
		return nil, err
	}

	session := SessionFromContext(ctx)
	for _, item := range pack.Items {
		session.Touch(item.FilePath)
	}
	return pack, nil
}

type readPackArgs struct {
	Intent       string `json:"intent"`
	Query        string `json:"query"`
	MaxChars     int    `json:"max_chars"`
	ResponseMode string `json:"response_mode"`
	Cursor       string `json:"cursor"`
}

// toolReadPack assembles a ReadPack for the resolved intent and shrinks
// the result to fit max_chars. Recall/Memory read the external memory
// overlay (an external agent CLI's own session transcripts, scanned
// read-only); ctxd never writes a session of its own.
func (s *Server) toolReadPack(ctx context.Context, raw json.RawMessage) (any, error) {
	var a readPackArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid read_pack arguments: %w", err)
	}

	var hint *readpack.CursorHint
	if a.Cursor != "" {
		cur, err := rpc.DecodeCursor(a.Cursor, s.RootHash)
		if err != nil {
			return nil, err
		}
		hint = &readpack.CursorHint{Tool: cur.Tool, Mode: cur.Mode}
	}
	intent := readpack.ResolveIntent(readpack.Intent(a.Intent), hint, a.Query)

	pack := &readpack.ReadPack{Intent: intent, ResponseMode: readpack.ResponseMode(a.ResponseMode)}
	if pack.ResponseMode == "" {
		pack.ResponseMode = readpack.ResponseModeCompact
	}

	switch intent {
	case readpack.IntentRecall, readpack.IntentMemory:
		if s.Memory == nil {
			break
		}
		if intent == readpack.IntentRecall {
			hits, err := s.Memory.ForQuery(ctx, a.Query, pack.ResponseMode, s.EmbedQuery)
			if err != nil {
				return nil, err
			}
			pack.Sections = append(pack.Sections, readpack.Section{Name: "recall", Snippets: memoryHitSnippets(hits)})
		} else {
			hits, err := s.Memory.Recent(pack.ResponseMode)
			if err != nil {
				return nil, err
			}
			pack.Sections = append(pack.Sections, readpack.Section{Name: "memory", Snippets: memoryHitSnippets(hits)})
		}
	default:
		hits, err := search.HybridSearch(ctx, s.Corpus, s.Models, a.Query, 20)
		if err != nil {
			return nil, err
		}
		session := SessionFromContext(ctx)
		var snippets []readpack.Snippet
		for _, h := range hits {
			session.Touch(h.Chunk.FilePath)
			snippets = append(snippets, readpack.Snippet{
				FilePath:  h.Chunk.FilePath,
				StartLine: h.Chunk.StartLine,
				EndLine:   h.Chunk.EndLine,
				Content:   h.Chunk.Content,
				Reason:    readpack.ReasonNeedle,
				Kind:      classifyReadPackKind(h.Chunk.FilePath),
			})
		}
		pack.Sections = append(pack.Sections, readpack.Section{Name: "context", Snippets: readpack.DedupeOverlaps(snippets)})
	}

	maxChars := a.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}
	if err := readpack.ShrinkToFit(pack, maxChars, sizeOfReadPack); err != nil {
		return nil, err
	}

	return pack, nil
}

// memoryHitSnippets renders overlay hits as read-pack snippets: each
// candidate's kind and title prefix its excerpt so the overlay's
// classification survives the generic Snippet shape.
func memoryHitSnippets(hits []memory.Hit) []readpack.Snippet {
	var snippets []readpack.Snippet
	for _, h := range hits {
		content := h.Excerpt
		if h.Title != "" {
			content = fmt.Sprintf("[%s] %s\n%s", h.Kind, h.Title, h.Excerpt)
		} else if h.Kind != "" {
			content = fmt.Sprintf("[%s]\n%s", h.Kind, h.Excerpt)
		}
		snippets = append(snippets, readpack.Snippet{Content: content, Reason: readpack.ReasonNone, Kind: readpack.KindNone})
	}
	return snippets
}

func sizeOfReadPack(p *readpack.ReadPack) int {
	n := len(p.NextCursor)
	for _, sec := range p.Sections {
		n += len(sec.Name)
		for _, sn := range sec.Snippets {
			n += len(sn.Content) + len(sn.FilePath) + 32
		}
	}
	for _, a := range p.NextActions {
		n += len(a)
	}
	return n
}

func classifyReadPackKind(path string) readpack.SnippetKind {
	switch search.ClassifyPath(path) {
	case search.CategoryDocs:
		return readpack.KindDoc
	case search.CategoryConfig:
		return readpack.KindConfig
	case search.CategoryCode, search.CategoryTest:
		return readpack.KindCode
	default:
		return readpack.KindNone
	}
}

type meaningPackArgs struct {
	Query    string `json:"query"`
	MaxChars int    `json:"max_chars"`
}

// toolMeaningPack renders a CPV1 cognitive pack summarizing search hits
// for the query.
func (s *Server) toolMeaningPack(ctx context.Context, raw json.RawMessage) (any, error) {
	var a meaningPackArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid meaning_pack arguments: %w", err)
	}

	hits, err := search.HybridSearch(ctx, s.Corpus, s.Models, a.Query, 15)
	if err != nil {
		return nil, err
	}

	pack := meaningpack.NewPack(meaningpack.NBA{Action: "inspect", Detail: a.Query})
	pack.AddLine(meaningpack.SectionAnchors, fmt.Sprintf("query=%s", a.Query))
	for _, h := range hits {
		tok := pack.Intern(h.Chunk.FilePath)
		ev := pack.AddEvidence(meaningpack.Evidence{FilePath: h.Chunk.FilePath, StartLine: h.Chunk.StartLine, EndLine: h.Chunk.EndLine})
		pack.AddLine(meaningpack.SectionMap, fmt.Sprintf("%s %s score=%.3f", tok, ev, h.Score))
	}

	maxChars := a.MaxChars
	if maxChars <= 0 {
		maxChars = 4000
	}
	return map[string]string{"text": pack.Shrink(maxChars)}, nil
}

type grepContextArgs struct {
	Pattern string `json:"pattern"`
	Limit   int    `json:"limit"`
}

// toolGrepContext runs a regexp over the live corpus's chunk content:
// fully local, no external search binary involved.
func (s *Server) toolGrepContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var a grepContextArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid grep_context arguments: %w", err)
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid_pattern: %w", err)
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 50
	}

	type hit struct {
		FilePath  string `json:"file_path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
		Match     string `json:"match"`
	}
	session := SessionFromContext(ctx)
	var hits []hit
	for _, path := range s.Corpus.Files() {
		for _, ch := range s.Corpus.Chunks(path) {
			loc := re.FindString(ch.Content)
			if loc == "" {
				continue
			}
			hits = append(hits, hit{FilePath: ch.FilePath, StartLine: ch.StartLine, EndLine: ch.EndLine, Match: loc})
			session.Touch(ch.FilePath)
			if len(hits) >= limit {
				return map[string]any{"results": hits}, nil
			}
		}
	}
	return map[string]any{"results": hits}, nil
}

type fileSliceArgs struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// toolFileSlice returns the raw content of the chunks overlapping
// [start_line, end_line] in file_path, concatenated in order.
func (s *Server) toolFileSlice(ctx context.Context, raw json.RawMessage) (any, error) {
	var a fileSliceArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid file_slice arguments: %w", err)
	}
	if !s.Corpus.HasFile(a.FilePath) {
		return nil, fmt.Errorf("invalid_path: %s not in corpus", a.FilePath)
	}
	SessionFromContext(ctx).Touch(a.FilePath)

	var b strings.Builder
	for _, ch := range s.Corpus.Chunks(a.FilePath) {
		if a.EndLine > 0 && ch.StartLine > a.EndLine {
			break
		}
		if a.StartLine > 0 && ch.EndLine < a.StartLine {
			continue
		}
		b.WriteString(ch.Content)
		if !strings.HasSuffix(ch.Content, "\n") {
			b.WriteByte('\n')
		}
	}
	return map[string]string{"file_path": a.FilePath, "content": b.String()}, nil
}

type mapArgs struct {
	Prefix string `json:"prefix"`
}

// toolMap returns a per-directory summary (file and chunk counts),
// feeding CPV1's MAP section.
func (s *Server) toolMap(_ context.Context, raw json.RawMessage) (any, error) {
	var a mapArgs
	_ = json.Unmarshal(raw, &a)

	type dirSummary struct {
		Dir    string `json:"dir"`
		Files  int    `json:"files"`
		Chunks int    `json:"chunks"`
	}
	counts := make(map[string]*dirSummary)
	var order []string
	for _, path := range s.Corpus.Files() {
		if a.Prefix != "" && !strings.HasPrefix(path, a.Prefix) {
			continue
		}
		dir := dirOf(path)
		ds, ok := counts[dir]
		if !ok {
			ds = &dirSummary{Dir: dir}
			counts[dir] = ds
			order = append(order, dir)
		}
		ds.Files++
		ds.Chunks += len(s.Corpus.Chunks(path))
	}
	sort.Strings(order)

	out := make([]dirSummary, 0, len(order))
	for _, dir := range order {
		out = append(out, *counts[dir])
	}
	return map[string]any{"dirs": out}, nil
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}

// toolDoctor reports daemon health: corpus size, graph-nodes presence,
// the session's working set, and watcher telemetry when available.
func (s *Server) toolDoctor(ctx context.Context, _ json.RawMessage) (any, error) {
	report := map[string]any{
		"files":            s.Corpus.FileCount(),
		"chunks":           s.Corpus.ChunkCount(),
		"models":           len(s.Models),
		"graph_nodes_warm": s.NodeStore != nil,
	}
	if session := SessionFromContext(ctx); session != nil {
		report["working_set"] = session.WorkingSet()
	}
	if s.WatchHealth != nil {
		if h := s.WatchHealth(); h != nil {
			report["watcher"] = h
		}
	}
	return report, nil
}

type batchSubRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type batchArgs struct {
	Requests []batchSubRequest `json:"requests"`
}

// toolBatch fans out N sub-requests and returns a same-length array of
// results in request order; a failing sub-request yields an error-shaped
// element at its index rather than shortening the array.
func (s *Server) toolBatch(ctx context.Context, raw json.RawMessage) (any, error) {
	var a batchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid batch arguments: %w", err)
	}

	results := make([]any, len(a.Requests))
	for i, sub := range a.Requests {
		result, err := s.callTool(ctx, sub.Name, sub.Arguments)
		if err != nil {
			results[i] = map[string]string{"error": err.Error()}
			continue
		}
		results[i] = result
	}
	return map[string]any{"results": results}, nil
}
