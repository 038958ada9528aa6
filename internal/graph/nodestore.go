package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctxengine/ctxd/internal/vectorstore"
)

// NodeStoreSchemaVersion is written into graph_nodes.json and checked on
// load.
const NodeStoreSchemaVersion = 1

// NodeKey identifies one graph-nodes document: one per (node_id,
// chunk_id) pair
type NodeKey struct {
	NodeID  string `json:"node_id"`
	ChunkID string `json:"chunk_id"`
}

// NodeMetadata is the gating metadata: a GraphNodeStore is loadable
// iff all four fields match the caller's expectation.
type NodeMetadata struct {
	SourceIndexMtimeMs int64  `json:"source_index_mtime_ms"`
	GraphLanguage      string `json:"graph_language"`
	GraphDocVersion    int    `json:"graph_doc_version"`
	TemplateHash       string `json:"template_hash"`
}

// NodeStore is the auxiliary vector index over node-description
// documents used for graph-nodes RRF fusion.
type NodeStore struct {
	Metadata NodeMetadata
	Entries  map[NodeKey]vectorstore.Entry
}

type nodeStoreFile struct {
	Version  int                         `json:"version"`
	Metadata NodeMetadata                `json:"metadata"`
	Entries  []nodeStoreEntry            `json:"entries"`
}

type nodeStoreEntry struct {
	Key   NodeKey           `json:"key"`
	Entry vectorstore.Entry `json:"entry"`
}

// NodeStorePath returns "<project>/.context/graph_nodes.json".
func NodeStorePath(contextDir string) string {
	return filepath.Join(contextDir, "graph_nodes.json")
}

// LoadNodeStore returns the NodeStore at path iff its metadata exactly
// matches want; otherwise it reports a cache miss, not an error, per
// loadable iff all four match.
func LoadNodeStore(path string, want NodeMetadata) (*NodeStore, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("graph: read node store: %w", err)
	}

	var f nodeStoreFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false, fmt.Errorf("graph: decode node store: %w", err)
	}
	if f.Version != NodeStoreSchemaVersion || f.Metadata != want {
		return nil, false, nil
	}

	ns := &NodeStore{Metadata: f.Metadata, Entries: make(map[NodeKey]vectorstore.Entry, len(f.Entries))}
	for _, e := range f.Entries {
		ns.Entries[e.Key] = e.Entry
	}
	return ns, true, nil
}

// NewNodeStore returns an empty NodeStore tagged with metadata.
func NewNodeStore(metadata NodeMetadata) *NodeStore {
	return &NodeStore{Metadata: metadata, Entries: make(map[NodeKey]vectorstore.Entry)}
}

// Set inserts or overwrites a node description's vector entry.
func (ns *NodeStore) Set(key NodeKey, entry vectorstore.Entry) {
	ns.Entries[key] = entry
}

// Save atomically writes ns to path via tmp+rename.
func (ns *NodeStore) Save(path string) error {
	f := nodeStoreFile{Version: NodeStoreSchemaVersion, Metadata: ns.Metadata}
	for k, v := range ns.Entries {
		f.Entries = append(f.Entries, nodeStoreEntry{Key: k, Entry: v})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("graph: encode node store: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("graph: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("graph: write node store: %w", err)
	}
	return os.Rename(tmp, path)
}

// Describe renders the node-description document for n, the text that
// gets embedded and searched for graph-nodes RRF fusion. Kept to a
// single line of structured text rather than free-form prose so
// embedding templates stay deterministic.
func Describe(n Node) string {
	if n.QualifiedName != "" {
		return fmt.Sprintf("%s (%s) in %s", n.QualifiedName, n.Language, n.FilePath)
	}
	if n.Symbol != "" {
		return fmt.Sprintf("%s (%s) in %s", n.Symbol, n.Language, n.FilePath)
	}
	return fmt.Sprintf("%s (%s)", n.FilePath, n.Language)
}
