// Package vectorstore implements VectorStore(model): the per-model
// chunk-id -> (vector, payload reference) map, plus its watermark and
// mtimes metadata, persisted as JSON with staged, atomically renamed
// writes.
package vectorstore

import "time"

// WatermarkKind discriminates the two Watermark variants.
type WatermarkKind string

const (
	WatermarkGit WatermarkKind = "git"
	WatermarkFs  WatermarkKind = "fs"
)

// Watermark is a store's freshness token: either a
// Git-derived freshness token or a filesystem-hash one.
type Watermark struct {
	Kind WatermarkKind `json:"kind"`

	// Git variant fields.
	GitHead      string `json:"git_head,omitempty"`
	GitDirty     bool   `json:"git_dirty,omitempty"`
	GitDirtyHash string `json:"git_dirty_hash,omitempty"`

	// Fs variant field.
	FsHash string `json:"fs_hash,omitempty"`

	ComputedAtMs int64 `json:"computed_at_ms"`
}

// NewGitWatermark constructs the Git variant.
func NewGitWatermark(head string, dirty bool, dirtyHash string, computedAt time.Time) Watermark {
	return Watermark{
		Kind:         WatermarkGit,
		GitHead:      head,
		GitDirty:     dirty,
		GitDirtyHash: dirtyHash,
		ComputedAtMs: computedAt.UnixMilli(),
	}
}

// NewFsWatermark constructs the Fs variant.
func NewFsWatermark(hash string, computedAt time.Time) Watermark {
	return Watermark{
		Kind:         WatermarkFs,
		FsHash:       hash,
		ComputedAtMs: computedAt.UnixMilli(),
	}
}

// IsGit reports whether this is the Git variant.
func (w Watermark) IsGit() bool { return w.Kind == WatermarkGit }
