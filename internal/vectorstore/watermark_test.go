package vectorstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewGitWatermarkIsGit(t *testing.T) {
	t.Parallel()

	wm := NewGitWatermark("abc123", true, "dirtyhash", time.UnixMilli(1_700_000_000_000))
	assert.True(t, wm.IsGit())
	assert.Equal(t, "abc123", wm.GitHead)
	assert.True(t, wm.GitDirty)
	assert.Equal(t, int64(1_700_000_000_000), wm.ComputedAtMs)
}

func TestNewFsWatermarkIsNotGit(t *testing.T) {
	t.Parallel()

	wm := NewFsWatermark("fshash", time.UnixMilli(1_700_000_000_000))
	assert.False(t, wm.IsGit())
	assert.Equal(t, "fshash", wm.FsHash)
}
