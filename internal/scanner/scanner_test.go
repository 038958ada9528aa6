package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func TestScanSkipsBuiltinIgnoreDirs(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"main.go":                 "package main",
		"node_modules/left.js":    "x",
		".git/HEAD":               "ref: refs/heads/main",
		"vendor/pkg/file.go":      "package pkg",
	})

	s, err := New(root, Options{})
	require.NoError(t, err)

	got, err := s.Scan()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go"}, got)
}

func TestScanHonorsGitignore(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		".gitignore":  "*.log\nbuild_output/\n",
		"main.go":     "package main",
		"debug.log":   "noise",
		"build_output/out.txt": "noise",
	})

	s, err := New(root, Options{})
	require.NoError(t, err)

	got, err := s.Scan()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", ".gitignore"}, got)
}

func TestGitignoreItselfIsAlwaysRelevant(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		".gitignore": "*.tmp\n",
	})
	s, err := New(root, Options{})
	require.NoError(t, err)
	assert.True(t, s.IsRelevant(".gitignore"))
}

func TestSecretAndNoiseFilesExcluded(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		".env":              "SECRET=1",
		"package-lock.json": "{}",
		"main.go":           "package main",
	})
	s, err := New(root, Options{})
	require.NoError(t, err)

	got, err := s.Scan()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go"}, got)
}

func TestBenchLogsExcluded(t *testing.T) {
	t.Parallel()

	s := &Scanner{root: "/tmp"}
	assert.False(t, s.IsRelevant("pkg/bench/logs/run1.json"))
	assert.True(t, s.IsRelevant("pkg/bench/results.txt"))
}

func TestDotfileAllowlist(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		".github/workflows/ci.yml": "name: ci",
		".hidden/secret.txt":       "x",
	})
	s, err := New(root, Options{})
	require.NoError(t, err)

	got, err := s.Scan()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".github/workflows/ci.yml"}, got)
}
