package cli

import (
	"os"
	"path/filepath"
)

// defaultModelID and defaultTemplateHash name the single embedding model
// this engine ships a provider for. A production deployment would read
// these from project config; this engine has exactly one pluggable
// collaborator (embed.MockProvider, see DESIGN.md) so the id is fixed.
const (
	defaultModelID      = "mock-v1"
	defaultTemplateHash = "mock-v1-template"
	defaultSocketName   = "mcp.sock"
)

// defaultSocketPath returns "~/.context/mcp.sock", the
// default daemon socket, honoring CONTEXT_MCP_SOCKET / the legacy
// CONTEXT_FINDER_MCP_SOCKET override.
func defaultSocketPath() (string, error) {
	if v := os.Getenv("CONTEXT_MCP_SOCKET"); v != "" {
		return v, nil
	}
	if v := os.Getenv("CONTEXT_FINDER_MCP_SOCKET"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".context", defaultSocketName), nil
}

// absPath resolves path (which may be relative) against the current
// working directory and symlink-resolves it, falling back to the plain
// absolute form when the target does not exist yet.
func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// rootEnvOverride returns the first of CONTEXT_ROOT, CONTEXT_PROJECT_ROOT,
// CONTEXT_FINDER_ROOT, CONTEXT_FINDER_PROJECT_ROOT that is set.
func rootEnvOverride() string {
	for _, name := range []string{
		"CONTEXT_ROOT", "CONTEXT_PROJECT_ROOT",
		"CONTEXT_FINDER_ROOT", "CONTEXT_FINDER_PROJECT_ROOT",
	} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
