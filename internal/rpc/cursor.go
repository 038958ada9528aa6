package rpc

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CursorVersion is the current cursor schema version. A decoded cursor
// whose V field doesn't match this is rejected as invalid_cursor.
const CursorVersion = 1

// Cursor is the opaque, base64-encoded JSON continuation token shared
// by read_pack, search, grep_context, and every other paginated tool.
type Cursor struct {
	V            int    `json:"v"`
	Tool         string `json:"tool"`
	Mode         string `json:"mode,omitempty"`
	Root         string `json:"root,omitempty"`
	RootHash     string `json:"root_hash,omitempty"`
	MaxChars     int    `json:"max_chars,omitempty"`
	ResponseMode string `json:"response_mode,omitempty"`

	// Opaque carries tool-specific continuation state (e.g. a grep
	// offset or a recall scan position) without this package needing to
	// know every tool's shape.
	Opaque json.RawMessage `json:"opaque,omitempty"`
}

// FingerprintRoot returns the stable root_hash cursors embed:
// a SHA-256 hex digest of the display-form (canonicalized) root path.
func FingerprintRoot(displayRoot string) string {
	sum := sha256.Sum256([]byte(displayRoot))
	return hex.EncodeToString(sum[:])
}

// EncodeCursor renders c as the opaque base64 token clients pass back
// verbatim.
func EncodeCursor(c Cursor) (string, error) {
	c.V = CursorVersion
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("rpc: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ErrInvalidCursor is returned by DecodeCursor for any malformed,
// wrong-version, or root-mismatched token.
type ErrInvalidCursor struct {
	Reason string
}

func (e *ErrInvalidCursor) Error() string {
	return fmt.Sprintf("invalid_cursor: %s", e.Reason)
}

// DecodeCursor parses token and validates its version and, when
// sessionRootHash is non-empty, that the cursor's embedded root_hash
// agrees with it ("when both root and session-root are
// present they MUST match").
func DecodeCursor(token string, sessionRootHash string) (Cursor, error) {
	if token == "" {
		return Cursor{}, &ErrInvalidCursor{Reason: "empty token"}
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, &ErrInvalidCursor{Reason: "not valid base64"}
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, &ErrInvalidCursor{Reason: "not valid JSON"}
	}
	if c.V != CursorVersion {
		return Cursor{}, &ErrInvalidCursor{Reason: fmt.Sprintf("version %d unsupported", c.V)}
	}
	if sessionRootHash != "" && c.RootHash != "" && c.RootHash != sessionRootHash {
		return Cursor{}, &ErrInvalidCursor{Reason: "root mismatch"}
	}
	return c, nil
}
