package daemon

import (
	"context"
	"sync"
)

// workingSetCap bounds the per-session working set: the most recently
// surfaced file paths, kept small enough that doctor's report stays
// readable and a long-lived session never grows unbounded state.
const workingSetCap = 64

// SessionState is the daemon-held per-connection state: the session's
// resolved root plus a bounded LRU of file paths tool calls have
// recently surfaced. One SessionState lives for exactly one proxy
// connection's lifetime; it is mutated from that connection's serve
// loop and read by doctor.
type SessionState struct {
	mu    sync.Mutex
	root  string
	paths []string // most recent first
}

// SetRoot records the session's resolved root the first time a tools/call
// resolves one; later calls with a different root reset the working set,
// since paths are root-relative.
func (s *SessionState) SetRoot(root string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == root {
		return
	}
	s.root = root
	s.paths = nil
}

// Root returns the session's established root, or "" before the first
// tools/call resolves one.
func (s *SessionState) Root() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Touch moves each path to the front of the working set, evicting the
// least recently surfaced entries past the cap.
func (s *SessionState) Touch(paths ...string) {
	if s == nil || len(paths) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		if p == "" {
			continue
		}
		for i, existing := range s.paths {
			if existing == p {
				copy(s.paths[1:i+1], s.paths[:i])
				s.paths[0] = p
				p = ""
				break
			}
		}
		if p == "" {
			continue
		}
		s.paths = append([]string{p}, s.paths...)
		if len(s.paths) > workingSetCap {
			s.paths = s.paths[:workingSetCap]
		}
	}
}

// WorkingSet returns a copy of the surfaced paths, most recent first.
func (s *SessionState) WorkingSet() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

type sessionKey struct{}

// WithSession attaches a SessionState to ctx for the duration of one
// connection's serve loop.
func WithSession(ctx context.Context, s *SessionState) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the connection's SessionState, or nil when
// the handler runs outside a connection (every SessionState method is
// nil-safe for exactly this case).
func SessionFromContext(ctx context.Context) *SessionState {
	s, _ := ctx.Value(sessionKey{}).(*SessionState)
	return s
}
