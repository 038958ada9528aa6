package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// SpawnLockContents is the JSON payload held in "<socket>.lock" while a
// spawn is in flight.
type SpawnLockContents struct {
	PID          int    `json:"pid"`
	Exe          string `json:"exe"`
	Version      string `json:"version"`
	AcquiredAtMs int64  `json:"acquired_at_ms"`
}

// spawnLockWaitWindow bounds how long AcquireSpawnLock waits for the
// socket to become connectable while another process holds the lock.
const spawnLockWaitWindow = 3 * time.Second

// AcquireSpawnLock spawn-lock arbitration.
// Returns (lock, true, nil) when the caller won the lock and should
// spawn the daemon itself (call Unlock on the returned lock once the
// daemon is confirmed up). Returns (nil, false, nil) when the fast path
// or another process's in-flight spawn means no spawn is needed.
func AcquireSpawnLock(socketPath, exePath, version string, acquiredAtMs int64) (*flock.Flock, bool, error) {
	if canDial(socketPath) {
		return nil, false, nil // fast path: already up, skip the lock entirely
	}

	lockPath := socketPath + ".lock"
	l := flock.New(lockPath)

	for attempt := 0; attempt < 2; attempt++ {
		locked, err := l.TryLock()
		if err != nil {
			return nil, false, fmt.Errorf("daemon: spawn lock: %w", err)
		}
		if locked {
			contents := SpawnLockContents{PID: os.Getpid(), Exe: exePath, Version: version, AcquiredAtMs: acquiredAtMs}
			data, _ := json.Marshal(contents)
			_ = os.WriteFile(lockPath, data, 0o644)
			return l, true, nil
		}

		if waitForSocketConnectable(socketPath, spawnLockWaitWindow) {
			return nil, false, nil // someone else's spawn succeeded
		}

		if attempt == 0 && arbitrateStoppedHolder(lockPath) {
			continue // holder was a stopped peer we just cleared; retry the lock
		}
		break
	}

	return nil, false, fmt.Errorf("daemon: spawn lock held and socket never became connectable")
}

func waitForSocketConnectable(socketPath string, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if canDial(socketPath) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return canDial(socketPath)
}

// arbitrateStoppedHolder inspects the lock holder recorded in lockPath;
// if it is identifiably a stopped (T/t state) peer process, escalates
// SIGCONT -> SIGTERM -> SIGKILL and reports whether
// it cleared the holder.
func arbitrateStoppedHolder(lockPath string) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	var contents SpawnLockContents
	if err := json.Unmarshal(data, &contents); err != nil || contents.PID <= 0 {
		return false
	}

	state, ok := processState(contents.PID)
	if !ok || (state != 'T' && state != 't') {
		return false
	}

	_ = syscall.Kill(contents.PID, syscall.SIGCONT)
	time.Sleep(100 * time.Millisecond)
	if state, ok := processState(contents.PID); !ok {
		return true // process is gone
	} else if state != 'T' && state != 't' {
		return false // it resumed on its own; leave it alone
	}

	_ = syscall.Kill(contents.PID, syscall.SIGTERM)
	time.Sleep(150 * time.Millisecond)
	if _, alive := processState(contents.PID); !alive {
		return true
	}

	_ = syscall.Kill(contents.PID, syscall.SIGKILL)
	return true
}

// processState reads the single-character process state from
// /proc/<pid>/stat (Linux-only, consistent with the engine's POSIX-only
// assumption for process introspection).
func processState(pid int) (byte, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, false
	}
	// Format: "<pid> (<comm>) <state> ...", where comm may itself contain
	// spaces or parens, so find the state after the LAST ')'.
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+2 >= len(s) {
		return 0, false
	}
	rest := strings.TrimSpace(s[idx+1:])
	if rest == "" {
		return 0, false
	}
	return rest[0], true
}
