package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
)

// PidFile is the JSON payload written to "<socket>.pid" on daemon
// startup.
type PidFile struct {
	PID         int    `json:"pid"`
	ExePath     string `json:"exe_path"`
	Version     string `json:"version"`
	StartedAtMs int64  `json:"started_at_ms"`
}

// PidFilePath returns the pid file path for a daemon socket.
func PidFilePath(socketPath string) string {
	return socketPath + ".pid"
}

// WritePidFile records this process's identity for hot-reload version
// comparison and operator inspection.
func WritePidFile(socketPath string, version string, startedAtMs int64) error {
	exe, err := os.Executable()
	if err != nil {
		exe = ""
	}
	pf := PidFile{PID: os.Getpid(), ExePath: exe, Version: version, StartedAtMs: startedAtMs}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("daemon: encode pid file: %w", err)
	}
	return os.WriteFile(PidFilePath(socketPath), data, 0o644)
}

// ReadPidFile loads the pid file at socketPath's conventional location.
func ReadPidFile(socketPath string) (PidFile, error) {
	data, err := os.ReadFile(PidFilePath(socketPath))
	if err != nil {
		return PidFile{}, err
	}
	var pf PidFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return PidFile{}, fmt.Errorf("daemon: decode pid file: %w", err)
	}
	return pf, nil
}

// LowerPriority best-effort renices the current process by +10 nice
// units; failures are silent since this is advisory.
func LowerPriority() {
	pid := os.Getpid()
	// The raw getpriority(2) syscall returns 20-nice (to keep the
	// result non-negative); Setpriority takes the actual nice value.
	raw, err := syscall.Getpriority(syscall.PRIO_PROCESS, pid)
	if err != nil {
		return
	}
	currentNice := 20 - raw
	_ = syscall.Setpriority(syscall.PRIO_PROCESS, pid, currentNice+10)
}
