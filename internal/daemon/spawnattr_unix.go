//go:build unix

package daemon

import "syscall"

// SysProcAttrForSpawn returns the platform-specific process attributes a
// launcher should set on the daemon subprocess it spawns. On Unix,
// Setpgid detaches the child from the launcher's
// process group so it survives the launcher exiting.
func SysProcAttrForSpawn() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
