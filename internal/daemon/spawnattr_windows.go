//go:build windows

package daemon

import "syscall"

// SysProcAttrForSpawn returns the platform-specific process attributes a
// launcher should set on the daemon subprocess it spawns. On Windows
// the child gets its own process group so closing
// the launcher's console does not signal it.
func SysProcAttrForSpawn() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
