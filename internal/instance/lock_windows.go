//go:build windows

package instance

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// AcquireLock acquires an exclusive file lock to prevent two supervisors
// from starting against the same state directory.
func (m *Manager) AcquireLock() error {
	lockPath := m.pidFilePath + ".lock"

	lockPathPtr, err := syscall.UTF16PtrFromString(lockPath)
	if err != nil {
		return fmt.Errorf("converting lock path: %w", err)
	}

	handle, err := windows.CreateFile(
		lockPathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, // no sharing: exclusive access
		nil,
		windows.CREATE_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return fmt.Errorf("acquiring lock (another instance may be starting): %w", err)
	}

	m.lockHandle = uintptr(handle)
	m.acquiredLock = true

	pidBytes := []byte(fmt.Sprintf("%d", os.Getpid()))
	var bytesWritten uint32
	if err := windows.WriteFile(handle, pidBytes, &bytesWritten, nil); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write pid to lock file: %v\n", err)
	}

	return nil
}

// ReleaseLock releases the exclusive lock.
func (m *Manager) ReleaseLock() error {
	if !m.acquiredLock {
		return nil
	}

	if m.lockHandle != 0 {
		if err := windows.CloseHandle(windows.Handle(m.lockHandle)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close lock handle: %v\n", err)
		}
		m.lockHandle = 0
	}

	lockPath := m.pidFilePath + ".lock"
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to remove lock file: %v\n", err)
	}

	m.acquiredLock = false
	return nil
}
