//go:build windows

package orchestrator

import "golang.org/x/sys/windows"

// processAlive opens a handle to pid with the minimal query right and
// checks its exit code — os.FindProcess always succeeds on Windows, so a
// signal-based check like the POSIX build can't distinguish a live process
// from a dead one.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	const stillActive = 259
	return exitCode == stillActive
}
