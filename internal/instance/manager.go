// Package instance is the singleton guard that keeps two supervisors from
// running against the same state directory: a JSON pidfile plus an
// exclusive platform lock, checked on startup before anything in
// internal/state is touched.
package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const processName = "cos"

// Manager handles lifecycle management for a running supervisor.
type Manager struct {
	pidFilePath  string
	statePath    string
	port         int
	lockFile     *os.File // unix: the flock'd sidecar file descriptor
	lockHandle   uintptr  // windows: the CreateFile handle, cast on that platform
	acquiredLock bool
}

// Info describes a running (or formerly running) instance.
type Info struct {
	PID          int
	Port         int
	StartTime    time.Time
	IsRunning    bool
	IsResponding bool
	Version      string
	BasePath     string
}

// pidFileData is the JSON structure of the pidfile.
type pidFileData struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
	BasePath  string    `json:"base_path"`
	Hostname  string    `json:"hostname"`
}

// NewManager creates a manager for the given pidfile/state paths and port.
func NewManager(pidFilePath, statePath string, port int) *Manager {
	return &Manager{
		pidFilePath: pidFilePath,
		statePath:   statePath,
		port:        port,
	}
}

// CheckExistingInstance reports whether a supervisor is already running
// against this pidfile. A stale pidfile (dead process, or a PID reused by
// something that isn't cos) is cleaned up and treated as "no instance".
func (m *Manager) CheckExistingInstance() (*Info, error) {
	data, err := m.readPIDFile()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pidfile: %w", err)
	}

	running, err := IsProcessRunning(data.PID)
	if err != nil {
		return nil, fmt.Errorf("checking process %d: %w", data.PID, err)
	}
	if !running {
		m.RemovePIDFile()
		return nil, nil
	}

	name, err := GetProcessName(data.PID)
	if err == nil && name != "" && name != processName {
		m.RemovePIDFile()
		return nil, nil
	}

	responding := HealthCheck(data.Port) == nil

	return &Info{
		PID:          data.PID,
		Port:         data.Port,
		StartTime:    data.StartedAt,
		IsRunning:    true,
		IsResponding: responding,
		Version:      data.Version,
		BasePath:     data.BasePath,
	}, nil
}

// WritePIDFile records this process's identity for the next startup's
// CheckExistingInstance to find.
func (m *Manager) WritePIDFile(pid, port int, basePath, version string) error {
	hostname, _ := os.Hostname()

	data := pidFileData{
		PID:       pid,
		Port:      port,
		StartedAt: time.Now(),
		Version:   version,
		BasePath:  basePath,
		Hostname:  hostname,
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pidfile: %w", err)
	}
	if err := os.WriteFile(m.pidFilePath, encoded, 0644); err != nil {
		return fmt.Errorf("writing pidfile: %w", err)
	}
	return nil
}

func (m *Manager) readPIDFile() (*pidFileData, error) {
	raw, err := os.ReadFile(m.pidFilePath)
	if err != nil {
		return nil, err
	}
	var data pidFileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing pidfile: %w", err)
	}
	return &data, nil
}

// RemovePIDFile deletes the pidfile, tolerating one that's already gone.
func (m *Manager) RemovePIDFile() error {
	if err := os.Remove(m.pidFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pidfile: %w", err)
	}
	return nil
}

// GetPort returns the port this manager is configured for.
func (m *Manager) GetPort() int { return m.port }

// SetPort updates the port, used after a conflict resolver picks a
// different one.
func (m *Manager) SetPort(port int) { m.port = port }
