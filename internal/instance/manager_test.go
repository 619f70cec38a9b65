package instance

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager("/tmp/test.pid", "/tmp/state.json", 3000)

	if mgr.pidFilePath != "/tmp/test.pid" {
		t.Errorf("expected pidFilePath=/tmp/test.pid, got %s", mgr.pidFilePath)
	}
	if mgr.port != 3000 {
		t.Errorf("expected port=3000, got %d", mgr.port)
	}
	if mgr.acquiredLock {
		t.Error("expected acquiredLock=false for a new manager")
	}
}

func TestGetSetPort(t *testing.T) {
	mgr := NewManager("/tmp/test.pid", "/tmp/state.json", 3000)

	if mgr.GetPort() != 3000 {
		t.Errorf("expected GetPort()=3000, got %d", mgr.GetPort())
	}
	mgr.SetPort(8080)
	if mgr.GetPort() != 8080 {
		t.Errorf("expected GetPort()=8080 after SetPort, got %d", mgr.GetPort())
	}
}

func TestWriteReadRemovePIDFile(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "test.pid")
	mgr := NewManager(pidPath, "", 3000)

	if err := mgr.WritePIDFile(12345, 3000, "/test/base", "1.0.0"); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	data, err := mgr.readPIDFile()
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if data.PID != 12345 || data.Port != 3000 || data.BasePath != "/test/base" {
		t.Errorf("unexpected pidfile contents: %+v", data)
	}

	if err := mgr.RemovePIDFile(); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("expected pidfile to be removed")
	}

	// Removing twice is not an error.
	if err := mgr.RemovePIDFile(); err != nil {
		t.Errorf("expected RemovePIDFile to tolerate an already-missing file, got %v", err)
	}
}

func TestCheckExistingInstanceNoFileIsNoInstance(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(filepath.Join(dir, "nonexistent.pid"), "", 3000)

	info, err := mgr.CheckExistingInstance()
	if err != nil {
		t.Fatalf("CheckExistingInstance: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil info for a missing pidfile, got %+v", info)
	}
}

func TestCheckExistingInstanceStalePIDIsCleanedUp(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "test.pid")
	mgr := NewManager(pidPath, "", 3000)

	// PID 1<<30 is vanishingly unlikely to correspond to a live process.
	if err := mgr.WritePIDFile(1<<30, 3000, "/test/base", "1.0.0"); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	info, err := mgr.CheckExistingInstance()
	if err != nil {
		t.Fatalf("CheckExistingInstance: %v", err)
	}
	if info != nil {
		t.Errorf("expected stale pidfile to report no instance, got %+v", info)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("expected stale pidfile to be removed")
	}
}
