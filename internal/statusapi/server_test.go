package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/cos/internal/config"
	"github.com/CLIAIMONITOR/cos/internal/events"
	"github.com/CLIAIMONITOR/cos/internal/learning"
	"github.com/CLIAIMONITOR/cos/internal/orchestrator"
	"github.com/CLIAIMONITOR/cos/internal/schedule"
	"github.com/CLIAIMONITOR/cos/internal/state"
	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

type fakeSource struct{ name string }

func (f *fakeSource) Load() ([]*tasks.Task, error)   { return nil, nil }
func (f *fakeSource) Save([]*tasks.Task, bool) error { return nil }
func (f *fakeSource) GetName() string                { return f.name }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	st := state.NewStore(filepath.Join(dir, "state.json"))
	if err := st.Load(); err != nil {
		t.Fatalf("state.Load: %v", err)
	}
	st.Start()
	t.Cleanup(st.Stop)

	lr := learning.NewStore(filepath.Join(dir, "learning.json"))
	if err := lr.Load(); err != nil {
		t.Fatalf("learning.Load: %v", err)
	}

	sc := schedule.NewStore(filepath.Join(dir, "schedule.json"), map[string]time.Duration{}, nil)
	if err := sc.Load(); err != nil {
		t.Fatalf("schedule.Load: %v", err)
	}

	bus := events.NewBus(nil)
	cfg := config.Default()

	orch := orchestrator.New(cfg, st, lr, sc, bus, &fakeSource{name: "user"}, &fakeSource{name: "system"})

	s := New(orch, lr, sc, bus, 0, "test")
	t.Cleanup(s.Stop)
	return s
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, "GET", "/healthz")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap statusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != "ok" {
		t.Errorf("expected status ok, got %q", snap.Status)
	}
	if snap.Version != "test" {
		t.Errorf("expected version test, got %q", snap.Version)
	}
}

func TestHandleDecisionsInitiallyEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, "GET", "/api/decisions")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var decisions []orchestrator.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &decisions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("expected no decisions before any Evaluate, got %d", len(decisions))
	}
}

func TestHandleAgentsEmptyWithNoTasks(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, "GET", "/api/agents")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var agents []*tasks.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("expected no agents, got %d", len(agents))
	}
}

func TestHandleScheduleReturnsEntriesAndQueueDepth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, "GET", "/api/schedule")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := payload["entries"]; !ok {
		t.Error("expected entries key in schedule response")
	}
	if _, ok := payload["pendingOnDemand"]; !ok {
		t.Error("expected pendingOnDemand key in schedule response")
	}
}

func TestHandleShutdownRejectsNonLocalhost(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/shutdown", nil)
	req.RemoteAddr = "203.0.113.9:54321"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-localhost shutdown, got %d", rec.Code)
	}
}

func TestHandleShutdownFromLocalhostClosesShutdownChan(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, "POST", "/api/shutdown")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case <-s.ShutdownRequested():
	case <-time.After(time.Second):
		t.Fatal("expected ShutdownRequested channel to close")
	}
}
