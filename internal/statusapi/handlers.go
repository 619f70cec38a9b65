package statusapi

import (
	"net"
	"net/http"
	"os"
	"time"
)

// statusSnapshot is what handleHealth returns and what a freshly connected
// websocket client receives before any live events arrive.
type statusSnapshot struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	UptimeSeconds int    `json:"uptimeSeconds"`
	Version       string `json:"version"`
	PID           int    `json:"pid"`
	Port          int    `json:"port"`
	Paused        bool   `json:"paused"`
	AgentCount    int    `json:"agentCount"`
	ClientCount   int    `json:"clientCount"`
}

func (s *Server) snapshot() statusSnapshot {
	return statusSnapshot{
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
		Version:       s.version,
		PID:           os.Getpid(),
		Port:          s.port,
		Paused:        s.orch.IsPaused(),
		AgentCount:    len(s.orch.Agents()),
		ClientCount:   s.hub.clientCount(),
	}
}

// handleHealth answers both the external /healthz probe internal/instance
// uses and the dashboard's own health tile.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.snapshot())
}

// handleDecisions returns the orchestrator's recent Evaluate results, most
// recent last.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.orch.Decisions())
}

// handleAgents returns the orchestrator's currently tracked agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.orch.Agents())
}

// handleLearning returns a snapshot of every learning bucket's cooldown
// state, for inspecting why a given app/task-type is throttled.
func (s *Server) handleLearning(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.learning.Snapshot())
}

// handleSchedule returns every tracked schedule entry plus the pending
// on-demand queue depth.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	entries, pendingOnDemand := s.schedule.Snapshot()
	s.respondJSON(w, map[string]interface{}{
		"entries":         entries,
		"pendingOnDemand": pendingOnDemand,
	})
}

// handleShutdown signals ShutdownRequested. Only accepted from localhost,
// same restriction the teacher's dashboard server applies — this is a
// control surface with no auth, so it must never be reachable off-box.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	if host != "127.0.0.1" && host != "::1" {
		s.respondError(w, http.StatusForbidden, "shutdown can only be requested from localhost")
		return
	}
	s.respondJSON(w, map[string]string{"status": "shutting down"})
	s.requestShutdown()
}
