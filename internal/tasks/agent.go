package tasks

import (
	"sync"
	"time"
)

// AgentStatus is the lifecycle state of a worker process.
type AgentStatus string

const (
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
)

// maxScrollbackLines bounds the in-memory output buffer per agent (§3: "last 1000 lines").
const maxScrollbackLines = 1000

// AgentResult records the outcome of a completed agent.
type AgentResult struct {
	Success       bool   `json:"success"`
	DurationMs    int64  `json:"durationMs"`
	Error         string `json:"error,omitempty"`
	ErrorCategory string `json:"errorCategory,omitempty"`
}

// Agent is a running or completed worker process executing exactly one task.
type Agent struct {
	ID          string            `json:"id"`
	TaskID      string            `json:"taskId"`
	Status      AgentStatus       `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	PID         int               `json:"pid,omitempty"`
	Result      *AgentResult      `json:"result,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ModelTier   string            `json:"modelTier,omitempty"`

	mu         sync.Mutex
	scrollback []string
}

// ModelTier labels the coarse model class attached to an agent, used for
// routing feedback (glossary: "Tier").
const (
	TierLight   = "light"
	TierMedium  = "medium"
	TierHeavy   = "heavy"
	TierUnknown = "unknown"
)

// NewAgent registers a new running agent for a task.
func NewAgent(id, taskID string, metadata map[string]string) *Agent {
	tier := TierUnknown
	if metadata != nil {
		if t, ok := metadata["modelTier"]; ok && t != "" {
			tier = t
		}
	}
	return &Agent{
		ID:        id,
		TaskID:    taskID,
		Status:    AgentRunning,
		StartedAt: time.Now(),
		Metadata:  metadata,
		ModelTier: tier,
	}
}

// AppendOutput appends a line to the bounded scrollback FIFO.
func (a *Agent) AppendOutput(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scrollback = append(a.scrollback, line)
	if len(a.scrollback) > maxScrollbackLines {
		a.scrollback = a.scrollback[len(a.scrollback)-maxScrollbackLines:]
	}
}

// Scrollback returns a copy of the buffered output lines.
func (a *Agent) Scrollback() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.scrollback))
	copy(out, a.scrollback)
	return out
}

// Complete atomically sets status+result+completedAt. Idempotent under the
// caller's state mutex, matching §4.5's "completion is idempotent under the
// state mutex" — calling it twice just overwrites the same terminal fields.
func (a *Agent) Complete(success bool, durationMs int64, errMsg, errCategory string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	a.Status = AgentCompleted
	a.CompletedAt = &now
	a.Result = &AgentResult{
		Success:       success,
		DurationMs:    durationMs,
		Error:         errMsg,
		ErrorCategory: errCategory,
	}
}

// IsZombieCandidate reports whether the agent has been running long enough
// (§4.5: 30s pid-less grace) to be considered for the zombie sweep.
func (a *Agent) IsZombieCandidate(grace time.Duration) bool {
	if a.Status != AgentRunning {
		return false
	}
	if a.PID == 0 {
		return time.Since(a.StartedAt) >= grace
	}
	return true
}
