package relay

import "time"

// Subject patterns the bridge publishes and subscribes on. Use
// fmt.Sprintf(SubjectAgentHeartbeat, agentID) etc. to build a concrete
// subject; the "All" variants are ready-made wildcard subscriptions.
const (
	// SubjectSpawnRequest is where task:ready admissions are published for
	// whatever external process pool is listening to spawn agents.
	SubjectSpawnRequest = "cos.agent.spawn"

	// SubjectAgentHeartbeat is the pattern a spawned agent reports liveness
	// and current activity on.
	SubjectAgentHeartbeat = "cos.agent.%s.heartbeat"

	// SubjectAgentOutput is the pattern an agent streams scrollback lines on.
	SubjectAgentOutput = "cos.agent.%s.output"

	// SubjectAgentCompleted is the pattern an agent reports its terminal
	// result on.
	SubjectAgentCompleted = "cos.agent.%s.completed"

	// SubjectAgentTerminate is the subject pattern for kill requests. Bridge
	// does not publish on it; events.EventAgentTerminate is mirrored onto
	// SubjectEventPattern like every other bus event.
	SubjectAgentTerminate = "cos.agent.%s.terminate"

	// SubjectAllHeartbeats subscribes to every agent's heartbeat.
	SubjectAllHeartbeats = "cos.agent.*.heartbeat"

	// SubjectAllOutput subscribes to every agent's output stream.
	SubjectAllOutput = "cos.agent.*.output"

	// SubjectAllCompleted subscribes to every agent's completion report.
	SubjectAllCompleted = "cos.agent.*.completed"

	// SubjectEventPattern mirrors a bus event of the given type onto the
	// relay, for remote status consumers that can't reach statusapi's
	// websocket directly.
	SubjectEventPattern = "cos.events.%s"

	// SubjectAllEvents subscribes to every mirrored bus event.
	SubjectAllEvents = "cos.events.>"
)

// SpawnRequest is published on SubjectSpawnRequest when the orchestrator
// admits a task — the external spawner is whatever consumes this subject.
type SpawnRequest struct {
	TaskID      string            `json:"taskId"`
	AgentID     string            `json:"agentId"`
	App         string            `json:"app"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IssuedAt    time.Time         `json:"issuedAt"`
}

// HeartbeatReport is published on SubjectAgentHeartbeat by a running agent.
type HeartbeatReport struct {
	AgentID     string    `json:"agentId"`
	Status      string    `json:"status"`
	CurrentTask string    `json:"currentTask,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// OutputReport is published on SubjectAgentOutput as an agent produces
// scrollback.
type OutputReport struct {
	AgentID string `json:"agentId"`
	Line    string `json:"line"`
}

// CompletionReport is published on SubjectAgentCompleted when an agent
// finishes, successfully or not. The bridge turns this straight into an
// Orchestrator.CompleteAgent call.
type CompletionReport struct {
	AgentID       string `json:"agentId"`
	Success       bool   `json:"success"`
	DurationMs    int64  `json:"durationMs"`
	Error         string `json:"error,omitempty"`
	ErrorCategory string `json:"errorCategory,omitempty"`
}

// TerminateRequest is published on SubjectAgentTerminate to ask a running
// agent to stop.
type TerminateRequest struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
}
