// Package state owns the on-disk runtime envelope — the single JSON document
// that survives a restart: run/pause state, per-agent snapshots, and session
// counters. Everything else (task queues, learning buckets, schedule policy)
// lives in its own store; this one is just "am I running, and what was I
// doing."
package state

import "time"

// SchemaVersion is bumped whenever Envelope's on-disk shape changes in a way
// that requires migration on load.
const SchemaVersion = 2

// Envelope is the root document persisted to state.json in the data
// directory.
type Envelope struct {
	SchemaVersion int        `json:"schemaVersion"`
	Running       bool       `json:"running"`
	Paused        bool       `json:"paused"`
	PausedAt      *time.Time `json:"pausedAt,omitempty"`
	PauseReason   string     `json:"pauseReason,omitempty"`

	Agents map[string]*AgentSnapshot `json:"agents"`
	Stats  SessionStats              `json:"stats"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AgentSnapshot is the persisted view of a running or recently finished
// agent — enough to rehydrate Component E's in-memory registry on restart
// and to detect orphaned work.
type AgentSnapshot struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	Status      string     `json:"status"`
	PID         int        `json:"pid"`
	ModelTier   string     `json:"modelTier"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// SessionStats accumulates counters across the process lifetime, reset only
// when the envelope is rebuilt from scratch.
type SessionStats struct {
	TotalTasksCompleted int `json:"totalTasksCompleted"`
	TotalTasksFailed    int `json:"totalTasksFailed"`
	TotalAgentsSpawned  int `json:"totalAgentsSpawned"`
	TotalZombiesReaped  int `json:"totalZombiesReaped"`

	// LastSelfImprovementAt/LastIdleReviewAt track the idle fallback task's
	// alternation between reviewing the core itself and reviewing a
	// tracked app, so consecutive idle ticks don't repeat the same kind.
	LastSelfImprovementAt   *time.Time `json:"lastSelfImprovementAt,omitempty"`
	LastIdleReviewAt        *time.Time `json:"lastIdleReviewAt,omitempty"`
	LastSelfImprovementType string     `json:"lastSelfImprovementType,omitempty"`
}

// NewEnvelope returns a fresh envelope at the current schema version.
func NewEnvelope() *Envelope {
	now := time.Now()
	return &Envelope{
		SchemaVersion: SchemaVersion,
		Running:       true,
		Agents:        make(map[string]*AgentSnapshot),
		StartedAt:     now,
		UpdatedAt:     now,
	}
}
