// Package metrics turns live agent state and learning buckets into health
// snapshots and the alerts cmd/cos publishes onto the event bus. It
// holds no state of its own beyond a bounded snapshot history and an
// alert-dedup window; the orchestrator and learning store remain the
// source of truth.
package metrics

import (
	"sync"
	"time"

	"github.com/CLIAIMONITOR/cos/internal/learning"
	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

// HealthStatus classifies a single running agent.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthStuck   HealthStatus = "stuck"
	HealthFailing HealthStatus = "failing"
)

// AgentHealth is the per-agent row of a Snapshot.
type AgentHealth struct {
	AgentID    string            `json:"agentId"`
	TaskID     string            `json:"taskId"`
	Status     tasks.AgentStatus `json:"status"`
	RunningFor time.Duration     `json:"runningForNs"`
	Health     HealthStatus      `json:"health"`
}

// TaskTypeHealth is the per-bucket row of a Snapshot, derived from a
// learning.Bucket's recent outcome counts.
type TaskTypeHealth struct {
	Key         learning.Key `json:"key"`
	Completed   int          `json:"completed"`
	Failed      int          `json:"failed"`
	FailureRate float64      `json:"failureRate"`
	Cooling     bool         `json:"cooling"`
}

// Snapshot is one point-in-time health picture of the running system.
type Snapshot struct {
	TakenAt         time.Time        `json:"takenAt"`
	Agents          []AgentHealth    `json:"agents"`
	TaskTypes       []TaskTypeHealth `json:"taskTypes"`
	PendingOnDemand int              `json:"pendingOnDemand"`
}

// stuckAfter is how long an agent can run before CheckAgents flags it as
// stuck rather than merely busy.
const stuckAfter = 20 * time.Minute

// Collector aggregates live agent and learning state into Snapshots and
// keeps a bounded history of them, readable through GetHistory.
type Collector struct {
	mu         sync.Mutex
	history    []Snapshot
	maxHistory int
}

// NewCollector returns a Collector retaining up to maxHistory snapshots.
func NewCollector(maxHistory int) *Collector {
	if maxHistory <= 0 {
		maxHistory = 200
	}
	return &Collector{maxHistory: maxHistory}
}

// deriveHealth classifies an agent from its status, result, and age.
func deriveHealth(a *tasks.Agent, now time.Time) HealthStatus {
	if a.Status == tasks.AgentCompleted && a.Result != nil && !a.Result.Success {
		return HealthFailing
	}
	if a.Status == tasks.AgentRunning && now.Sub(a.StartedAt) >= stuckAfter {
		return HealthStuck
	}
	return HealthHealthy
}

// TakeSnapshot builds a Snapshot from the orchestrator's current agents and
// the learning store's buckets, appends it to history, and returns it.
func (c *Collector) TakeSnapshot(agents []*tasks.Agent, buckets []*learning.Bucket, pendingOnDemand int) Snapshot {
	now := time.Now()

	snap := Snapshot{
		TakenAt:         now,
		Agents:          make([]AgentHealth, 0, len(agents)),
		TaskTypes:       make([]TaskTypeHealth, 0, len(buckets)),
		PendingOnDemand: pendingOnDemand,
	}

	for _, a := range agents {
		snap.Agents = append(snap.Agents, AgentHealth{
			AgentID:    a.ID,
			TaskID:     a.TaskID,
			Status:     a.Status,
			RunningFor: now.Sub(a.StartedAt),
			Health:     deriveHealth(a, now),
		})
	}

	for _, b := range buckets {
		total := b.Completed + b.Failed
		var rate float64
		if total > 0 {
			rate = float64(b.Failed) / float64(total)
		}
		snap.TaskTypes = append(snap.TaskTypes, TaskTypeHealth{
			Key:         b.Key,
			Completed:   b.Completed,
			Failed:      b.Failed,
			FailureRate: rate,
			Cooling:     b.SkippedSince != nil,
		})
	}

	c.mu.Lock()
	c.history = append(c.history, snap)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	c.mu.Unlock()

	return snap
}

// GetHistory returns every retained snapshot, oldest first.
func (c *Collector) GetHistory() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, len(c.history))
	copy(out, c.history)
	return out
}

// ResetHistory discards all retained snapshots.
func (c *Collector) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}
