// Package tasks holds the Task/Agent data model shared by the orchestrator,
// the learning store, and the schedule store.
package tasks

import (
	"fmt"
	"time"
)

// Status represents the current lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Priority is the task's coarse urgency band. CRITICAL/HIGH/MEDIUM/LOW each
// carry a numeric value so candidates can be sorted without a lookup table.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Value returns the numeric priority used for queue ordering (lower sorts first).
func (p Priority) Value() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// Origin identifies how a task entered the system.
type Origin string

const (
	OriginUser     Origin = "user"
	OriginInternal Origin = "internal"
)

// Task is a unit of work the orchestrator dispatches to a worker agent.
//
// Metadata is an open-ended pass-through bag (analysisType, app, repoPath,
// model, providerId, missionId, jobId, ...) the orchestrator forwards to the
// spawner without inspecting, except for the keys it explicitly reads via
// the App/AnalysisType/MissionID accessors below.
type Task struct {
	ID               string            `json:"id"`
	Description      string            `json:"description"`
	Priority         Priority          `json:"priority"`
	Status           Status            `json:"status"`
	Origin           Origin            `json:"origin"`
	ApprovalRequired bool              `json:"approvalRequired"`
	AutoApproved     bool              `json:"autoApproved"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	StartedAt        *time.Time        `json:"startedAt,omitempty"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
}

// metadata keys the orchestrator reads directly; everything else passes through.
const (
	MetaApp            = "app"
	MetaAnalysisType   = "analysisType"
	MetaMissionID      = "missionId"
	MetaJobID          = "jobId"
	MetaReviewType     = "reviewType"
	MetaDispatchSource = "dispatchSource"
)

// Dispatch source tags stamped into MetaDispatchSource at task-creation time,
// identifying which rung of the dispatch priority ladder produced a task.
const (
	DispatchOnDemand = "on-demand"
	DispatchUser     = "user"
	DispatchSystem   = "system"
	DispatchMission  = "mission"
	DispatchJob      = "job"
	DispatchIdle     = "idle"
)

// DispatchSource returns the task's dispatch-ladder origin: an explicit
// MetaDispatchSource tag if one was stamped at creation, otherwise inferred
// from Origin — "user" for user-originated tasks, "system" for everything
// else (internal tasks predating the ladder, or read from the system
// markdown file directly rather than generated by a ladder rung).
func (t *Task) DispatchSource() string {
	if t.Metadata != nil {
		if src, ok := t.Metadata[MetaDispatchSource]; ok && src != "" {
			return src
		}
	}
	if t.Origin == OriginUser {
		return DispatchUser
	}
	return DispatchSystem
}

// App returns metadata.app, or "_self" when absent — the unit of per-project
// concurrency (glossary: "Project").
func (t *Task) App() string {
	if t.Metadata == nil {
		return "_self"
	}
	if app, ok := t.Metadata[MetaApp]; ok && app != "" {
		return app
	}
	return "_self"
}

// validTransitions defines allowed status transitions.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusPending}, // pending: orphan reset
	StatusCompleted:  {},
	StatusFailed:     {StatusPending}, // allow manual retry re-queue
}

// NewTask creates a new task with a stable, prefixed id. User-originated
// tasks get "task-"; internally generated ones get "sys-" per §3.
func NewTask(description string, priority Priority, origin Origin) *Task {
	now := time.Now()
	prefix := "task-"
	if origin == OriginInternal {
		prefix = "sys-"
	}
	return &Task{
		ID:          fmt.Sprintf("%s%d", prefix, now.UnixNano()),
		Description: description,
		Priority:    priority,
		Status:      StatusPending,
		Origin:      origin,
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks that the task has valid field values.
func (t *Task) Validate() error {
	if t.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch t.Priority {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
	default:
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	return nil
}

// TransitionTo attempts to move the task to a new status.
func (t *Task) TransitionTo(newStatus Status) error {
	allowed, ok := validTransitions[t.Status]
	if !ok {
		return fmt.Errorf("unknown current status: %s", t.Status)
	}

	for _, s := range allowed {
		if s == newStatus {
			t.Status = newStatus
			t.UpdatedAt = time.Now()
			if newStatus == StatusInProgress && t.StartedAt == nil {
				now := time.Now()
				t.StartedAt = &now
			}
			if newStatus == StatusCompleted || newStatus == StatusFailed {
				now := time.Now()
				t.CompletedAt = &now
			}
			return nil
		}
	}

	return fmt.Errorf("invalid transition from %s to %s", t.Status, newStatus)
}

// IsTerminal returns true if the task is in a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// ResetOrphan resets an in-progress task with no live agent back to pending,
// per §3's "orphaned in_progress is reset to pending at startup and periodically".
func (t *Task) ResetOrphan() {
	if t.Status == StatusInProgress {
		t.Status = StatusPending
		t.UpdatedAt = time.Now()
	}
}
