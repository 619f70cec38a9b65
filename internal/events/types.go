package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

// Event type constants — the core's well-known topics (§4.2)
const (
	EventTaskReady             EventType = "task:ready"
	EventTaskOnDemandRequested EventType = "task:on-demand-requested"
	EventAgentSpawned          EventType = "agent:spawned"
	EventAgentUpdated          EventType = "agent:updated"
	EventAgentCompleted        EventType = "agent:completed"
	EventAgentOutput           EventType = "agent:output"
	EventAgentTerminate        EventType = "agent:terminate"
	EventAgentsChanged         EventType = "agents:changed"
	EventTasksChanged          EventType = "tasks:changed"
	EventConfigChanged         EventType = "config:changed"
	EventStatus                EventType = "status"
	EventStatusPaused          EventType = "status:paused"
	EventStatusResumed         EventType = "status:resumed"
	EventHealthCheck           EventType = "health:check"
	EventHealthCritical        EventType = "health:critical"
	EventScheduleChanged       EventType = "schedule:changed"
	EventLog                   EventType = "log"
	EventLearningRecs          EventType = "learning:recommendations"
	EventJobSpawned            EventType = "job:spawned"
	EventMemory                EventType = "memory:*"
)

// Priority constants for events
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

// Event represents a system event that can be published and subscribed to
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType EventType, source, target string, priority int, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// AllEventTypes returns all defined event types, used to build "subscribe to everything" filters
func AllEventTypes() []EventType {
	return []EventType{
		EventTaskReady,
		EventTaskOnDemandRequested,
		EventAgentSpawned,
		EventAgentUpdated,
		EventAgentCompleted,
		EventAgentOutput,
		EventAgentTerminate,
		EventAgentsChanged,
		EventTasksChanged,
		EventConfigChanged,
		EventStatus,
		EventStatusPaused,
		EventStatusResumed,
		EventHealthCheck,
		EventHealthCritical,
		EventScheduleChanged,
		EventLog,
		EventLearningRecs,
		EventJobSpawned,
		EventMemory,
	}
}
