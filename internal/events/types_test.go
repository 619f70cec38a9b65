package events

import (
	"encoding/json"
	"testing"
	"time"
)

// TestEventType_String verifies event type constants
func TestEventType_String(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
		expected  string
	}{
		{"Task ready event", EventTaskReady, "task:ready"},
		{"Agent spawned event", EventAgentSpawned, "agent:spawned"},
		{"Agent completed event", EventAgentCompleted, "agent:completed"},
		{"Tasks changed event", EventTasksChanged, "tasks:changed"},
		{"Health critical event", EventHealthCritical, "health:critical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.eventType) != tt.expected {
				t.Errorf("EventType = %v, want %v", tt.eventType, tt.expected)
			}
		})
	}
}

// TestPriorityConstants verifies priority level constants
func TestPriorityConstants(t *testing.T) {
	if PriorityCritical != 1 {
		t.Errorf("PriorityCritical = %d, want 1", PriorityCritical)
	}
	if PriorityHigh != 2 {
		t.Errorf("PriorityHigh = %d, want 2", PriorityHigh)
	}
	if PriorityNormal != 3 {
		t.Errorf("PriorityNormal = %d, want 3", PriorityNormal)
	}
	if PriorityLow != 4 {
		t.Errorf("PriorityLow = %d, want 4", PriorityLow)
	}
}

// TestEvent_JSON verifies JSON marshal/unmarshal round-trip
func TestEvent_JSON(t *testing.T) {
	original := &Event{
		ID:       "test-id-123",
		Type:     EventTaskReady,
		Source:   "orchestrator",
		Target:   "spawner",
		Priority: PriorityHigh,
		Payload: map[string]interface{}{
			"task_id": "task-1",
			"count":   42,
		},
		CreatedAt: time.Date(2025, 12, 8, 10, 0, 0, 0, time.UTC),
	}

	jsonData, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var decoded Event
	err = json.Unmarshal(jsonData, &decoded)
	if err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %v, want %v", decoded.ID, original.ID)
	}
	if decoded.Type != original.Type {
		t.Errorf("Type = %v, want %v", decoded.Type, original.Type)
	}
	if decoded.Source != original.Source {
		t.Errorf("Source = %v, want %v", decoded.Source, original.Source)
	}
	if decoded.Target != original.Target {
		t.Errorf("Target = %v, want %v", decoded.Target, original.Target)
	}
	if decoded.Priority != original.Priority {
		t.Errorf("Priority = %v, want %v", decoded.Priority, original.Priority)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}

	if decoded.Payload["task_id"] != "task-1" {
		t.Errorf("Payload.task_id = %v, want 'task-1'", decoded.Payload["task_id"])
	}
	if int(decoded.Payload["count"].(float64)) != 42 {
		t.Errorf("Payload.count = %v, want 42", decoded.Payload["count"])
	}
}

// TestNewEvent verifies event constructor generates ID and timestamp
func TestNewEvent(t *testing.T) {
	beforeCreate := time.Now()

	event := NewEvent(EventTaskReady, "orchestrator", "spawner", PriorityNormal, map[string]interface{}{
		"task_id": "task-123",
	})

	afterCreate := time.Now()

	if event.ID == "" {
		t.Error("NewEvent did not generate ID")
	}
	if len(event.ID) != 36 { // Standard UUID length with hyphens
		t.Errorf("Generated ID has unexpected length: %d, want 36", len(event.ID))
	}

	if event.CreatedAt.IsZero() {
		t.Error("NewEvent did not set CreatedAt timestamp")
	}
	if event.CreatedAt.Before(beforeCreate) || event.CreatedAt.After(afterCreate) {
		t.Errorf("CreatedAt timestamp %v is outside expected range [%v, %v]",
			event.CreatedAt, beforeCreate, afterCreate)
	}

	if event.Type != EventTaskReady {
		t.Errorf("Type = %v, want %v", event.Type, EventTaskReady)
	}
	if event.Source != "orchestrator" {
		t.Errorf("Source = %v, want 'orchestrator'", event.Source)
	}
	if event.Target != "spawner" {
		t.Errorf("Target = %v, want 'spawner'", event.Target)
	}
	if event.Priority != PriorityNormal {
		t.Errorf("Priority = %v, want %v", event.Priority, PriorityNormal)
	}
	if event.Payload["task_id"] != "task-123" {
		t.Errorf("Payload.task_id = %v, want 'task-123'", event.Payload["task_id"])
	}
}

// TestAllEventTypes verifies the helper function returns all event types
func TestAllEventTypes(t *testing.T) {
	types := AllEventTypes()

	expectedCount := 20
	if len(types) != expectedCount {
		t.Errorf("AllEventTypes returned %d types, want %d", len(types), expectedCount)
	}

	typeMap := make(map[EventType]bool)
	for _, et := range types {
		typeMap[et] = true
	}

	expectedTypes := []EventType{
		EventTaskReady,
		EventAgentSpawned,
		EventAgentCompleted,
		EventTasksChanged,
		EventHealthCritical,
		EventScheduleChanged,
	}

	for _, expected := range expectedTypes {
		if !typeMap[expected] {
			t.Errorf("AllEventTypes missing event type: %v", expected)
		}
	}
}
