package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(nil)

	// Subscribe to agent lifecycle events for a specific agent
	ch := bus.Subscribe("agent-1", []EventType{EventAgentSpawned})

	event := NewEvent(EventAgentSpawned, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
		"task_id": "task-1",
	})
	bus.Publish(event)

	select {
	case received := <-ch:
		if received.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, received.ID)
		}
		if received.Type != EventAgentSpawned {
			t.Errorf("Expected event type %s, got %s", EventAgentSpawned, received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive event within timeout")
	}

	bus.Unsubscribe("agent-1", ch)
}

func TestBus_FilterByType(t *testing.T) {
	bus := NewBus(nil)

	// Subscribe only to tasks:changed
	ch := bus.Subscribe("agent-1", []EventType{EventTasksChanged})

	tasksEvent := NewEvent(EventTasksChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
		"count": 3,
	})
	bus.Publish(tasksEvent)

	select {
	case received := <-ch:
		if received.Type != EventTasksChanged {
			t.Errorf("Expected event type %s, got %s", EventTasksChanged, received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive tasks:changed event")
	}

	// Publish an agent:spawned event (should NOT be received)
	spawnEvent := NewEvent(EventAgentSpawned, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
		"task_id": "task-2",
	})
	bus.Publish(spawnEvent)

	select {
	case received := <-ch:
		t.Errorf("Should not have received event type %s", received.Type)
	case <-time.After(100 * time.Millisecond):
		// Expected timeout
	}

	bus.Unsubscribe("agent-1", ch)
}

func TestBus_BroadcastAll(t *testing.T) {
	bus := NewBus(nil)

	ch1 := bus.Subscribe("agent-1", []EventType{EventTasksChanged})
	ch2 := bus.Subscribe("agent-2", []EventType{EventTasksChanged})
	ch3 := bus.Subscribe("agent-3", []EventType{EventTasksChanged})

	event := NewEvent(EventTasksChanged, "orchestrator", "all", PriorityNormal, map[string]interface{}{
		"broadcast": true,
	})
	bus.Publish(event)

	agents := []struct {
		name string
		ch   <-chan Event
	}{
		{"agent-1", ch1},
		{"agent-2", ch2},
		{"agent-3", ch3},
	}

	for _, agent := range agents {
		select {
		case received := <-agent.ch:
			if received.ID != event.ID {
				t.Errorf("%s: Expected event ID %s, got %s", agent.name, event.ID, received.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s: Did not receive broadcast event", agent.name)
		}
	}

	bus.Unsubscribe("agent-1", ch1)
	bus.Unsubscribe("agent-2", ch2)
	bus.Unsubscribe("agent-3", ch3)
}

func TestBus_AllSubscriber(t *testing.T) {
	bus := NewBus(nil)

	allCh := bus.Subscribe("all", []EventType{EventTasksChanged})
	agent1Ch := bus.Subscribe("agent-1", []EventType{EventTasksChanged})

	event := NewEvent(EventTasksChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
		"content": "hello agent-1",
	})
	bus.Publish(event)

	select {
	case received := <-agent1Ch:
		if received.ID != event.ID {
			t.Errorf("agent-1: Expected event ID %s, got %s", event.ID, received.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("agent-1 did not receive event")
	}

	select {
	case received := <-allCh:
		if received.ID != event.ID {
			t.Errorf("all subscriber: Expected event ID %s, got %s", event.ID, received.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("all subscriber did not receive event")
	}

	bus.Unsubscribe("all", allCh)
	bus.Unsubscribe("agent-1", agent1Ch)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe("agent-1", []EventType{EventTasksChanged})

	event1 := NewEvent(EventTasksChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
		"content": "first",
	})
	bus.Publish(event1)

	select {
	case <-ch:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive first event")
	}

	bus.Unsubscribe("agent-1", ch)

	event2 := NewEvent(EventTasksChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
		"content": "second",
	})
	bus.Publish(event2)

	select {
	case event, ok := <-ch:
		if ok {
			t.Errorf("Should not have received event after unsubscribe: %+v", event)
		}
	case <-time.After(100 * time.Millisecond):
		// Also acceptable - no more events
	}
}

func TestBus_MultipleSubscriptionsSameTarget(t *testing.T) {
	bus := NewBus(nil)

	ch1 := bus.Subscribe("agent-1", []EventType{EventTasksChanged})
	ch2 := bus.Subscribe("agent-1", []EventType{EventTasksChanged})

	event := NewEvent(EventTasksChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
		"content": "hello",
	})
	bus.Publish(event)

	select {
	case <-ch1:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch1 did not receive event")
	}

	select {
	case <-ch2:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2 did not receive event")
	}

	bus.Unsubscribe("agent-1", ch1)
	bus.Unsubscribe("agent-1", ch2)
}

func TestBus_NoTypeFilter(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe("agent-1", nil)

	tasksEvent := NewEvent(EventTasksChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{})
	bus.Publish(tasksEvent)

	agentsEvent := NewEvent(EventAgentsChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{})
	bus.Publish(agentsEvent)

	healthEvent := NewEvent(EventHealthCheck, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{})
	bus.Publish(healthEvent)

	receivedTypes := make(map[EventType]bool)
	for i := 0; i < 3; i++ {
		select {
		case event := <-ch:
			receivedTypes[event.Type] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("Did not receive all events")
		}
	}

	if !receivedTypes[EventTasksChanged] {
		t.Error("Did not receive tasks:changed event")
	}
	if !receivedTypes[EventAgentsChanged] {
		t.Error("Did not receive agents:changed event")
	}
	if !receivedTypes[EventHealthCheck] {
		t.Error("Did not receive health:check event")
	}

	bus.Unsubscribe("agent-1", ch)
}

func TestBus_FullChannelNonBlocking(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe("agent-1", []EventType{EventTasksChanged})

	for i := 0; i < 100; i++ {
		event := NewEvent(EventTasksChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
			"index": i,
		})
		bus.Publish(event)
	}

	done := make(chan bool)
	go func() {
		event := NewEvent(EventTasksChanged, "orchestrator", "agent-1", PriorityNormal, map[string]interface{}{
			"index": 100,
		})
		bus.Publish(event)
		done <- true
	}()

	select {
	case <-done:
		// Expected - publish should not block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked on full channel")
	}

	bus.Unsubscribe("agent-1", ch)
}
