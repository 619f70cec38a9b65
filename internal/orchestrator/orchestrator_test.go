package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/cos/internal/config"
	"github.com/CLIAIMONITOR/cos/internal/events"
	"github.com/CLIAIMONITOR/cos/internal/learning"
	"github.com/CLIAIMONITOR/cos/internal/schedule"
	"github.com/CLIAIMONITOR/cos/internal/state"
	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

// fakeSource is a MarkdownSource that hands back a fixed task list once,
// then nothing further — enough to seed a queue without touching disk.
type fakeSource struct {
	name    string
	pending []*tasks.Task
	served  bool
}

func (f *fakeSource) Load() ([]*tasks.Task, error) {
	if f.served {
		return nil, nil
	}
	f.served = true
	return f.pending, nil
}

func (f *fakeSource) Save([]*tasks.Task, bool) error { return nil }
func (f *fakeSource) GetName() string                { return f.name }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *events.Bus) {
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
	cfg.Concurrency.GlobalMax = 5
	cfg.Concurrency.DefaultPerApp = 5

	o := New(cfg, st, lr, sc, bus, &fakeSource{name: "user"}, &fakeSource{name: "system"})
	return o, bus
}

func TestEvaluateAdmitsPendingTaskAndPublishesTaskReady(t *testing.T) {
	o, bus := newTestOrchestrator(t)

	task := tasks.NewTask("review the deploy", tasks.PriorityHigh, tasks.OriginUser)
	o.userSource = &fakeSource{name: "user", pending: []*tasks.Task{task}}

	ch := bus.Subscribe("test", []events.EventType{events.EventTaskReady})
	defer bus.Unsubscribe("test", ch)

	decision := o.Evaluate(time.Now())

	if len(decision.Admitted) != 1 || decision.Admitted[0] != task.ID {
		t.Fatalf("expected task %s admitted, got %v", task.ID, decision.Admitted)
	}
	if task.Status != tasks.StatusInProgress {
		t.Errorf("expected task in_progress after admission, got %s", task.Status)
	}

	select {
	case ev := <-ch:
		if ev.Type != events.EventTaskReady {
			t.Errorf("expected task:ready, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a task:ready event to be published")
	}
}

func TestPauseSuppressesDispatch(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	task := tasks.NewTask("should not run while paused", tasks.PriorityHigh, tasks.OriginUser)
	o.userSource = &fakeSource{name: "user", pending: []*tasks.Task{task}}

	o.Pause("maintenance window")
	if !o.IsPaused() {
		t.Fatal("expected IsPaused() to be true after Pause")
	}

	decision := o.Evaluate(time.Now())
	if len(decision.Admitted) != 0 {
		t.Errorf("expected no admissions while paused, got %v", decision.Admitted)
	}
	if task.Status != tasks.StatusPending {
		t.Errorf("expected task to remain pending while paused, got %s", task.Status)
	}

	o.Resume()
	if o.IsPaused() {
		t.Fatal("expected IsPaused() to be false after Resume")
	}

	decision = o.Evaluate(time.Now())
	if len(decision.Admitted) != 1 {
		t.Errorf("expected admission after resume, got %v", decision.Admitted)
	}
}

func TestCompleteAgentTransitionsTaskAndRecordsLearning(t *testing.T) {
	o, bus := newTestOrchestrator(t)

	task := tasks.NewTask("flaky analysis", tasks.PriorityMedium, tasks.OriginUser)
	task.Metadata[tasks.MetaAnalysisType] = "security"
	o.userSource = &fakeSource{name: "user", pending: []*tasks.Task{task}}

	ch := bus.Subscribe("test", []events.EventType{events.EventAgentCompleted})
	defer bus.Unsubscribe("test", ch)

	decision := o.Evaluate(time.Now())
	if len(decision.Admitted) != 1 {
		t.Fatalf("expected admission, got %v", decision.Admitted)
	}

	o.mu.Lock()
	var agentID string
	for id, a := range o.agents {
		if a.TaskID == task.ID {
			agentID = id
		}
	}
	o.mu.Unlock()
	if agentID == "" {
		t.Fatal("expected an agent registered for the admitted task")
	}

	o.CompleteAgent(agentID, true, 1500, "", "")

	if task.Status != tasks.StatusCompleted {
		t.Errorf("expected task completed, got %s", task.Status)
	}

	key := learning.Key{TaskType: "security", App: task.App()}
	snap := o.learning.Snapshot()
	found := false
	for _, b := range snap {
		if b.Key == key {
			found = true
			if b.Completed != 1 {
				t.Errorf("expected 1 completed sample recorded, got %d", b.Completed)
			}
		}
	}
	if !found {
		t.Error("expected a learning bucket for the completed task's key")
	}

	select {
	case ev := <-ch:
		if ev.Type != events.EventAgentCompleted {
			t.Errorf("expected agent:completed, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an agent:completed event to be published")
	}
}

func TestCompleteAgentFailurePathMarksTaskFailed(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	task := tasks.NewTask("will fail", tasks.PriorityLow, tasks.OriginUser)
	o.userSource = &fakeSource{name: "user", pending: []*tasks.Task{task}}

	o.Evaluate(time.Now())

	o.mu.Lock()
	var agentID string
	for id, a := range o.agents {
		if a.TaskID == task.ID {
			agentID = id
		}
	}
	o.mu.Unlock()

	o.CompleteAgent(agentID, false, 200, "boom", "runtime")

	if task.Status != tasks.StatusFailed {
		t.Errorf("expected task failed, got %s", task.Status)
	}
}

func TestEvaluateReapsZombieAndResetsTaskToPending(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.cfg.ZombieGrace = 10 * time.Millisecond

	task := tasks.NewTask("orphaned by a crashed agent", tasks.PriorityMedium, tasks.OriginUser)
	task.TransitionTo(tasks.StatusInProgress)
	o.queue.Add(task)

	agent := tasks.NewAgent("agent-zombie", task.ID, task.Metadata)
	agent.StartedAt = time.Now().Add(-time.Hour)
	o.agents["agent-zombie"] = agent

	decision := o.Evaluate(time.Now())

	if len(decision.ZombiesReaped) != 1 || decision.ZombiesReaped[0] != "agent-zombie" {
		t.Fatalf("expected agent-zombie reaped, got %v", decision.ZombiesReaped)
	}
	if task.Status != tasks.StatusPending {
		t.Errorf("expected orphaned task reset to pending, got %s", task.Status)
	}
}

func TestAdmissionRespectsGlobalMaxAcrossEvaluate(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.cfg.Concurrency.GlobalMax = 1
	o.cfg.Concurrency.DefaultPerApp = 5

	a := tasks.NewTask("first", tasks.PriorityHigh, tasks.OriginUser)
	b := tasks.NewTask("second", tasks.PriorityHigh, tasks.OriginUser)
	o.userSource = &fakeSource{name: "user", pending: []*tasks.Task{a, b}}

	decision := o.Evaluate(time.Now())

	if len(decision.Admitted) != 1 {
		t.Fatalf("expected exactly 1 admission under globalMax=1, got %d", len(decision.Admitted))
	}
	if len(decision.Deferred) != 1 {
		t.Fatalf("expected exactly 1 deferral under globalMax=1, got %d", len(decision.Deferred))
	}
}
