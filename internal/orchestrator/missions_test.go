package orchestrator

import (
	"testing"

	"github.com/CLIAIMONITOR/cos/internal/config"
	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

func TestGenerateMissionTasksSkipsActiveMission(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.cfg.Missions = []config.Mission{
		{ID: "m1", Description: "keep the docs fresh", App: "docs-site", Priority: "high"},
	}

	first := o.generateMissionTasks()
	if len(first) != 1 {
		t.Fatalf("expected 1 mission task, got %d", len(first))
	}
	if first[0].Metadata[tasks.MetaMissionID] != "m1" {
		t.Errorf("expected missionId m1, got %q", first[0].Metadata[tasks.MetaMissionID])
	}
	if first[0].Metadata[tasks.MetaDispatchSource] != tasks.DispatchMission {
		t.Errorf("expected dispatch source mission, got %q", first[0].Metadata[tasks.MetaDispatchSource])
	}
	if first[0].Priority != tasks.PriorityHigh {
		t.Errorf("expected high priority, got %s", first[0].Priority)
	}

	o.queue.Add(first[0])

	second := o.generateMissionTasks()
	if len(second) != 0 {
		t.Errorf("expected no new mission task while m1 is still in flight, got %d", len(second))
	}
}

func TestGenerateMissionTasksDefaultsInvalidPriorityToMedium(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.cfg.Missions = []config.Mission{
		{ID: "m2", Description: "tidy backlog", Priority: "urgent-ish"},
	}

	got := o.generateMissionTasks()
	if len(got) != 1 {
		t.Fatalf("expected 1 mission task, got %d", len(got))
	}
	if got[0].Priority != tasks.PriorityMedium {
		t.Errorf("expected invalid priority to fall back to medium, got %s", got[0].Priority)
	}
}
