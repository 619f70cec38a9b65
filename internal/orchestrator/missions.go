package orchestrator

import "github.com/CLIAIMONITOR/cos/internal/tasks"

// generateMissionTasks turns configured missions into pending tasks,
// skipping any mission that already has a non-terminal task tracked — this
// keeps one mission run in flight at a time rather than piling up repeats
// while the last one is still being worked.
func (o *Orchestrator) generateMissionTasks() []*tasks.Task {
	if len(o.cfg.Missions) == 0 {
		return nil
	}

	o.mu.Lock()
	active := make(map[string]bool)
	for _, t := range o.queue.All() {
		if id := t.Metadata[tasks.MetaMissionID]; id != "" && !t.IsTerminal() {
			active[id] = true
		}
	}
	o.mu.Unlock()

	var out []*tasks.Task
	for _, m := range o.cfg.Missions {
		if active[m.ID] {
			continue
		}

		priority := tasks.Priority(m.Priority)
		switch priority {
		case tasks.PriorityCritical, tasks.PriorityHigh, tasks.PriorityMedium, tasks.PriorityLow:
		default:
			priority = tasks.PriorityMedium
		}

		t := tasks.NewTask(m.Description, priority, tasks.OriginInternal)
		t.AutoApproved = true
		t.Metadata[tasks.MetaMissionID] = m.ID
		t.Metadata[tasks.MetaDispatchSource] = tasks.DispatchMission
		if m.App != "" {
			t.Metadata[tasks.MetaApp] = m.App
		}
		out = append(out, t)
	}
	return out
}
