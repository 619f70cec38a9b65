package orchestrator

import (
	"time"

	"github.com/CLIAIMONITOR/cos/internal/schedule"
	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

// generateAutonomousJobTasks turns configured autonomous jobs whose own
// schedule entry reports them due into pending tasks, independent of the
// improvement-task rotation pool.
func (o *Orchestrator) generateAutonomousJobTasks(now time.Time) []*tasks.Task {
	if len(o.cfg.AutonomousJobs) == 0 {
		return nil
	}

	var out []*tasks.Task
	for _, j := range o.cfg.AutonomousJobs {
		app := j.App
		if app == "" {
			app = "_self"
		}
		key := schedule.Key{TaskType: j.TaskType, App: app}

		due, _ := o.schedule.ShouldRunTask(key, now, 1.0)
		if !due {
			continue
		}

		t := tasks.NewTask("autonomous job: "+j.TaskType, tasks.PriorityLow, tasks.OriginInternal)
		t.AutoApproved = true
		t.Metadata[tasks.MetaJobID] = j.ID
		t.Metadata[tasks.MetaAnalysisType] = j.TaskType
		t.Metadata[tasks.MetaDispatchSource] = tasks.DispatchJob
		if app != "_self" {
			t.Metadata[tasks.MetaApp] = app
		}
		out = append(out, t)

		if err := o.schedule.RecordExecution(key, now); err != nil {
			continue
		}
	}
	return out
}
