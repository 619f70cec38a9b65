package orchestrator

import (
	"time"

	"github.com/CLIAIMONITOR/cos/internal/state"
	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

// generateIdleReviewTask produces the single fallback task dispatched when
// nothing else is pending: it alternates between a self-improvement review
// of the core and a review of a tracked app, so consecutive idle ticks don't
// repeat the same kind. Self-improvement wins ties (and the case where no
// app has ever been tracked), so the system is never idle.
//
// The alternation decision itself is made from an in-memory flag (seeded
// once from the envelope's LastSelfImprovementAt/LastIdleReviewAt, so it
// survives a restart) rather than re-reading the envelope on every call —
// state.Store's writes land on its own goroutine, so a read immediately
// after a same-process Submit is not guaranteed to observe it yet.
func (o *Orchestrator) generateIdleReviewTask(apps []string) *tasks.Task {
	o.mu.Lock()
	if !o.idleSeeded {
		o.idleSeeded = true
		var lastSelf, lastIdle time.Time
		o.state.View(func(e *state.Envelope) {
			if e.Stats.LastSelfImprovementAt != nil {
				lastSelf = *e.Stats.LastSelfImprovementAt
			}
			if e.Stats.LastIdleReviewAt != nil {
				lastIdle = *e.Stats.LastIdleReviewAt
			}
		})
		o.idleAlternateSelf = !lastIdle.After(lastSelf)
	}
	doSelf := o.idleAlternateSelf
	o.idleAlternateSelf = !o.idleAlternateSelf
	o.mu.Unlock()

	if len(apps) == 0 || doSelf {
		t := tasks.NewTask("self-improvement review", tasks.PriorityLow, tasks.OriginInternal)
		t.AutoApproved = true
		t.Metadata[tasks.MetaAnalysisType] = "self-improvement"
		t.Metadata[tasks.MetaDispatchSource] = tasks.DispatchIdle
		o.recordIdleReview(true)
		return t
	}

	app := apps[0]
	t := tasks.NewTask("idle review: "+app, tasks.PriorityLow, tasks.OriginInternal)
	t.AutoApproved = true
	t.Metadata[tasks.MetaApp] = app
	t.Metadata[tasks.MetaAnalysisType] = "app-review"
	t.Metadata[tasks.MetaDispatchSource] = tasks.DispatchIdle
	o.recordIdleReview(false)
	return t
}

// recordIdleReview stamps the envelope with which flavor of idle task was
// just generated, so the next idle tick alternates instead of repeating.
func (o *Orchestrator) recordIdleReview(selfImprovement bool) {
	now := time.Now()
	o.state.Submit(func(e *state.Envelope) {
		if selfImprovement {
			e.Stats.LastSelfImprovementAt = &now
			e.Stats.LastSelfImprovementType = "self-improvement"
		} else {
			e.Stats.LastIdleReviewAt = &now
		}
	})
}
