// Package orchestrator is the evaluation loop at the center of the core:
// on each tick it reloads pending work, runs the P0-P4 dispatch ladder and
// zombie cleanup, and publishes task:ready events for whatever it admits. It
// never spawns a process itself — that boundary belongs to whatever is
// listening for task:ready and publishing agent:spawned/agent:completed back.
package orchestrator

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/CLIAIMONITOR/cos/internal/config"
	"github.com/CLIAIMONITOR/cos/internal/events"
	"github.com/CLIAIMONITOR/cos/internal/learning"
	"github.com/CLIAIMONITOR/cos/internal/schedule"
	"github.com/CLIAIMONITOR/cos/internal/state"
	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

// decisionLogSize bounds how many past Evaluate results statusapi's
// decision-log endpoint can look back over.
const decisionLogSize = 50

// rehabilitationSweepEvery is how many evaluations pass between pruning
// stale learning buckets and rehabilitating ones stuck in skip-failing.
const rehabilitationSweepEvery = 100

// learningRecsEvery is how many evaluations pass between emitting model-tier
// routing suggestions onto the bus.
const learningRecsEvery = 20

// performanceSummaryEvery is how many evaluations pass between logging an
// aggregate throughput summary.
const performanceSummaryEvery = 10

// Orchestrator runs the evaluation loop described in the package doc.
type Orchestrator struct {
	cfg      *config.Config
	state    *state.Store
	learning *learning.Store
	schedule *schedule.Store
	bus      *events.Bus

	userSource   tasks.MarkdownSource
	systemSource tasks.MarkdownSource

	mu          sync.Mutex
	queue       *tasks.Queue
	agents      map[string]*tasks.Agent
	evalCount   int
	paused      bool
	pauseReason string
	decisions   []Decision

	// appLastCompletion tracks when an app's agent last finished, gating how
	// soon another auto-approved system task may run for that app (P2's
	// app-review cooldown).
	appLastCompletion map[string]time.Time
	// lastScheduledType is the task type enqueueScheduledWork last picked,
	// used to keep the rotation tier of schedule.GetNextTaskType cycling
	// through its peers instead of always picking the same one.
	lastScheduledType string

	// idleAlternateSelf and idleSeeded back generateIdleReviewTask's in-memory
	// alternation: the envelope's LastSelfImprovementAt/LastIdleReviewAt seed
	// it once (so alternation survives a restart), but the decision on every
	// call within a running process is made from this field rather than a
	// re-read of the async-written envelope, so consecutive idle ticks within
	// one process never race the state store's writer goroutine.
	idleAlternateSelf bool
	idleSeeded        bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an Orchestrator. Call Start to begin the evaluation loop.
func New(cfg *config.Config, st *state.Store, lr *learning.Store, sc *schedule.Store, bus *events.Bus, userSource, systemSource tasks.MarkdownSource) *Orchestrator {
	return &Orchestrator{
		cfg:               cfg,
		state:             st,
		learning:          lr,
		schedule:          sc,
		bus:               bus,
		userSource:        userSource,
		systemSource:      systemSource,
		queue:             tasks.NewQueue(),
		agents:            make(map[string]*tasks.Agent),
		appLastCompletion: make(map[string]time.Time),
		stopCh:            make(chan struct{}),
	}
}

// Start launches the evaluation and health-check timer goroutines.
func (o *Orchestrator) Start() {
	o.wg.Add(2)
	go o.evaluationLoop()
	go o.healthCheckLoop()
}

// Stop halts both timers and waits for them to exit.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) evaluationLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.EvaluationTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.Evaluate(time.Now())
		case <-o.stopCh:
			return
		}
	}
}

func (o *Orchestrator) healthCheckLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.HealthCheckTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.runHealthCheck()
		case <-o.stopCh:
			return
		}
	}
}

// Pause stops new dispatch from happening; in-flight agents are left
// running. reason is surfaced in the status:paused event and the state
// envelope.
func (o *Orchestrator) Pause(reason string) {
	o.mu.Lock()
	o.paused = true
	o.pauseReason = reason
	o.mu.Unlock()

	now := time.Now()
	o.state.Submit(func(e *state.Envelope) {
		e.Paused = true
		e.PausedAt = &now
		e.PauseReason = reason
	})
	o.bus.Publish(events.NewEvent(events.EventStatusPaused, "orchestrator", "all", events.PriorityNormal,
		map[string]interface{}{"reason": reason}))
}

// Resume re-enables dispatch.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.pauseReason = ""
	o.mu.Unlock()

	o.state.Submit(func(e *state.Envelope) {
		e.Paused = false
		e.PausedAt = nil
		e.PauseReason = ""
	})
	o.bus.Publish(events.NewEvent(events.EventStatusResumed, "orchestrator", "all", events.PriorityNormal, nil))
}

// IsPaused reports the current pause state.
func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Evaluate runs one full cycle: reload sources, reset orphans, drain
// on-demand requests, run zombie cleanup, and publish a Decision record. It
// is exported so tests and a fast-path trigger (an external "evaluate now"
// request) can invoke it directly, outside the ticker cadence.
func (o *Orchestrator) Evaluate(now time.Time) Decision {
	o.mu.Lock()
	o.evalCount++
	evalNum := o.evalCount
	paused := o.paused
	o.mu.Unlock()

	o.reloadSources()
	o.resetOrphans()
	o.admitOnDemandWork()

	reaped := o.runZombieSweep(now)

	decision := Decision{At: now, Evaluation: evalNum, Paused: paused}
	if !paused {
		decision = o.dispatch(now, evalNum)
	}
	decision.ZombiesReaped = reaped

	o.logDecision(decision)
	o.maybeRunPeriodicMaintenance(now, evalNum)

	return decision
}

// reloadSources re-reads both markdown boundaries and merges any new tasks
// into the in-memory queue. Existing queue entries are left untouched —
// Load never overwrites task identity, it only adds tasks the queue
// doesn't already know about.
func (o *Orchestrator) reloadSources() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, src := range []tasks.MarkdownSource{o.userSource, o.systemSource} {
		if src == nil {
			continue
		}
		loaded, err := src.Load()
		if err != nil {
			log.Printf("[orchestrator] reload %s failed: %v", src.GetName(), err)
			continue
		}
		for _, t := range loaded {
			if o.queue.GetByID(t.ID) == nil {
				o.queue.Add(t)
			}
		}
	}
}

// resetOrphans finds in_progress tasks with no running agent — left behind
// by a crash or a missed completion event — and resets them to pending so
// they re-enter dispatch instead of sitting stuck forever.
func (o *Orchestrator) resetOrphans() {
	o.mu.Lock()
	defer o.mu.Unlock()

	runningByTask := make(map[string]bool)
	for _, a := range o.agents {
		if a.Status == tasks.AgentRunning {
			runningByTask[a.TaskID] = true
		}
	}

	for _, t := range o.queue.GetByStatus(tasks.StatusInProgress) {
		if !runningByTask[t.ID] {
			t.ResetOrphan()
		}
	}
}

// admitOnDemandWork drains the schedule store's on-demand request queue into
// actual tasks, tagged DispatchOnDemand so dispatch's P0 rung can find them.
// It drains the queue regardless of what else is pending; the resulting
// tasks still pass through admission control in dispatch.
func (o *Orchestrator) admitOnDemandWork() {
	for {
		req, ok := o.schedule.DequeueOnDemand()
		if !ok {
			return
		}
		t := tasks.OnDemandTrigger(req.TaskType, req.App)
		o.mu.Lock()
		o.queue.Add(t)
		o.mu.Unlock()
	}
}

// enqueueScheduledWork converts the next due recurring task type into a
// fresh scheduled task (P2.5), honoring each candidate's learning-store
// cooldown multiplier and the daily -> weekly -> once -> rotation priority
// schedule.GetNextTaskType enforces. Returns true if a task was enqueued.
func (o *Orchestrator) enqueueScheduledWork(now time.Time) bool {
	multipliers := make(map[schedule.Key]float64, len(o.cfg.Intervals))
	candidates := make([]schedule.Key, 0, len(o.cfg.Intervals))
	for taskType := range o.cfg.Intervals {
		key := schedule.Key{TaskType: taskType, App: "_self"}
		cooldown := o.learning.Cooldown(learning.Key{TaskType: taskType, App: "_self"})
		if cooldown.Skip {
			continue
		}
		multipliers[key] = cooldown.Multiplier
		candidates = append(candidates, key)
	}
	if len(candidates) == 0 {
		return false
	}

	key, tier := o.schedule.GetNextTaskType(candidates, now, o.lastScheduledType, func(k schedule.Key) float64 {
		return multipliers[k]
	})
	if tier == "" {
		return false
	}

	o.lastScheduledType = key.TaskType
	t := tasks.ScheduledTaskTrigger(key.TaskType, key.App)
	o.mu.Lock()
	o.queue.Add(t)
	o.mu.Unlock()
	if err := o.schedule.RecordExecution(key, now); err != nil {
		log.Printf("[orchestrator] recording schedule execution for %s: %v", key.TaskType, err)
	}
	return true
}

// trackedApps returns the distinct apps any known task has ever referenced,
// in queue order (priority, then creation time) — generateIdleReviewTask's
// candidate pool.
func (o *Orchestrator) trackedApps() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool)
	var apps []string
	for _, t := range o.queue.All() {
		app := t.App()
		if app == "_self" || seen[app] {
			continue
		}
		seen[app] = true
		apps = append(apps, app)
	}
	return apps
}

// runZombieSweep reaps agents that are pid-less past grace or whose pid has
// exited without ever reporting completion, failing their task so it can
// be retried.
func (o *Orchestrator) runZombieSweep(now time.Time) []string {
	o.mu.Lock()
	running := make([]*tasks.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		running = append(running, a)
	}
	o.mu.Unlock()

	reaped := zombieSweep(running, o.cfg.ZombieGrace)
	var ids []string
	for _, a := range reaped {
		a.Complete(false, int64(now.Sub(a.StartedAt)/time.Millisecond), "zombie: process not running", "zombie")
		ids = append(ids, a.ID)

		o.mu.Lock()
		if t := o.queue.GetByID(a.TaskID); t != nil {
			t.ResetOrphan()
		}
		o.mu.Unlock()

		o.state.Submit(func(e *state.Envelope) {
			e.Stats.TotalZombiesReaped++
			delete(e.Agents, a.ID)
		})
		o.bus.Publish(events.NewEvent(events.EventAgentsChanged, "orchestrator", "all", events.PriorityHigh,
			map[string]interface{}{"agentId": a.ID, "reason": "zombie"}))
	}
	return ids
}

// dispatch runs the P0-P4 priority ladder and admission control over the
// result, publishing task:ready for whatever is admitted:
//
//	P0  on-demand requests (admitOnDemandWork, already queued)
//	P1  user-pending tasks (from the user markdown source)
//	P2  auto-approved system tasks, gated by AppReviewCooldown per app
//	P2.5 the next schedule-due task type (enqueueScheduledWork)
//	P3  mission-driven tasks, only when proactive and nothing user-pending
//	P3.5 autonomous recurring jobs (unconditional)
//	P4  a single idle-review fallback task, only when otherwise idle
//
// Rungs P2.5 through P4 enqueue new tasks before ranking runs, so everything
// ends up going through the same admission-control pass at the bottom.
func (o *Orchestrator) dispatch(now time.Time, evalNum int) Decision {
	o.mu.Lock()
	pending := o.queue.GetByStatus(tasks.StatusPending)
	running := make([]*tasks.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		running = append(running, a)
	}
	o.mu.Unlock()

	hasUserPending := false
	for _, t := range pending {
		if t.DispatchSource() == tasks.DispatchUser {
			hasUserPending = true
			break
		}
	}

	if !hasUserPending {
		o.enqueueScheduledWork(now)
	}

	if o.cfg.ProactiveMode && !hasUserPending {
		for _, t := range o.generateMissionTasks() {
			o.mu.Lock()
			o.queue.Add(t)
			o.mu.Unlock()
		}
	}

	for _, t := range o.generateAutonomousJobTasks(now) {
		o.mu.Lock()
		o.queue.Add(t)
		o.mu.Unlock()
	}

	o.mu.Lock()
	pending = o.queue.GetByStatus(tasks.StatusPending)
	o.mu.Unlock()

	if len(pending) == 0 && !hasUserPending {
		t := o.generateIdleReviewTask(o.trackedApps())
		o.mu.Lock()
		o.queue.Add(t)
		o.mu.Unlock()
		pending = append(pending, t)
	}

	o.mu.Lock()
	tasksByID := make(map[string]*tasks.Task)
	for _, t := range o.queue.All() {
		tasksByID[t.ID] = t
	}
	o.mu.Unlock()

	admission := newAdmissionState(running, tasksByID)
	ranked := rankForDispatch(pending)

	decision := Decision{At: now, Evaluation: evalNum, Candidates: len(ranked)}

	for _, t := range ranked {
		app := t.App()

		if t.DispatchSource() == tasks.DispatchSystem {
			if last, ok := o.appLastCompletion[app]; ok && now.Sub(last) < o.cfg.AppReviewCooldown {
				decision.Deferred = append(decision.Deferred, t.ID)
				if decision.Reason == "" {
					decision.Reason = "cooldown-active"
					decision.Details = map[string]interface{}{"app": app, "cooldownMs": o.cfg.AppReviewCooldown.Milliseconds()}
				}
				continue
			}
		}

		ok, limitApp, limit := admission.admitWithDetail(app, o.cfg.Concurrency.GlobalMax, o.cfg.PerAppLimit(app))
		if !ok {
			decision.Deferred = append(decision.Deferred, t.ID)
			if decision.Reason == "" {
				decision.Reason = "capacity-full"
				decision.Details = map[string]interface{}{"app": limitApp, "limit": limit}
			}
			continue
		}
		o.admitTask(t, now)
		decision.Admitted = append(decision.Admitted, t.ID)
		if decision.Reason == "" && t.DispatchSource() == tasks.DispatchOnDemand {
			decision.Reason = "on-demand"
		}
	}

	return decision
}

// admitTask transitions t to in_progress, registers its agent, and
// publishes task:ready.
func (o *Orchestrator) admitTask(t *tasks.Task, now time.Time) {
	if err := t.TransitionTo(tasks.StatusInProgress); err != nil {
		log.Printf("[orchestrator] cannot admit task %s: %v", t.ID, err)
		return
	}

	agentID := fmt.Sprintf("agent-%d", now.UnixNano())
	agent := tasks.NewAgent(agentID, t.ID, t.Metadata)

	o.mu.Lock()
	o.agents[agentID] = agent
	o.mu.Unlock()

	o.state.Submit(func(e *state.Envelope) {
		e.Stats.TotalAgentsSpawned++
		e.Agents[agentID] = &state.AgentSnapshot{
			ID:        agentID,
			TaskID:    t.ID,
			Status:    string(tasks.AgentRunning),
			ModelTier: agent.ModelTier,
			StartedAt: agent.StartedAt,
		}
	})

	o.bus.Publish(events.NewEvent(events.EventTaskReady, "orchestrator", "all", bandToPriority(candidateBand(t)),
		map[string]interface{}{
			"taskId":      t.ID,
			"agentId":     agentID,
			"description": t.Description,
			"app":         t.App(),
			"metadata":    t.Metadata,
		}))
}

func bandToPriority(b CandidateBand) int {
	switch b {
	case BandApprovalPending, BandCritical:
		return events.PriorityCritical
	case BandHigh:
		return events.PriorityHigh
	case BandLow:
		return events.PriorityLow
	default:
		return events.PriorityNormal
	}
}

// CompleteAgent records a completion reported by the external spawner
// boundary (an agent:completed event, wired in by internal/relay). It
// updates the agent, the task, the learning store, and the state envelope
// in one place so every caller of "an agent finished" goes through the
// same bookkeeping.
func (o *Orchestrator) CompleteAgent(agentID string, success bool, durationMs int64, errMsg, errCategory string) {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return
	}
	agent.Complete(success, durationMs, errMsg, errCategory)
	t := o.queue.GetByID(agent.TaskID)
	o.mu.Unlock()

	var taskType, app string
	if t != nil {
		taskType = t.Metadata[tasks.MetaAnalysisType]
		app = t.App()

		newStatus := tasks.StatusCompleted
		if !success {
			newStatus = tasks.StatusFailed
		}
		if err := t.TransitionTo(newStatus); err != nil {
			log.Printf("[orchestrator] completing task %s: %v", t.ID, err)
		}

		key := learning.Key{TaskType: taskType, App: app}
		routingCorrect := success
		if err := o.learning.RecordTaskCompletion(key, success, durationMs, agent.ModelTier, errMsg, errCategory, routingCorrect); err != nil {
			log.Printf("[orchestrator] recording learning outcome: %v", err)
		}

		o.mu.Lock()
		o.appLastCompletion[app] = time.Now()
		o.mu.Unlock()
	}

	o.state.Submit(func(e *state.Envelope) {
		if success {
			e.Stats.TotalTasksCompleted++
		} else {
			e.Stats.TotalTasksFailed++
		}
		if snap, ok := e.Agents[agentID]; ok {
			snap.Status = string(tasks.AgentCompleted)
			now := time.Now()
			snap.CompletedAt = &now
		}
	})

	o.bus.Publish(events.NewEvent(events.EventAgentCompleted, "orchestrator", "all", events.PriorityNormal,
		map[string]interface{}{
			"agentId":    agentID,
			"taskId":     agent.TaskID,
			"taskType":   taskType,
			"app":        app,
			"modelTier":  agent.ModelTier,
			"success":    success,
			"durationMs": durationMs,
			"error":      errMsg,
		}))
}

func (o *Orchestrator) logDecision(d Decision) {
	log.Printf("[orchestrator] eval=%d candidates=%d admitted=%d deferred=%d zombies=%d paused=%v reason=%s",
		d.Evaluation, d.Candidates, len(d.Admitted), len(d.Deferred), len(d.ZombiesReaped), d.Paused, d.Reason)
	o.bus.Publish(events.NewEvent(events.EventLog, "orchestrator", "all", events.PriorityLow,
		map[string]interface{}{
			"evaluation": d.Evaluation,
			"admitted":   d.Admitted,
			"deferred":   d.Deferred,
			"zombies":    d.ZombiesReaped,
			"reason":     d.Reason,
		}))

	o.mu.Lock()
	o.decisions = append(o.decisions, d)
	if len(o.decisions) > decisionLogSize {
		o.decisions = o.decisions[len(o.decisions)-decisionLogSize:]
	}
	o.mu.Unlock()
}

// Decisions returns the most recent Evaluate results, oldest first, for
// statusapi's decision-log endpoint.
func (o *Orchestrator) Decisions() []Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Decision, len(o.decisions))
	copy(out, o.decisions)
	return out
}

// Agents returns a snapshot of the currently tracked agents, for
// statusapi's agent-list endpoint.
func (o *Orchestrator) Agents() []*tasks.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*tasks.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a)
	}
	return out
}

// maybeRunPeriodicMaintenance fires the lower-frequency housekeeping tasks
// tied to the evaluation counter rather than their own timers, so they
// naturally pause along with the rest of dispatch.
func (o *Orchestrator) maybeRunPeriodicMaintenance(now time.Time, evalNum int) {
	if evalNum%rehabilitationSweepEvery == 0 {
		if err := o.learning.Prune(); err != nil {
			log.Printf("[orchestrator] learning prune failed: %v", err)
		}
		if err := o.learning.RunRehabilitationSweep(now); err != nil {
			log.Printf("[orchestrator] rehabilitation sweep failed: %v", err)
		}
	}
	if evalNum%learningRecsEvery == 0 {
		o.emitLearningRecommendations()
	}
	if evalNum%performanceSummaryEvery == 0 {
		o.logPerformanceSummary()
	}
}

func (o *Orchestrator) emitLearningRecommendations() {
	buckets := o.learning.Snapshot()
	recs := make([]map[string]interface{}, 0, len(buckets))
	for _, b := range buckets {
		suggestion := o.learning.SuggestModelTier(b.Key, o.cfg.Cooldown.MinSamplesForConfidence)
		if suggestion.Best == "" && len(suggestion.Avoid) == 0 {
			continue
		}
		recs = append(recs, map[string]interface{}{
			"taskType":      b.Key.TaskType,
			"app":           b.Key.App,
			"suggestedTier": suggestion.Best,
			"avoidTiers":    suggestion.Avoid,
			"successRate":   b.SuccessRate(),
		})
	}
	if len(recs) == 0 {
		return
	}
	o.bus.Publish(events.NewEvent(events.EventLearningRecs, "orchestrator", "all", events.PriorityLow,
		map[string]interface{}{"recommendations": recs}))
}

func (o *Orchestrator) logPerformanceSummary() {
	o.mu.Lock()
	total := len(o.agents)
	running := 0
	for _, a := range o.agents {
		if a.Status == tasks.AgentRunning {
			running++
		}
	}
	o.mu.Unlock()
	log.Printf("[orchestrator] performance summary: %d agents tracked, %d running", total, running)
}

// runHealthCheck is the periodic external health probe: it shells out to the
// configured process manager (pm2 by default), classifies every managed
// process as online/errored/stopped, restarts anything errored or stopped,
// flags high memory usage, and cross-checks the result against its own
// admitted-vs-running bookkeeping.
func (o *Orchestrator) runHealthCheck() {
	o.mu.Lock()
	running := 0
	for _, a := range o.agents {
		if a.Status == tasks.AgentRunning {
			running++
		}
	}
	globalMax := o.cfg.Concurrency.GlobalMax
	o.mu.Unlock()

	report, err := checkProcessManager(o.cfg.ProcessManager)
	if err != nil {
		log.Printf("[orchestrator] process manager health check failed: %v", err)
	} else {
		for _, restarted := range report.Restarted {
			o.bus.Publish(events.NewEvent(events.EventHealthCritical, "orchestrator", "all", events.PriorityCritical,
				map[string]interface{}{"reason": "process manager restarted process", "process": restarted}))
		}
		for _, flagged := range report.HighMemory {
			o.bus.Publish(events.NewEvent(events.EventHealthCritical, "orchestrator", "all", events.PriorityHigh,
				map[string]interface{}{"reason": "process manager reports high memory", "process": flagged.Name, "memoryBytes": flagged.MemoryBytes}))
		}
	}

	o.bus.Publish(events.NewEvent(events.EventHealthCheck, "orchestrator", "all", events.PriorityLow,
		map[string]interface{}{"runningAgents": running, "globalMax": globalMax, "processManager": report}))

	if running > globalMax {
		o.bus.Publish(events.NewEvent(events.EventHealthCritical, "orchestrator", "all", events.PriorityCritical,
			map[string]interface{}{"reason": "running agents exceed global max", "running": running, "globalMax": globalMax}))
	}
}
