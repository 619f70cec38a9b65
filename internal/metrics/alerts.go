package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AlertThresholds configures when CheckAgents/CheckTaskTypes/CheckQueueDepth
// fire. A zero TaskFailureRateMax or OnDemandQueueMax disables that check;
// StuckAfter is only quoted in the stuck-agent message, since Collector
// decides which agents are stuck.
type AlertThresholds struct {
	StuckAfter         time.Duration
	TaskFailureRateMax float64
	OnDemandQueueMax   int
}

// DefaultThresholds sets StuckAfter to the same value Collector uses to
// classify agent health. Changing StuckAfter through SetThresholds does not
// change Collector's classification.
func DefaultThresholds() AlertThresholds {
	return AlertThresholds{
		StuckAfter:         stuckAfter,
		TaskFailureRateMax: 0.5,
		OnDemandQueueMax:   10,
	}
}

// Alert is a single threshold breach, deduplicated by AlertEngine so a
// steady-state breach doesn't spam the notification channel.
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"createdAt"`
}

// AlertEngine checks live state against thresholds and returns new alerts,
// suppressing ones already raised within the dedup window.
type AlertEngine interface {
	SetThresholds(t AlertThresholds)
	GetThresholds() AlertThresholds
	CheckAgents(agents []AgentHealth) []*Alert
	CheckTaskTypes(taskTypes []TaskTypeHealth) []*Alert
	CheckQueueDepth(pendingOnDemand int) *Alert
}

// AlertChecker implements AlertEngine with a time-boxed dedup window.
type AlertChecker struct {
	mu         sync.RWMutex
	thresholds AlertThresholds

	recentAlerts map[string]time.Time
}

// NewAlertEngine builds an AlertChecker with the given thresholds.
func NewAlertEngine(t AlertThresholds) *AlertChecker {
	return &AlertChecker{
		thresholds:   t,
		recentAlerts: make(map[string]time.Time),
	}
}

func (a *AlertChecker) SetThresholds(t AlertThresholds) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thresholds = t
}

func (a *AlertChecker) GetThresholds() AlertThresholds {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.thresholds
}

// shouldAlert reports whether key hasn't fired in the last 5 minutes, and
// records that it is firing now if so.
func (a *AlertChecker) shouldAlert(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for k, t := range a.recentAlerts {
		if now.Sub(t) > 5*time.Minute {
			delete(a.recentAlerts, k)
		}
	}

	if _, exists := a.recentAlerts[key]; exists {
		return false
	}
	a.recentAlerts[key] = now
	return true
}

// CheckAgents flags agents the Collector classified as stuck or failing.
func (a *AlertChecker) CheckAgents(agents []AgentHealth) []*Alert {
	a.mu.RLock()
	thresholds := a.thresholds
	a.mu.RUnlock()

	var alerts []*Alert
	for _, ag := range agents {
		switch ag.Health {
		case HealthStuck:
			key := fmt.Sprintf("stuck_%s", ag.AgentID)
			if a.shouldAlert(key) {
				alerts = append(alerts, &Alert{
					ID:        uuid.New().String(),
					Type:      "agent_stuck",
					Subject:   ag.AgentID,
					Message:   fmt.Sprintf("agent %s has been running %s (threshold %s)", ag.AgentID, ag.RunningFor.Round(time.Second), thresholds.StuckAfter),
					Severity:  "warning",
					CreatedAt: time.Now(),
				})
			}
		case HealthFailing:
			key := fmt.Sprintf("failing_%s", ag.AgentID)
			if a.shouldAlert(key) {
				alerts = append(alerts, &Alert{
					ID:        uuid.New().String(),
					Type:      "agent_failed",
					Subject:   ag.AgentID,
					Message:   fmt.Sprintf("agent %s finished task %s with a failure", ag.AgentID, ag.TaskID),
					Severity:  "critical",
					CreatedAt: time.Now(),
				})
			}
		}
	}
	return alerts
}

// CheckTaskTypes flags buckets whose failure rate exceeds the threshold.
func (a *AlertChecker) CheckTaskTypes(taskTypes []TaskTypeHealth) []*Alert {
	a.mu.RLock()
	thresholds := a.thresholds
	a.mu.RUnlock()

	if thresholds.TaskFailureRateMax <= 0 {
		return nil
	}

	var alerts []*Alert
	for _, tt := range taskTypes {
		total := tt.Completed + tt.Failed
		if total < 3 || tt.FailureRate < thresholds.TaskFailureRateMax {
			continue
		}
		key := fmt.Sprintf("taskfail_%s", tt.Key.String())
		if a.shouldAlert(key) {
			alerts = append(alerts, &Alert{
				ID:        uuid.New().String(),
				Type:      "task_type_failure_rate",
				Subject:   tt.Key.String(),
				Message:   fmt.Sprintf("%s is failing %.0f%% of attempts (%d/%d)", tt.Key.String(), tt.FailureRate*100, tt.Failed, total),
				Severity:  "warning",
				CreatedAt: time.Now(),
			})
		}
	}
	return alerts
}

// CheckQueueDepth flags a backlog of on-demand tasks waiting on an agent
// slot.
func (a *AlertChecker) CheckQueueDepth(pendingOnDemand int) *Alert {
	a.mu.RLock()
	thresholds := a.thresholds
	a.mu.RUnlock()

	if thresholds.OnDemandQueueMax <= 0 || pendingOnDemand < thresholds.OnDemandQueueMax {
		return nil
	}

	key := "ondemand_queue"
	if !a.shouldAlert(key) {
		return nil
	}
	return &Alert{
		ID:        uuid.New().String(),
		Type:      "ondemand_queue_depth",
		Message:   fmt.Sprintf("on-demand queue has %d pending tasks (threshold %d)", pendingOnDemand, thresholds.OnDemandQueueMax),
		Severity:  "critical",
		CreatedAt: time.Now(),
	}
}
