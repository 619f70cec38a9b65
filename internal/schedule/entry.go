// Package schedule decides when each recurring task type is next eligible
// to run, and queues on-demand requests that bypass the normal interval.
package schedule

import "time"

// Key identifies a schedule entry: a task type scoped to a project ("_self"
// for the core's own recurring work).
type Key struct {
	TaskType string `json:"taskType"`
	App      string `json:"app"`
}

// IntervalType classifies how a schedule entry becomes due, beyond the raw
// Interval duration.
type IntervalType string

const (
	// IntervalRotation cycles through its peers in turn — due whenever it's
	// next in line, independent of elapsed time.
	IntervalRotation IntervalType = "rotation"
	// IntervalDaily and IntervalWeekly are due once their fixed period has
	// elapsed since the last run, same as IntervalCustom but with a named
	// default period applied when Interval is unset.
	IntervalDaily  IntervalType = "daily"
	IntervalWeekly IntervalType = "weekly"
	// IntervalOnce runs at most a single time, ever.
	IntervalOnce IntervalType = "once"
	// IntervalOnDemand is never due on its own — it only runs via an
	// explicit OnDemandRequest.
	IntervalOnDemand IntervalType = "on-demand"
	// IntervalCustom is due/cooldown-gated against its own Interval value,
	// the same mechanics as daily/weekly without a named default.
	IntervalCustom IntervalType = "custom"
)

// Entry is the persisted scheduling state for one Key.
type Entry struct {
	Key          Key          `json:"key"`
	IntervalType IntervalType `json:"intervalType,omitempty"`
	Interval     time.Duration `json:"interval"`
	Enabled      bool         `json:"enabled"`
	LastRunAt    *time.Time   `json:"lastRunAt,omitempty"`
	RunCount     int          `json:"runCount"`
}

// dueAt returns the time at which this entry next becomes eligible, given a
// cooldown multiplier (1.0 = no adjustment) supplied by the learning store.
// Only meaningful for daily/weekly/custom entries — rotation, once, and
// on-demand entries are resolved by ShouldRunTask's own taxonomy instead.
func (e *Entry) dueAt(multiplier float64) time.Time {
	if e.LastRunAt == nil {
		return time.Time{} // never run — always due
	}
	interval := time.Duration(float64(e.Interval) * multiplier)
	return e.LastRunAt.Add(interval)
}

// OnDemandRequest is a user- or internal-triggered request to run a task
// type immediately, independent of its normal interval.
type OnDemandRequest struct {
	TaskType    string    `json:"taskType"`
	App         string    `json:"app"`
	RequestedAt time.Time `json:"requestedAt"`
}
