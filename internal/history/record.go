// Package history is the queryable execution archive the daily-report roll-up
// reads from: every agent completion the orchestrator reports lands here as
// one row, and RollUp sums a day's rows into the cos/reports/<date>.json
// file named but left procedurally undefined.
package history

import "time"

// Record is one completed agent run, as reported by orchestrator.CompleteAgent.
type Record struct {
	ID          int64     `json:"id"`
	TaskID      string    `json:"taskId"`
	TaskType    string    `json:"taskType"`
	App         string    `json:"app"`
	ModelTier   string    `json:"modelTier"`
	Success     bool      `json:"success"`
	DurationMs  int64     `json:"durationMs"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Report is the rolled-up daily summary written to cos/reports/<date>.json.
type Report struct {
	Date          string                `json:"date"`
	Completed     int                   `json:"completed"`
	Failed        int                   `json:"failed"`
	AvgDurationMs int64                 `json:"avgDurationMs"`
	ByApp         map[string]AppSummary `json:"byApp"`
	GeneratedAt   time.Time             `json:"generatedAt"`
}

// AppSummary is one app's slice of a daily Report.
type AppSummary struct {
	Completed     int   `json:"completed"`
	Failed        int   `json:"failed"`
	AvgDurationMs int64 `json:"avgDurationMs"`
}
