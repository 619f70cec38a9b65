// Package learning tracks per-task-type outcome history and turns it into
// routing feedback: how long to cool down before retrying a task type, and
// which model tier tends to finish it fastest.
package learning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key identifies a bucket: task analysis type scoped to a project ("_self"
// for the core's own work), matching tasks.Task's App()/MetaAnalysisType.
type Key struct {
	TaskType string `json:"taskType"`
	App      string `json:"app"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.App, k.TaskType)
}

// TierStats aggregates outcomes observed while a given model tier handled
// this bucket's task type.
type TierStats struct {
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	TotalMs       int64   `json:"totalMs"`
	RoutingHits   int     `json:"routingHits"`
	RoutingTotal  int     `json:"routingTotal"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// ModelTierSuggestion is the routing feedback derived from a bucket's
// per-tier stats: the best-performing tier worth preferring, and any tiers
// whose failure rate is high enough to steer away from.
type ModelTierSuggestion struct {
	Best  string   `json:"best,omitempty"`
	Avoid []string `json:"avoid,omitempty"`
}

// Bucket is the persisted outcome history for one Key.
type Bucket struct {
	ID          string `json:"id"`
	Key         Key    `json:"key"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`

	TotalDurationMs int64      `json:"totalDurationMs"`
	AvgDurationMs   float64    `json:"avgDurationMs"`
	MaxDurationMs   int64      `json:"maxDurationMs"`
	P80DurationMs   float64    `json:"p80DurationMs"`
	LastCompleted   *time.Time `json:"lastCompleted,omitempty"`

	ErrorsByCategory map[string]int `json:"errorsByCategory,omitempty"`

	ByModelTier  map[string]*TierStats `json:"byModelTier"`
	SkippedSince *time.Time            `json:"skippedSince,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// NewBucket creates an empty bucket for key.
func NewBucket(key Key) *Bucket {
	now := time.Now()
	return &Bucket{
		ID:               uuid.New().String(),
		Key:              key,
		ByModelTier:      make(map[string]*TierStats),
		ErrorsByCategory: make(map[string]int),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Total returns completed+failed, the sample size used by the cooldown and
// rehabilitation thresholds.
func (b *Bucket) Total() int {
	return b.Completed + b.Failed
}

// SuccessRate returns the completion percentage in [0, 100]. A bucket with
// no samples reports 100 — optimistic until evidence says otherwise.
func (b *Bucket) SuccessRate() float64 {
	total := b.Total()
	if total == 0 {
		return 100
	}
	return float64(b.Completed) / float64(total) * 100
}

// recordOutcome folds one task completion into the bucket, updating the
// aggregate duration stats, the per-tier breakdown used by suggestModelTier,
// and the error-category tally used by the rehabilitation sweep.
func (b *Bucket) recordOutcome(success bool, durationMs int64, modelTier, errCategory string, routingCorrect bool) {
	if success {
		b.Completed++
	} else {
		b.Failed++
		if errCategory != "" {
			if b.ErrorsByCategory == nil {
				b.ErrorsByCategory = make(map[string]int)
			}
			b.ErrorsByCategory[errCategory]++
		}
	}

	now := time.Now()
	b.UpdatedAt = now
	b.LastCompleted = &now

	b.TotalDurationMs += durationMs
	if durationMs > b.MaxDurationMs {
		b.MaxDurationMs = durationMs
	}
	if total := b.Total(); total > 0 {
		b.AvgDurationMs = float64(b.TotalDurationMs) / float64(total)
	}
	// p80 is an estimate rather than a true percentile: avg plus 60% of the
	// gap to the observed max. Cheap to maintain incrementally and always
	// satisfies avg <= p80 <= max.
	b.P80DurationMs = b.AvgDurationMs + 0.6*(float64(b.MaxDurationMs)-b.AvgDurationMs)

	if modelTier == "" {
		return
	}
	stats, ok := b.ByModelTier[modelTier]
	if !ok {
		stats = &TierStats{}
		b.ByModelTier[modelTier] = stats
	}
	if success {
		stats.Completed++
	} else {
		stats.Failed++
	}
	stats.TotalMs += durationMs
	stats.RoutingTotal++
	if routingCorrect {
		stats.RoutingHits++
	}
	tierTotal := stats.Completed + stats.Failed
	if tierTotal > 0 {
		stats.AvgDurationMs = float64(stats.TotalMs) / float64(tierTotal)
	}
}

// reset zeroes a bucket's accumulated outcome history, keeping its identity
// (ID, Key, CreatedAt) intact. Used by the rehabilitation sweep to give a
// skip-failing bucket a genuinely fresh trial rather than just a multiplier
// override.
func (b *Bucket) reset() {
	b.Completed = 0
	b.Failed = 0
	b.TotalDurationMs = 0
	b.AvgDurationMs = 0
	b.MaxDurationMs = 0
	b.P80DurationMs = 0
	b.LastCompleted = nil
	b.ErrorsByCategory = make(map[string]int)
	b.ByModelTier = make(map[string]*TierStats)
	b.SkippedSince = nil
	b.UpdatedAt = time.Now()
}

// tierSuccessRate returns a tier's completion percentage in [0, 100].
func (s *TierStats) tierSuccessRate() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 100
	}
	return float64(s.Completed) / float64(total) * 100
}

// suggestModelTier returns routing feedback derived from the per-tier
// breakdown: the tier with the best success rate (>=80%, at least
// minSamples attempts) as Best, and any tier with a poor success rate
// (<40%, at least minSamples attempts) added to Avoid. If the bucket's
// overall success rate is weak and no tier stands out as reliable, TierHeavy
// is suggested as a conservative fallback.
func (b *Bucket) suggestModelTier(minSamples int) ModelTierSuggestion {
	var out ModelTierSuggestion
	bestRate := 0.0

	for tier, stats := range b.ByModelTier {
		attempts := stats.Completed + stats.Failed
		if attempts < minSamples {
			continue
		}
		rate := stats.tierSuccessRate()
		if rate < 40 {
			out.Avoid = append(out.Avoid, tier)
			continue
		}
		if rate >= 80 && rate > bestRate {
			out.Best = tier
			bestRate = rate
		}
	}

	if out.Best == "" && b.Total() >= minSamples && b.SuccessRate() < 60 {
		out.Best = "heavy"
	}

	return out
}

// isStale reports whether a rarely-used bucket is old enough to prune:
// fewer than 2 completions and older than maxAge.
func (b *Bucket) isStale(maxAge time.Duration) bool {
	return b.Completed < 2 && time.Since(b.CreatedAt) > maxAge
}
