package learning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rehabilitationGrace is how long a skip-failing bucket sits in the penalty
// box before the rehabilitation sweep gives it a genuinely fresh trial.
const rehabilitationGrace = 7 * 24 * time.Hour

// staleBucketAge is the age threshold past which a rarely-touched bucket is
// pruned on Load.
const staleBucketAge = 30 * 24 * time.Hour

// maxUnknownSamples bounds the ring of uncategorized-error samples kept for
// operator inspection — old samples fall off the front once it's full.
const maxUnknownSamples = 20

// ErrorSample is one retained occurrence of an uncategorized failure.
type ErrorSample struct {
	At       time.Time `json:"at"`
	TaskType string    `json:"taskType"`
	App      string    `json:"app"`
	Message  string    `json:"message"`
}

// ErrorPattern is the store-wide tally for one error category across every
// bucket, so an operator can see which failure mode dominates regardless of
// which task type it happened on.
type ErrorPattern struct {
	Count      int            `json:"count"`
	ByTaskType map[string]int `json:"byTaskType"`
}

// document is the on-disk shape: a flat map keyed by Key.String() so the
// JSON file stays human-greppable.
type document struct {
	Buckets        map[string]*Bucket      `json:"buckets"`
	ErrorPatterns  map[string]*ErrorPattern `json:"errorPatterns,omitempty"`
	UnknownSamples []ErrorSample            `json:"unknownSamples,omitempty"`
}

// Store is a mutex-guarded, file-backed collection of learning buckets.
type Store struct {
	mu      sync.Mutex
	path    string
	buckets map[string]*Bucket

	errorPatterns  map[string]*ErrorPattern
	unknownSamples []ErrorSample
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{
		path:          path,
		buckets:       make(map[string]*Bucket),
		errorPatterns: make(map[string]*ErrorPattern),
	}
}

// Load reads buckets from disk, self-heals derived fields, and prunes stale
// entries. A missing file is not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading learning store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Corrupt file — start fresh rather than fail startup.
		return nil
	}
	if doc.Buckets == nil {
		doc.Buckets = make(map[string]*Bucket)
	}
	if doc.ErrorPatterns == nil {
		doc.ErrorPatterns = make(map[string]*ErrorPattern)
	}

	for k, b := range doc.Buckets {
		if b.ByModelTier == nil {
			b.ByModelTier = make(map[string]*TierStats)
		}
		if b.ErrorsByCategory == nil {
			b.ErrorsByCategory = make(map[string]int)
		}
		selfHeal(b)
		if b.isStale(staleBucketAge) {
			delete(doc.Buckets, k)
		}
	}

	s.buckets = doc.Buckets
	s.errorPatterns = doc.ErrorPatterns
	s.unknownSamples = doc.UnknownSamples
	return nil
}

// selfHeal recomputes derived fields from their raw counters, repairing a
// document that was edited or partially written by an older schema.
func selfHeal(b *Bucket) {
	for _, stats := range b.ByModelTier {
		total := stats.Completed + stats.Failed
		if total > 0 {
			stats.AvgDurationMs = float64(stats.TotalMs) / float64(total)
		} else {
			stats.AvgDurationMs = 0
		}
	}
	if total := b.Total(); total > 0 {
		b.AvgDurationMs = float64(b.TotalDurationMs) / float64(total)
	}
	b.P80DurationMs = b.AvgDurationMs + 0.6*(float64(b.MaxDurationMs)-b.AvgDurationMs)
}

// save writes the current bucket set atomically. Caller must hold s.mu.
func (s *Store) save() error {
	doc := document{
		Buckets:        s.buckets,
		ErrorPatterns:  s.errorPatterns,
		UnknownSamples: s.unknownSamples,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling learning store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating learning store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp learning store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) bucketLocked(key Key) *Bucket {
	k := key.String()
	b, ok := s.buckets[k]
	if !ok {
		b = NewBucket(key)
		s.buckets[k] = b
	}
	return b
}

// recordErrorLocked folds a failed outcome's error info into the store-wide
// error-pattern tally, and — for errors that didn't classify into a known
// category — appends to the bounded unknown-sample ring.
func (s *Store) recordErrorLocked(key Key, errMsg, errCategory string, at time.Time) {
	if errCategory == "" {
		if errMsg == "" {
			return
		}
		sample := ErrorSample{At: at, TaskType: key.TaskType, App: key.App, Message: errMsg}
		s.unknownSamples = append(s.unknownSamples, sample)
		if len(s.unknownSamples) > maxUnknownSamples {
			s.unknownSamples = s.unknownSamples[len(s.unknownSamples)-maxUnknownSamples:]
		}
		return
	}

	pattern, ok := s.errorPatterns[errCategory]
	if !ok {
		pattern = &ErrorPattern{ByTaskType: make(map[string]int)}
		s.errorPatterns[errCategory] = pattern
	}
	pattern.Count++
	pattern.ByTaskType[key.TaskType]++
}

// RecordTaskCompletion folds an outcome into the bucket for key, updates the
// store-wide error-category tallies on failure, and persists the store. It
// is not idempotent: reporting the same completion twice counts it twice.
func (s *Store) RecordTaskCompletion(key Key, success bool, durationMs int64, modelTier, errMsg, errCategory string, routingCorrect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucketLocked(key)
	b.recordOutcome(success, durationMs, modelTier, errCategory, routingCorrect)

	if !success {
		s.recordErrorLocked(key, errMsg, errCategory, time.Now())
	}

	// Once a bucket earns its way out of skip-failing, clear the marker;
	// a later call here sets it again if the bucket falls back in. A
	// bucket that falls back into skip-failing after a rehabilitation
	// reset gets its SkippedSince marker refreshed here too, since a fresh
	// failure run after reset is a new skip episode, not a continuation.
	decision := getAdaptiveCooldownMultiplier(b)
	if !decision.Skip {
		b.SkippedSince = nil
	} else if b.SkippedSince == nil {
		now := time.Now()
		b.SkippedSince = &now
	}

	return s.save()
}

// Cooldown returns the adaptive scheduling multiplier for key. Rehabilitation
// out of skip-failing is handled by the periodic RunRehabilitationSweep, not
// here — this just reports the bucket's current, honest state.
func (s *Store) Cooldown(key Key) CooldownDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key.String()]
	if !ok {
		return CooldownDecision{Multiplier: 1.0, Reason: "insufficient-data"}
	}
	return getAdaptiveCooldownMultiplier(b)
}

// RunRehabilitationSweep scans every bucket sitting in skip-failing for
// longer than rehabilitationGrace and gives it a real fresh trial: its
// per-category error counts are subtracted from the store-wide error
// patterns, then the bucket itself is reset, clearing SkippedSince so the
// next evaluation finds it eligible again under normal scheduling rules.
func (s *Store) RunRehabilitationSweep(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, b := range s.buckets {
		if b.SkippedSince == nil || now.Sub(*b.SkippedSince) <= rehabilitationGrace {
			continue
		}
		s.subtractBucketFromTotalsLocked(b)
		b.reset()
		changed = true
	}
	if !changed {
		return nil
	}
	return s.save()
}

// subtractBucketFromTotalsLocked removes bucket b's contribution from the
// store-wide error-pattern tallies ahead of a reset, so rehabilitated
// history doesn't linger in global stats after the bucket itself forgets it.
func (s *Store) subtractBucketFromTotalsLocked(b *Bucket) {
	for category, count := range b.ErrorsByCategory {
		pattern, ok := s.errorPatterns[category]
		if !ok {
			continue
		}
		pattern.Count -= count
		if pattern.Count < 0 {
			pattern.Count = 0
		}
		if byType, ok := pattern.ByTaskType[b.Key.TaskType]; ok {
			byType -= count
			if byType <= 0 {
				delete(pattern.ByTaskType, b.Key.TaskType)
			} else {
				pattern.ByTaskType[b.Key.TaskType] = byType
			}
		}
	}
}

// SuggestModelTier returns routing feedback for key with at least minSamples
// completions per tier, or a zero-value suggestion if no tier qualifies yet.
func (s *Store) SuggestModelTier(key Key, minSamples int) ModelTierSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key.String()]
	if !ok {
		return ModelTierSuggestion{}
	}
	return b.suggestModelTier(minSamples)
}

// ErrorPatterns returns a shallow copy of the store-wide error-category
// tallies, for status reporting.
func (s *Store) ErrorPatterns() map[string]*ErrorPattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*ErrorPattern, len(s.errorPatterns))
	for k, v := range s.errorPatterns {
		out[k] = v
	}
	return out
}

// UnknownSamples returns a copy of the bounded uncategorized-error ring.
func (s *Store) UnknownSamples() []ErrorSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ErrorSample, len(s.unknownSamples))
	copy(out, s.unknownSamples)
	return out
}

// Snapshot returns a shallow copy of all buckets, for status reporting.
func (s *Store) Snapshot() []*Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	return out
}

// Prune removes buckets that have gone stale since Load, and persists the
// result. Intended to be called periodically, not just at startup.
func (s *Store) Prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for k, b := range s.buckets {
		if b.isStale(staleBucketAge) {
			delete(s.buckets, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save()
}
