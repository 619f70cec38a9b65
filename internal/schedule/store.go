package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SchemaVersion is bumped when the on-disk document's key shape changes.
// v3 added IntervalType/Enabled to Entry.
const SchemaVersion = 3

type document struct {
	SchemaVersion int              `json:"schemaVersion"`
	Entries       map[string]*Entry `json:"entries"`
}

func keyString(k Key) string {
	return fmt.Sprintf("%s/%s", k.App, k.TaskType)
}

// Store is a mutex-guarded, file-backed set of schedule entries plus an
// in-memory on-demand request queue.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]*Entry

	onDemand []OnDemandRequest

	// defaults maps task type -> base interval; overrides maps Key ->
	// interval for a specific app, taking precedence per-key the same way
	// explicit project entries beat discovered ones.
	defaults  map[string]time.Duration
	overrides map[Key]time.Duration

	// types maps task type -> IntervalType; unlisted task types default to
	// IntervalCustom.
	types map[string]IntervalType
}

// NewStore creates a store backed by path with the given default intervals
// and interval types (task type -> IntervalType; nil is fine, everything
// then defaults to IntervalCustom).
func NewStore(path string, defaults map[string]time.Duration, types map[string]IntervalType) *Store {
	if types == nil {
		types = make(map[string]IntervalType)
	}
	return &Store{
		path:      path,
		entries:   make(map[string]*Entry),
		defaults:  defaults,
		overrides: make(map[Key]time.Duration),
		types:     types,
	}
}

// defaultTypeFor resolves a new entry's starting IntervalType from the
// store's task-type defaults, falling back to IntervalCustom.
func (s *Store) defaultTypeFor(taskType string) IntervalType {
	if t, ok := s.types[taskType]; ok {
		return t
	}
	return IntervalCustom
}

// SetIntervalType pins key's IntervalType, overriding the task type default.
// Used for per-app scheduling exceptions (e.g. a one-off task scoped to a
// single app while its task type is normally a rotation entry).
func (s *Store) SetIntervalType(key Key, t IntervalType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(key)
	e.IntervalType = t
}

// SetEnabled toggles whether key may run at all. Disabling the "_self"-app
// entry for a task type disables it everywhere; disabling a specific app's
// entry disables it for that app only.
func (s *Store) SetEnabled(key Key, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(key)
	e.Enabled = enabled
}

// Snapshot returns a copy of every tracked entry plus the pending on-demand
// queue depth, for read-only status reporting.
func (s *Store) Snapshot() ([]Entry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return keyString(out[i].Key) < keyString(out[j].Key)
	})
	return out, len(s.onDemand)
}

// SetOverride records a per-app interval override, taking precedence over
// the task type's default for that one app.
func (s *Store) SetOverride(key Key, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[key] = interval
}

// intervalFor resolves the effective interval for a key: explicit override
// first, falling back to the task type default, then to 24 hours for a
// daily type or 7 days for a weekly type, then to 1 hour.
func (s *Store) intervalFor(key Key) time.Duration {
	if iv, ok := s.overrides[key]; ok {
		return iv
	}
	if iv, ok := s.defaults[key.TaskType]; ok {
		return iv
	}
	switch s.defaultTypeFor(key.TaskType) {
	case IntervalDaily:
		return 24 * time.Hour
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	}
	return time.Hour
}

// Load reads entries from disk, migrating a v1 document's key set in
// place. A missing file is not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading schedule store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil // corrupt file, start fresh
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]*Entry)
	}

	if doc.SchemaVersion < 2 {
		doc.Entries = migrateV1ToV2(doc.Entries)
		doc.SchemaVersion = 2
	}

	if doc.SchemaVersion < 3 {
		// Enabled/IntervalType didn't exist before v3 — every pre-existing
		// entry behaved as enabled, so that's the correct backfill rather
		// than the bool zero-value false.
		for _, e := range doc.Entries {
			e.Enabled = true
			if e.IntervalType == "" {
				e.IntervalType = s.defaultTypeFor(e.Key.TaskType)
			}
		}
		doc.SchemaVersion = 3
	}

	s.entries = doc.Entries
	return nil
}

// migrateV1ToV2 rewrites the v1 key space into v2's task:<type> scheme:
//   - "security-audit"            -> "security"
//   - "cos-enhancement"           -> dropped (feature retired, no successor)
//   - "self-improve:<x>"          -> "task:<x>" (run counts merged)
//   - "app-improve:<x>"           -> "task:<x>" (run counts merged)
//
// Keys are "<app>/<taskType>"; only the taskType half is rewritten.
func migrateV1ToV2(old map[string]*Entry) map[string]*Entry {
	next := make(map[string]*Entry)

	for k, entry := range old {
		app, taskType, ok := strings.Cut(k, "/")
		if !ok {
			app, taskType = "_self", k
		}

		newType, drop := migrateTaskType(taskType)
		if drop {
			continue
		}

		newKey := Key{TaskType: newType, App: app}
		newKeyStr := keyString(newKey)

		if existing, ok := next[newKeyStr]; ok {
			existing.RunCount += entry.RunCount
			if entry.LastRunAt != nil && (existing.LastRunAt == nil || entry.LastRunAt.After(*existing.LastRunAt)) {
				existing.LastRunAt = entry.LastRunAt
			}
			continue
		}

		entry.Key = newKey
		next[newKeyStr] = entry
	}

	return next
}

func migrateTaskType(taskType string) (newType string, drop bool) {
	switch {
	case taskType == "security-audit":
		return "security", false
	case taskType == "cos-enhancement":
		return "", true
	case strings.HasPrefix(taskType, "self-improve:"):
		return "task:" + strings.TrimPrefix(taskType, "self-improve:"), false
	case strings.HasPrefix(taskType, "app-improve:"):
		return "task:" + strings.TrimPrefix(taskType, "app-improve:"), false
	default:
		return taskType, false
	}
}

func (s *Store) save() error {
	doc := document{SchemaVersion: SchemaVersion, Entries: s.entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schedule store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating schedule store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp schedule store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) entryLocked(key Key) *Entry {
	k := keyString(key)
	e, ok := s.entries[k]
	if !ok {
		e = &Entry{
			Key:          key,
			Interval:     s.intervalFor(key),
			IntervalType: s.defaultTypeFor(key.TaskType),
			Enabled:      true,
		}
		s.entries[k] = e
	}
	return e
}

// ShouldRunTask reports whether key is due to run at now, given a cooldown
// multiplier from the learning store (1.0 if none supplied), and why:
// disabled, disabled-for-app, rotation, first-run, due, cooldown,
// once-completed, or on-demand-only.
func (s *Store) ShouldRunTask(key Key, now time.Time, multiplier float64) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldRunTaskLocked(key, now, multiplier)
}

func (s *Store) shouldRunTaskLocked(key Key, now time.Time, multiplier float64) (bool, string) {
	e := s.entryLocked(key)
	if !e.Enabled {
		if key.App == "_self" || key.App == "" {
			return false, "disabled"
		}
		return false, "disabled-for-app"
	}

	switch e.IntervalType {
	case IntervalRotation:
		return true, "rotation"
	case IntervalOnce:
		if e.RunCount == 0 {
			return true, "first-run"
		}
		return false, "once-completed"
	case IntervalOnDemand:
		return false, "on-demand-only"
	default: // daily, weekly, custom
		if e.LastRunAt == nil {
			return true, "first-run"
		}
		due := e.dueAt(multiplier)
		if !due.After(now) {
			return true, "due"
		}
		return false, "cooldown"
	}
}

// RecordExecution marks key as having run at now, incrementing its run
// count and persisting the store.
func (s *Store) RecordExecution(key Key, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	e.LastRunAt = &now
	e.RunCount++
	return s.save()
}

// scoredKey is a due candidate plus how overdue it is, used to tiebreak
// within a GetNextTaskType priority tier.
type scoredKey struct {
	key       Key
	overdueBy time.Duration
}

// tierFor maps a ShouldRunTask reason to GetNextTaskType's coarser dispatch
// tier, using e's IntervalType to tell a generic "due"/"first-run" apart for
// daily vs. weekly vs. once entries. ok is false for reasons that never
// compete in the tiered ranking (cooldown, disabled, on-demand-only, ...).
func tierFor(e *Entry, reason string) (tier string, ok bool) {
	switch reason {
	case "rotation":
		return "rotation", true
	case "due", "first-run":
		switch e.IntervalType {
		case IntervalDaily:
			return "daily-due", true
		case IntervalWeekly:
			return "weekly-due", true
		case IntervalOnce:
			return "once-due", true
		case IntervalRotation:
			return "rotation", true
		default:
			return "rotation", true
		}
	default:
		return "", false
	}
}

// GetNextTaskType picks the next candidate to run among candidates (keys
// ShouldRunTask may report due), applying the daily-due -> weekly-due ->
// once-due -> rotation priority order. Within the daily/weekly/once tiers
// the most-overdue candidate wins; within rotation, the next task type
// alphabetically after lastType wins (wrapping), falling back to
// most-overdue when lastType is empty or only one candidate is due.
// Returns the zero Key and "" if nothing in candidates is due.
func (s *Store) GetNextTaskType(candidates []Key, now time.Time, lastType string, multiplierFor func(Key) float64) (Key, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tiered := make(map[string][]scoredKey)
	for _, key := range candidates {
		mult := 1.0
		if multiplierFor != nil {
			mult = multiplierFor(key)
		}
		due, reason := s.shouldRunTaskLocked(key, now, mult)
		if !due {
			continue
		}
		e := s.entryLocked(key)
		tier, ok := tierFor(e, reason)
		if !ok {
			continue
		}
		tiered[tier] = append(tiered[tier], scoredKey{key: key, overdueBy: now.Sub(e.dueAt(mult))})
	}

	for _, tier := range []string{"daily-due", "weekly-due", "once-due", "rotation"} {
		bucket := tiered[tier]
		if len(bucket) == 0 {
			continue
		}
		if tier == "rotation" {
			return pickRotation(bucket, lastType), tier
		}
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].overdueBy > bucket[j].overdueBy })
		return bucket[0].key, tier
	}
	return Key{}, ""
}

// pickRotation chooses the next task type alphabetically after lastType
// among bucket's candidates, wrapping around. With no lastType (or a
// single candidate), it falls back to the most-overdue candidate.
func pickRotation(bucket []scoredKey, lastType string) Key {
	if len(bucket) == 1 || lastType == "" {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].overdueBy > bucket[j].overdueBy })
		return bucket[0].key
	}

	byType := make(map[string]Key, len(bucket))
	types := make([]string, 0, len(bucket))
	for _, s := range bucket {
		if _, ok := byType[s.key.TaskType]; !ok {
			byType[s.key.TaskType] = s.key
			types = append(types, s.key.TaskType)
		}
	}
	sort.Strings(types)

	idx := sort.SearchStrings(types, lastType)
	next := idx % len(types)
	if idx < len(types) && types[idx] == lastType {
		next = (idx + 1) % len(types)
	}
	return byType[types[next]]
}

// EnqueueOnDemand adds an on-demand request to the in-memory FIFO queue.
// On-demand requests are not persisted — a restart drops any pending
// request, since they are by definition immediate and re-requestable.
func (s *Store) EnqueueOnDemand(req OnDemandRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDemand = append(s.onDemand, req)
}

// DequeueOnDemand pops the oldest queued on-demand request, or returns ok=false
// if the queue is empty.
func (s *Store) DequeueOnDemand() (OnDemandRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.onDemand) == 0 {
		return OnDemandRequest{}, false
	}
	req := s.onDemand[0]
	s.onDemand = s.onDemand[1:]
	return req, true
}

// PendingOnDemandCount reports how many on-demand requests are queued.
func (s *Store) PendingOnDemandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.onDemand)
}
