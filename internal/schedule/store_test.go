package schedule

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func defaultIntervals() map[string]time.Duration {
	return map[string]time.Duration{
		"security": time.Hour,
		"refactor": 6 * time.Hour,
	}
}

func defaultTypes() map[string]IntervalType {
	return map[string]IntervalType{
		"security": IntervalCustom,
		"refactor": IntervalCustom,
	}
}

func TestShouldRunTaskNeverRunIsDue(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), defaultTypes())
	key := Key{TaskType: "security", App: "_self"}

	due, reason := s.ShouldRunTask(key, time.Now(), 1.0)
	if !due || reason != "first-run" {
		t.Errorf("expected never-run entry to be due with reason first-run, got due=%v reason=%q", due, reason)
	}
}

func TestShouldRunTaskRespectsInterval(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), defaultTypes())
	key := Key{TaskType: "security", App: "_self"}

	now := time.Now()
	if err := s.RecordExecution(key, now); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}

	if due, reason := s.ShouldRunTask(key, now.Add(10*time.Minute), 1.0); due {
		t.Errorf("expected not due within interval, got reason=%q", reason)
	}
	due, reason := s.ShouldRunTask(key, now.Add(2*time.Hour), 1.0)
	if !due || reason != "due" {
		t.Errorf("expected due after interval elapses, got due=%v reason=%q", due, reason)
	}
}

func TestShouldRunTaskAppliesMultiplier(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), defaultTypes())
	key := Key{TaskType: "security", App: "_self"}

	now := time.Now()
	s.RecordExecution(key, now)

	// With a 2x multiplier the 1-hour interval becomes 2 hours.
	if due, _ := s.ShouldRunTask(key, now.Add(90*time.Minute), 2.0); due {
		t.Error("expected multiplier to extend the interval")
	}
}

func TestShouldRunTaskDisabledEntry(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), defaultTypes())
	key := Key{TaskType: "security", App: "_self"}
	s.SetEnabled(key, false)

	due, reason := s.ShouldRunTask(key, time.Now(), 1.0)
	if due || reason != "disabled" {
		t.Errorf("expected disabled self entry to report disabled, got due=%v reason=%q", due, reason)
	}
}

func TestShouldRunTaskDisabledForApp(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), defaultTypes())
	key := Key{TaskType: "security", App: "a1"}
	s.SetEnabled(key, false)

	due, reason := s.ShouldRunTask(key, time.Now(), 1.0)
	if due || reason != "disabled-for-app" {
		t.Errorf("expected disabled app entry to report disabled-for-app, got due=%v reason=%q", due, reason)
	}
}

func TestShouldRunTaskRotationAlwaysDue(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), map[string]IntervalType{"security": IntervalRotation})
	key := Key{TaskType: "security", App: "_self"}
	s.RecordExecution(key, time.Now())

	due, reason := s.ShouldRunTask(key, time.Now(), 1.0)
	if !due || reason != "rotation" {
		t.Errorf("expected rotation entry always due, got due=%v reason=%q", due, reason)
	}
}

func TestShouldRunTaskOnceRunsAtMostOnce(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), map[string]IntervalType{"migrate": IntervalOnce})
	key := Key{TaskType: "migrate", App: "_self"}

	due, reason := s.ShouldRunTask(key, time.Now(), 1.0)
	if !due || reason != "first-run" {
		t.Errorf("expected once entry due before first run, got due=%v reason=%q", due, reason)
	}

	if err := s.RecordExecution(key, time.Now()); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}

	due, reason = s.ShouldRunTask(key, time.Now().Add(100*24*time.Hour), 1.0)
	if due || reason != "once-completed" {
		t.Errorf("expected once entry never due again, got due=%v reason=%q", due, reason)
	}
}

func TestShouldRunTaskOnDemandOnlyNeverSelfDue(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), map[string]IntervalType{"notify": IntervalOnDemand})
	key := Key{TaskType: "notify", App: "_self"}

	due, reason := s.ShouldRunTask(key, time.Now(), 1.0)
	if due || reason != "on-demand-only" {
		t.Errorf("expected on-demand entry never self-due, got due=%v reason=%q", due, reason)
	}
}

func TestOverrideTakesPrecedenceOverDefault(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), defaultTypes())
	key := Key{TaskType: "security", App: "a2"}
	s.SetOverride(key, 5*time.Minute)

	now := time.Now()
	s.RecordExecution(key, now)

	if due, _ := s.ShouldRunTask(key, now.Add(6*time.Minute), 1.0); !due {
		t.Error("expected override interval (5m) to make task due after 6m")
	}
}

func TestGetNextTaskTypeDailyBeatsWeeklyBeatsOnceBeatsRotation(t *testing.T) {
	types := map[string]IntervalType{
		"daily-task":  IntervalDaily,
		"weekly-task": IntervalWeekly,
		"once-task":   IntervalOnce,
		"rotate-a":    IntervalRotation,
	}
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), map[string]time.Duration{
		"daily-task":  24 * time.Hour,
		"weekly-task": 7 * 24 * time.Hour,
	}, types)
	now := time.Now()

	daily := Key{TaskType: "daily-task", App: "_self"}
	weekly := Key{TaskType: "weekly-task", App: "_self"}
	once := Key{TaskType: "once-task", App: "_self"}
	rotation := Key{TaskType: "rotate-a", App: "_self"}

	candidates := []Key{rotation, once, weekly, daily}

	next, reason := s.GetNextTaskType(candidates, now, "", nil)
	if next != daily || reason != "daily-due" {
		t.Fatalf("expected daily-due to win, got %+v reason=%q", next, reason)
	}

	// Once daily isn't a candidate, weekly should win over once/rotation.
	next, reason = s.GetNextTaskType([]Key{rotation, once, weekly}, now, "", nil)
	if next != weekly || reason != "weekly-due" {
		t.Fatalf("expected weekly-due to win, got %+v reason=%q", next, reason)
	}

	// With only once/rotation left, once wins.
	next, reason = s.GetNextTaskType([]Key{rotation, once}, now, "", nil)
	if next != once || reason != "once-due" {
		t.Fatalf("expected once-due to win, got %+v reason=%q", next, reason)
	}
}

func TestGetNextTaskTypeRotationPicksNextAfterLastType(t *testing.T) {
	types := map[string]IntervalType{"alpha": IntervalRotation, "beta": IntervalRotation, "gamma": IntervalRotation}
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), map[string]time.Duration{}, types)
	now := time.Now()

	candidates := []Key{
		{TaskType: "alpha", App: "_self"},
		{TaskType: "beta", App: "_self"},
		{TaskType: "gamma", App: "_self"},
	}
	for _, key := range candidates {
		s.RecordExecution(key, now)
	}

	next, reason := s.GetNextTaskType(candidates, now, "alpha", nil)
	if next.TaskType != "beta" || reason != "rotation" {
		t.Errorf("expected beta after alpha, got %+v reason=%q", next, reason)
	}

	next, _ = s.GetNextTaskType(candidates, now, "gamma", nil)
	if next.TaskType != "alpha" {
		t.Errorf("expected wraparound to alpha after gamma, got %+v", next)
	}
}

func TestGetNextTaskTypeRotationFallsBackToMostOverdueWithoutLastType(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), map[string]IntervalType{
		"security": IntervalRotation,
		"refactor": IntervalRotation,
	})
	now := time.Now()

	keyA := Key{TaskType: "security", App: "_self"}
	keyB := Key{TaskType: "refactor", App: "_self"}

	s.RecordExecution(keyA, now.Add(-3*time.Hour))
	s.RecordExecution(keyB, now.Add(-20*time.Hour))

	next, reason := s.GetNextTaskType([]Key{keyA, keyB}, now, "", nil)
	if next != keyB || reason != "rotation" {
		t.Errorf("expected most overdue (refactor) as rotation tiebreak, got %+v reason=%q", next, reason)
	}
}

func TestGetNextTaskTypeEmptyWhenNothingDue(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), defaultTypes())
	now := time.Now()

	key := Key{TaskType: "security", App: "_self"}
	s.RecordExecution(key, now)

	next, reason := s.GetNextTaskType([]Key{key}, now.Add(time.Minute), "", nil)
	if next != (Key{}) || reason != "" {
		t.Errorf("expected zero Key and empty reason, got %+v reason=%q", next, reason)
	}
}

func TestOnDemandQueueFIFO(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "schedule.json"), defaultIntervals(), defaultTypes())

	s.EnqueueOnDemand(OnDemandRequest{TaskType: "security", App: "a1"})
	s.EnqueueOnDemand(OnDemandRequest{TaskType: "refactor", App: "a2"})

	if s.PendingOnDemandCount() != 2 {
		t.Fatalf("expected 2 pending, got %d", s.PendingOnDemandCount())
	}

	first, ok := s.DequeueOnDemand()
	if !ok || first.TaskType != "security" {
		t.Errorf("expected security first, got %+v ok=%v", first, ok)
	}

	second, ok := s.DequeueOnDemand()
	if !ok || second.TaskType != "refactor" {
		t.Errorf("expected refactor second, got %+v ok=%v", second, ok)
	}

	if _, ok := s.DequeueOnDemand(); ok {
		t.Error("expected empty queue")
	}
}

func TestMigrateV1ToV2RewritesKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.json")

	now := time.Now()
	v1 := map[string]interface{}{
		"schemaVersion": 1,
		"entries": map[string]interface{}{
			"_self/security-audit":    map[string]interface{}{"key": map[string]string{"taskType": "security-audit", "app": "_self"}, "interval": int64(time.Hour), "runCount": 3, "lastRunAt": now},
			"_self/cos-enhancement":   map[string]interface{}{"key": map[string]string{"taskType": "cos-enhancement", "app": "_self"}, "interval": int64(time.Hour), "runCount": 7},
			"_self/self-improve:docs": map[string]interface{}{"key": map[string]string{"taskType": "self-improve:docs", "app": "_self"}, "interval": int64(time.Hour), "runCount": 2},
			"a2/app-improve:docs":     map[string]interface{}{"key": map[string]string{"taskType": "app-improve:docs", "app": "a2"}, "interval": int64(time.Hour), "runCount": 4},
		},
	}
	data, _ := json.Marshal(v1)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, defaultIntervals(), defaultTypes())
	if err := s.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := s.entries[keyString(Key{TaskType: "cos-enhancement", App: "_self"})]; ok {
		t.Error("expected cos-enhancement to be dropped")
	}

	securityEntry, ok := s.entries[keyString(Key{TaskType: "security", App: "_self"})]
	if !ok {
		t.Fatal("expected security-audit rewritten to security")
	}
	if securityEntry.RunCount != 3 {
		t.Errorf("expected run count 3, got %d", securityEntry.RunCount)
	}
	if !securityEntry.Enabled {
		t.Error("expected pre-v3 entry to backfill Enabled=true")
	}

	// self-improve:docs (_self) has no app-improve:docs collision under the
	// same app, so it rewrites in place without merging.
	if _, ok := s.entries[keyString(Key{TaskType: "task:docs", App: "_self"})]; !ok {
		t.Error("expected self-improve:docs rewritten to task:docs")
	}
	appEntry, ok := s.entries[keyString(Key{TaskType: "task:docs", App: "a2"})]
	if !ok {
		t.Fatal("expected app-improve:docs rewritten to task:docs under a2")
	}
	if appEntry.RunCount != 4 {
		t.Errorf("expected run count 4, got %d", appEntry.RunCount)
	}
}
