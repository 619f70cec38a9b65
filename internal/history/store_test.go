package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestRecordAndRangeForDay(t *testing.T) {
	store := setupTestStore(t)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	records := []Record{
		{TaskID: "t1", TaskType: "security", App: "app1", Success: true, DurationMs: 1000, CompletedAt: day.Add(2 * time.Hour)},
		{TaskID: "t2", TaskType: "security", App: "app1", Success: false, DurationMs: 500, Error: "boom", CompletedAt: day.Add(3 * time.Hour)},
		{TaskID: "t3", TaskType: "refactor", App: "app2", Success: true, DurationMs: 2000, CompletedAt: day.Add(23 * time.Hour)},
		{TaskID: "t4", TaskType: "refactor", App: "app2", Success: true, DurationMs: 3000, CompletedAt: day.Add(25 * time.Hour)}, // next day
	}
	for _, r := range records {
		if err := store.Record(r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.RangeForDay(day)
	if err != nil {
		t.Fatalf("RangeForDay: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records within the day, got %d", len(got))
	}
	if got[1].Error != "boom" {
		t.Errorf("expected error text preserved, got %q", got[1].Error)
	}
}

func TestPruneRemovesOldRecords(t *testing.T) {
	store := setupTestStore(t)

	old := time.Now().Add(-60 * 24 * time.Hour)
	recent := time.Now()

	store.Record(Record{TaskID: "old", App: "app1", Success: true, CompletedAt: old})
	store.Record(Record{TaskID: "new", App: "app1", Success: true, CompletedAt: recent})

	if err := store.Prune(time.Now().Add(-30 * 24 * time.Hour)); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	got, err := store.RangeForDay(time.Date(recent.Year(), recent.Month(), recent.Day(), 0, 0, 0, 0, recent.Location()))
	if err != nil {
		t.Fatalf("RangeForDay: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "new" {
		t.Fatalf("expected only the recent record to survive pruning, got %v", got)
	}
}

func TestBuildReportAggregatesByApp(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{App: "app1", Success: true, DurationMs: 1000},
		{App: "app1", Success: false, DurationMs: 2000},
		{App: "app2", Success: true, DurationMs: 3000},
		{App: "", Success: true, DurationMs: 500},
	}

	report := BuildReport(day, records)

	if report.Completed != 3 || report.Failed != 1 {
		t.Errorf("expected 3 completed / 1 failed, got %d/%d", report.Completed, report.Failed)
	}
	app1 := report.ByApp["app1"]
	if app1.Completed != 1 || app1.Failed != 1 {
		t.Errorf("expected app1 1/1, got %+v", app1)
	}
	if app1.AvgDurationMs != 1500 {
		t.Errorf("expected app1 avg duration 1500, got %d", app1.AvgDurationMs)
	}
	if _, ok := report.ByApp["_self"]; !ok {
		t.Error("expected empty app to be bucketed under _self")
	}
}

func TestWriteReportThenReadBack(t *testing.T) {
	dir := t.TempDir()
	report := Report{Date: "2026-03-10", Completed: 2, Failed: 1, ByApp: map[string]AppSummary{}}

	if err := WriteReport(dir, report); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}

	path := filepath.Join(dir, "2026-03-10.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected report file to exist: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty report file")
	}
}

func TestRollUpWritesFileFromStore(t *testing.T) {
	store := setupTestStore(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	store.Record(Record{TaskID: "t1", App: "app1", Success: true, DurationMs: 1000, CompletedAt: day.Add(time.Hour)})

	dir := t.TempDir()
	report, err := RollUp(store, dir, day)
	if err != nil {
		t.Fatalf("RollUp: %v", err)
	}
	if report.Completed != 1 {
		t.Errorf("expected 1 completed record rolled up, got %d", report.Completed)
	}

	if _, err := os.Stat(filepath.Join(dir, "2026-03-10.json")); err != nil {
		t.Errorf("expected report file written: %v", err)
	}
}
