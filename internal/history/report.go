package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BuildReport sums a single day's records into a Report. dayStart should be
// midnight in whatever timezone the caller reports in; it only labels the
// report (Date, GeneratedAt). BuildReport does not filter records by time —
// every record passed in is counted.
func BuildReport(dayStart time.Time, records []Record) Report {
	report := Report{
		Date:        dayStart.Format("2006-01-02"),
		ByApp:       make(map[string]AppSummary),
		GeneratedAt: dayStart,
	}

	var totalDuration int64
	appTotals := make(map[string]*AppSummary)

	for _, r := range records {
		app := r.App
		if app == "" {
			app = "_self"
		}
		summary, ok := appTotals[app]
		if !ok {
			summary = &AppSummary{}
			appTotals[app] = summary
		}

		if r.Success {
			report.Completed++
			summary.Completed++
		} else {
			report.Failed++
			summary.Failed++
		}
		totalDuration += r.DurationMs
		summary.AvgDurationMs += r.DurationMs
	}

	if total := report.Completed + report.Failed; total > 0 {
		report.AvgDurationMs = totalDuration / int64(total)
	}
	for app, summary := range appTotals {
		if n := summary.Completed + summary.Failed; n > 0 {
			summary.AvgDurationMs /= int64(n)
		}
		report.ByApp[app] = *summary
	}

	return report
}

// WriteReport serializes report to <reportsDir>/<date>.json using the
// temp-file-then-rename pattern the rest of the persisted state uses, so a
// crash mid-write never leaves a half-written report behind.
func WriteReport(reportsDir string, report Report) error {
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return fmt.Errorf("creating reports directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	path := filepath.Join(reportsDir, report.Date+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing report temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming report into place: %w", err)
	}
	return nil
}

// RollUp queries a store for a day's records, builds the Report, and writes
// it to reportsDir in one call — the shape cmd/cos's hourly rollUpDaily
// loop invokes.
func RollUp(store *Store, reportsDir string, dayStart time.Time) (Report, error) {
	records, err := store.RangeForDay(dayStart)
	if err != nil {
		return Report{}, err
	}
	report := BuildReport(dayStart, records)
	if err := WriteReport(reportsDir, report); err != nil {
		return Report{}, err
	}
	return report, nil
}
