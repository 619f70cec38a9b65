package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists completion Records to SQLite, mirroring the teacher's
// tasks.Store/events.SQLiteStore query shape.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open database handle. Callers own the handle's
// lifecycle (sql.Open/db.Close); Store only owns the schema within it.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the history table if it doesn't already exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			app TEXT NOT NULL,
			model_tier TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT,
			completed_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_completed_at ON history(completed_at);
		CREATE INDEX IF NOT EXISTS idx_history_app ON history(app);
	`)
	if err != nil {
		return fmt.Errorf("initializing history schema: %w", err)
	}
	return nil
}

// Record inserts one completion row.
func (s *Store) Record(r Record) error {
	_, err := s.db.Exec(`
		INSERT INTO history (task_id, task_type, app, model_tier, success, duration_ms, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.TaskID, r.TaskType, r.App, r.ModelTier, r.Success, r.DurationMs, r.Error, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("inserting history record: %w", err)
	}
	return nil
}

// RangeForDay returns every record whose completed_at falls within
// [dayStart, dayStart+24h).
func (s *Store) RangeForDay(dayStart time.Time) ([]Record, error) {
	dayEnd := dayStart.Add(24 * time.Hour)
	rows, err := s.db.Query(`
		SELECT id, task_id, task_type, app, model_tier, success, duration_ms, error, completed_at
		FROM history WHERE completed_at >= ? AND completed_at < ?
		ORDER BY completed_at
	`, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("querying history range: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.TaskID, &r.TaskType, &r.App, &r.ModelTier, &r.Success, &r.DurationMs, &errStr, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		r.Error = errStr.String
		records = append(records, r)
	}
	return records, nil
}

// Prune deletes rows older than cutoff, keeping the archive from growing
// unbounded once enough daily reports have been generated.
func (s *Store) Prune(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM history WHERE completed_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	return nil
}
