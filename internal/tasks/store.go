// internal/tasks/store.go
package tasks

import (
	"database/sql"
	"encoding/json"
)

// Store persists tasks to SQLite — an optional local-queue fallback archive
// alongside the markdown boundary, kept for parity with internal/history's
// SQL idiom.
type Store struct {
	db *sql.DB
}

// NewStore creates a new task store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the tasks table.
func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'medium',
			status TEXT NOT NULL DEFAULT 'pending',
			origin TEXT NOT NULL DEFAULT 'user',
			approval_required INTEGER NOT NULL DEFAULT 0,
			auto_approved INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)
	`)
	return err
}

// Save creates or updates a task.
func (s *Store) Save(task *Task) error {
	metadata, _ := json.Marshal(task.Metadata)

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, description, priority, status, origin, approval_required, auto_approved, metadata, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description=excluded.description,
			priority=excluded.priority,
			status=excluded.status,
			approval_required=excluded.approval_required,
			auto_approved=excluded.auto_approved,
			metadata=excluded.metadata,
			updated_at=excluded.updated_at,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at
	`,
		task.ID, task.Description, task.Priority, task.Status, task.Origin,
		task.ApprovalRequired, task.AutoApproved, string(metadata),
		task.CreatedAt, task.UpdatedAt, task.StartedAt, task.CompletedAt,
	)
	return err
}

// GetByID retrieves a task by ID.
func (s *Store) GetByID(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, description, priority, status, origin, approval_required, auto_approved, metadata, created_at, updated_at, started_at, completed_at
		FROM tasks WHERE id = ?
	`, id)

	return s.scanTask(row)
}

// GetByStatus retrieves all tasks with a given status.
func (s *Store) GetByStatus(status Status) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, description, priority, status, origin, approval_required, auto_approved, metadata, created_at, updated_at, started_at, completed_at
		FROM tasks WHERE status = ? ORDER BY priority, created_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanTasks(rows)
}

// GetAll retrieves all tasks.
func (s *Store) GetAll() ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, description, priority, status, origin, approval_required, auto_approved, metadata, created_at, updated_at, started_at, completed_at
		FROM tasks ORDER BY priority, created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanTasks(rows)
}

// Delete removes a task.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *Store) scanTask(row *sql.Row) (*Task, error) {
	var task Task
	var metadata sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.Description, &task.Priority, &task.Status, &task.Origin,
		&task.ApprovalRequired, &task.AutoApproved, &metadata,
		&task.CreatedAt, &task.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	hydrateTaskOptionals(&task, metadata, startedAt, completedAt)
	return &task, nil
}

func (s *Store) scanTasks(rows *sql.Rows) ([]*Task, error) {
	var result []*Task
	for rows.Next() {
		var task Task
		var metadata sql.NullString
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&task.ID, &task.Description, &task.Priority, &task.Status, &task.Origin,
			&task.ApprovalRequired, &task.AutoApproved, &metadata,
			&task.CreatedAt, &task.UpdatedAt, &startedAt, &completedAt,
		)
		if err != nil {
			return nil, err
		}
		hydrateTaskOptionals(&task, metadata, startedAt, completedAt)
		result = append(result, &task)
	}
	return result, nil
}

func hydrateTaskOptionals(task *Task, metadata sql.NullString, startedAt, completedAt sql.NullTime) {
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &task.Metadata); err != nil {
			task.Metadata = make(map[string]string)
		}
	}
}
