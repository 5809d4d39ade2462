// Package ledger records transcription tasks in sqlite so operators can
// see what the gateway has been doing. Writes are best-effort: a ledger
// failure never fails the task it describes.
package ledger

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Task kinds.
const (
	KindBatch  = "batch"
	KindStream = "stream"
)

// Task statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Task is one ledger row.
type Task struct {
	TaskID      string     `json:"task_id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Ledger is a sqlite-backed task store.
type Ledger struct {
	db *sql.DB
}

// Open connects to the sqlite file at path, creating the directory and
// schema as needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Record inserts a running task.
func (l *Ledger) Record(taskID, kind string) error {
	_, err := l.db.Exec(
		`INSERT INTO tasks (task_id, kind, status) VALUES (?, ?, ?)`,
		taskID, kind, StatusRunning,
	)
	return err
}

// Complete marks a task finished with the given status and message.
func (l *Ledger) Complete(taskID, status, message string) error {
	_, err := l.db.Exec(
		`UPDATE tasks SET status = ?, message = ?, completed_at = CURRENT_TIMESTAMP WHERE task_id = ?`,
		status, message, taskID,
	)
	return err
}

// Recent returns the newest tasks, most recent first.
func (l *Ledger) Recent(limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(
		`SELECT task_id, kind, status, message, created_at, completed_at
		 FROM tasks ORDER BY created_at DESC, task_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var completed sql.NullTime
		if err := rows.Scan(&t.TaskID, &t.Kind, &t.Status, &t.Message, &t.CreatedAt, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			t.CompletedAt = &completed.Time
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
