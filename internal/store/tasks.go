package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avivamar/palm-sub009/internal/models"
)

// AppendTask journals a freshly scheduled task as pending.
func (s *Store) AppendTask(ctx context.Context, task *models.AsyncTask) error {
	query := `INSERT INTO tasks (id, task_type, payload, status, retry_count, max_retries, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		string(task.Type),
		string(task.Payload),
		models.TaskStatusPending,
		task.RetryCount,
		task.MaxRetries,
		task.EnqueuedAt,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("append task: %w", err)
	}
	return nil
}

// MarkTask records a status transition for a journaled task.
func (s *Store) MarkTask(ctx context.Context, id, status, lastError string, nextRetryAt *time.Time) error {
	var query string
	var args []any
	now := time.Now()

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE tasks SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, id}
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusDeadLetter:
		query = `UPDATE tasks SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []any{status, nullable(lastError), now, id}
	default:
		query = `UPDATE tasks SET status = ?, last_error = ? WHERE id = ?`
		args = []any{status, nullable(lastError), id}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark task %s: %w", id, err)
	}
	return nil
}

// PendingTasks returns journaled tasks that are due for dispatch, oldest
// first. Used at startup to recover the backlog of a previous run.
func (s *Store) PendingTasks(ctx context.Context, limit int) ([]*models.AsyncTask, error) {
	query := `SELECT id, task_type, payload, retry_count, max_retries, last_error, created_at, next_retry_at
              FROM tasks
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("get pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.AsyncTask
	for rows.Next() {
		var t models.AsyncTask
		var taskType, payload string
		if err := rows.Scan(&t.ID, &taskType, &payload, &t.RetryCount, &t.MaxRetries, &t.LastError, &t.EnqueuedAt, &t.NextRetryAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Type = models.TaskType(taskType)
		t.Payload = []byte(payload)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// DeadLetter moves an exhausted task into the inspection table and marks
// the journal entry accordingly.
func (s *Store) DeadLetter(ctx context.Context, task *models.AsyncTask, cause string) error {
	query := `INSERT INTO dead_letters (task_id, task_type, payload, retry_count, cause) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, task.ID, string(task.Type), string(task.Payload), task.RetryCount, cause); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return s.MarkTask(ctx, task.ID, models.TaskStatusDeadLetter, cause, nil)
}

// DeadLetterEntry is a row from the dead_letters table.
type DeadLetterEntry struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	TaskType   string    `json:"task_type"`
	Payload    string    `json:"payload"`
	RetryCount int       `json:"retry_count"`
	Cause      string    `json:"cause"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListDeadLetters returns the newest dead-lettered tasks for inspection.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	query := `SELECT id, task_id, task_type, payload, retry_count, cause, created_at
              FROM dead_letters ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []DeadLetterEntry
	for rows.Next() {
		var e DeadLetterEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TaskType, &e.Payload, &e.RetryCount, &e.Cause, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResolveDeadLetter removes a dead letter after it has been replayed.
func (s *Store) ResolveDeadLetter(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
