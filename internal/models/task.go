package models

import (
	"encoding/json"
	"time"
)

// TaskType routes a queued task to its handler.
type TaskType string

const (
	TaskMarketingEvent TaskType = "marketing_event"
	TaskUserCreation   TaskType = "user_creation"
	TaskDataSync       TaskType = "data_sync"
	TaskOrderSync      TaskType = "order_sync"
)

// Critical reports whether losing this task after retry exhaustion is a
// business problem. Critical tasks go to the dead-letter store instead of
// being dropped.
func (t TaskType) Critical() bool {
	return t == TaskOrderSync
}

// Task statuses as persisted in the journal.
const (
	TaskStatusPending    = "pending"
	TaskStatusRetry      = "retry"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusDeadLetter = "dead_letter"
)

// AsyncTask is a unit of deferred work. IDs are advisory, used for logging
// and journal correlation, not for deduplication.
type AsyncTask struct {
	ID          string          `json:"id"`
	Type        TaskType        `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	LastError   *string         `json:"last_error,omitempty"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
}
