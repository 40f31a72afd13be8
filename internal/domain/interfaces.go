package domain

import (
	"context"
	"time"

	"github.com/avivamar/palm-sub009/internal/models"
)

// TaskJournal persists queued tasks so a restart can recover the pending
// backlog. The in-memory queue stays the dispatch path; the journal is the
// durability layer in front of it.
type TaskJournal interface {
	AppendTask(ctx context.Context, task *models.AsyncTask) error
	MarkTask(ctx context.Context, id, status, lastError string, nextRetryAt *time.Time) error
	PendingTasks(ctx context.Context, limit int) ([]*models.AsyncTask, error)
	DeadLetter(ctx context.Context, task *models.AsyncTask, cause string) error
}

// SyncRecordStore owns sync records. UpsertSyncRecord must enforce a single
// record per (entity_id, sync_type) pair.
type SyncRecordStore interface {
	UpsertSyncRecord(ctx context.Context, rec *models.SyncRecord) error
	GetSyncRecord(ctx context.Context, entityID string, syncType models.SyncType) (*models.SyncRecord, error)
	MarkSyncRecord(ctx context.Context, entityID string, syncType models.SyncType, status string, externalID, lastError *string) error
	ListSyncRecords(ctx context.Context, limit int) ([]*models.SyncRecord, error)
}

// SyncStatusCache is a fast lookaside for order sync statuses, consulted
// before the durable store on webhook re-delivery.
type SyncStatusCache interface {
	GetStatus(ctx context.Context, orderNumber string) (string, error)
	SetStatus(ctx context.Context, orderNumber, status string) error
	ClearStatus(ctx context.Context, orderNumber string) error
}

// OrderCreator is the downstream commerce platform surface the pipeline
// depends on.
type OrderCreator interface {
	CreateOrder(ctx context.Context, payload *models.OrderPayload) (*models.Order, error)
}

// QuotaGate serializes outbound commerce calls.
type QuotaGate interface {
	Acquire(ctx context.Context) error
}

// QuotaSink receives quota observations parsed from provider responses.
type QuotaSink interface {
	ReportQuota(remaining, max uint)
	ReportReset(resetAt time.Time)
}

// TaskScheduler is the fire-and-forget entry into the async queue.
type TaskScheduler interface {
	Schedule(taskType models.TaskType, payload any, opts ...func(*models.AsyncTask)) error
}

// EventPublisher fans domain events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// AlertNotifier pushes a payment alert to an external channel.
type AlertNotifier interface {
	Notify(ctx context.Context, alert models.PaymentAlert) error
}
