package models

import "time"

// EntityType identifies what kind of entity a sync record tracks.
type EntityType string

const (
	EntityOrder    EntityType = "order"
	EntityProduct  EntityType = "product"
	EntityCustomer EntityType = "customer"
)

// SyncType distinguishes a first-time push from an update.
type SyncType string

const (
	SyncCreate SyncType = "create"
	SyncUpdate SyncType = "update"
)

// Sync record statuses. failed may transition back to processing on retry
// until attempts are exhausted.
const (
	SyncStatusPending    = "pending"
	SyncStatusProcessing = "processing"
	SyncStatusCompleted  = "completed"
	SyncStatusFailed     = "failed"
)

// SyncRecord tracks one (entity, sync type) push to the commerce platform.
// The pair (EntityID, SyncType) is the idempotency key: the store enforces
// a single record per pair via insert-or-update.
type SyncRecord struct {
	ID          string     `json:"id"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	SyncType    SyncType   `json:"sync_type"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	ExternalID  *string    `json:"external_id,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
