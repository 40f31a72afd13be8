package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avivamar/palm-sub009/internal/models"
)

// ErrRecordNotFound is returned when no sync record exists for the pair.
var ErrRecordNotFound = errors.New("sync record not found")

// UpsertSyncRecord inserts a record or refreshes the existing one for the
// same (entity_id, sync_type) pair. The UNIQUE constraint is what makes
// the pair an idempotency key: concurrent syncs of the same entity land on
// one row. A record that already completed is left untouched.
func (s *Store) UpsertSyncRecord(ctx context.Context, rec *models.SyncRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `INSERT INTO sync_records (id, entity_type, entity_id, sync_type, status, attempts, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(entity_id, sync_type) DO UPDATE SET
                  status = CASE WHEN sync_records.status = 'completed' THEN sync_records.status ELSE excluded.status END`
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.EntityType),
		rec.EntityID,
		string(rec.SyncType),
		rec.Status,
		rec.Attempts,
		rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert sync record: %w", err)
	}
	return nil
}

// GetSyncRecord loads the record for an (entity_id, sync_type) pair.
func (s *Store) GetSyncRecord(ctx context.Context, entityID string, syncType models.SyncType) (*models.SyncRecord, error) {
	query := `SELECT id, entity_type, entity_id, sync_type, status, attempts, external_id, last_error, created_at, completed_at
              FROM sync_records WHERE entity_id = ? AND sync_type = ?`
	rec, err := s.scanSyncRecord(s.db.QueryRowContext(ctx, query, entityID, string(syncType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// MarkSyncRecord transitions a record's status. completed sets the
// completion time; failed and processing bump the attempt counter on
// processing entry only when the caller passes through processing.
func (s *Store) MarkSyncRecord(ctx context.Context, entityID string, syncType models.SyncType, status string, externalID, lastError *string) error {
	var query string
	var args []any

	switch status {
	case models.SyncStatusCompleted:
		query = `UPDATE sync_records SET status = ?, external_id = ?, last_error = NULL, completed_at = ? WHERE entity_id = ? AND sync_type = ?`
		args = []any{status, externalID, time.Now(), entityID, string(syncType)}
	case models.SyncStatusProcessing:
		query = `UPDATE sync_records SET status = ?, attempts = attempts + 1 WHERE entity_id = ? AND sync_type = ?`
		args = []any{status, entityID, string(syncType)}
	default:
		query = `UPDATE sync_records SET status = ?, last_error = ? WHERE entity_id = ? AND sync_type = ?`
		args = []any{status, lastError, entityID, string(syncType)}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark sync record %s/%s: %w", entityID, syncType, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListSyncRecords returns the newest records first.
func (s *Store) ListSyncRecords(ctx context.Context, limit int) ([]*models.SyncRecord, error) {
	query := `SELECT id, entity_type, entity_id, sync_type, status, attempts, external_id, last_error, created_at, completed_at
              FROM sync_records ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer rows.Close()

	var records []*models.SyncRecord
	for rows.Next() {
		rec, err := s.scanSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSyncRecord(row rowScanner) (*models.SyncRecord, error) {
	var rec models.SyncRecord
	var entityType, syncType string
	err := row.Scan(
		&rec.ID,
		&entityType,
		&rec.EntityID,
		&syncType,
		&rec.Status,
		&rec.Attempts,
		&rec.ExternalID,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.EntityType = models.EntityType(entityType)
	rec.SyncType = models.SyncType(syncType)
	return &rec, nil
}
