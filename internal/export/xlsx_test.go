package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/avivamar/palm-sub009/internal/models"
)

func TestWriteSyncReport(t *testing.T) {
	extID := "ext-42"
	completedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []models.SyncRecord{
		{
			ID:          "rec-1",
			EntityType:  models.EntityOrder,
			EntityID:    "SO-1001",
			SyncType:    models.SyncCreate,
			Status:      models.SyncStatusCompleted,
			Attempts:    1,
			ExternalID:  &extID,
			CreatedAt:   completedAt.Add(-time.Minute),
			CompletedAt: &completedAt,
		},
		{
			ID:         "rec-2",
			EntityType: models.EntityOrder,
			EntityID:   "SO-1002",
			SyncType:   models.SyncCreate,
			Status:     models.SyncStatusFailed,
			Attempts:   3,
			CreatedAt:  completedAt,
		},
	}
	snapshot := models.MetricsSnapshot{
		TotalAPICalls:      4,
		SuccessfulAPICalls: 1,
		FailedAPICalls:     3,
		OrdersSynced:       1,
		OrdersFailedSync:   1,
		ErrorRate:          0.75,
		HealthStatus:       models.HealthUnhealthy,
	}

	var buf bytes.Buffer
	if err := WriteSyncReport(&buf, records, snapshot); err != nil {
		t.Fatalf("WriteSyncReport: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(recordsSheet)
	if err != nil {
		t.Fatalf("read records sheet: %v", err)
	}
	// Header plus one row per record.
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][4] != "Status" {
		t.Errorf("unexpected header row: %v", rows[0])
	}
	if rows[1][2] != "SO-1001" || rows[1][6] != "ext-42" {
		t.Errorf("unexpected record row: %v", rows[1])
	}

	health, err := f.GetCellValue(metricsSheet, "B10")
	if err != nil {
		t.Fatalf("read health cell: %v", err)
	}
	if health != string(models.HealthUnhealthy) {
		t.Errorf("unexpected health value %q", health)
	}
}

func TestWriteSyncReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSyncReport(&buf, nil, models.MetricsSnapshot{HealthStatus: models.HealthHealthy}); err != nil {
		t.Fatalf("WriteSyncReport: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(recordsSheet)
	if err != nil {
		t.Fatalf("read records sheet: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected header only, got %d rows", len(rows))
	}
}
