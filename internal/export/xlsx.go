package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/avivamar/palm-sub009/internal/models"
)

const (
	recordsSheet = "Sync Records"
	metricsSheet = "Metrics"
)

// WriteSyncReport builds an Excel workbook with the sync records and the
// current pipeline counters and streams it to w.
func WriteSyncReport(w io.Writer, records []models.SyncRecord, snapshot models.MetricsSnapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(recordsSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	if err := writeRecordsSheet(f, records); err != nil {
		return err
	}
	if err := writeMetricsSheet(f, snapshot); err != nil {
		return err
	}

	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %v", err)
	}
	return nil
}

func writeRecordsSheet(f *excelize.File, records []models.SyncRecord) error {
	headers := []string{"ID", "Entity Type", "Entity ID", "Sync Type", "Status", "Attempts", "External ID", "Last Error", "Created At", "Completed At"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(recordsSheet, cell, header)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(recordsSheet, "A1", lastHeader, headerStyle)

	for i, record := range records {
		row := i + 2
		values := []interface{}{
			record.ID,
			string(record.EntityType),
			record.EntityID,
			string(record.SyncType),
			record.Status,
			record.Attempts,
			deref(record.ExternalID),
			deref(record.LastError),
			record.CreatedAt.Format("2006-01-02 15:04:05"),
			formatTimePtr(record.CompletedAt),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(recordsSheet, cell, value)
		}
	}

	_ = f.SetColWidth(recordsSheet, "A", "A", 38)
	_ = f.SetColWidth(recordsSheet, "B", "H", 18)
	_ = f.SetColWidth(recordsSheet, "I", "J", 20)
	return nil
}

func writeMetricsSheet(f *excelize.File, snapshot models.MetricsSnapshot) error {
	if _, err := f.NewSheet(metricsSheet); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	_ = f.SetCellValue(metricsSheet, "A1", fmt.Sprintf("Generated: %s", time.Now().Format("2006-01-02 15:04:05")))

	rows := [][]interface{}{
		{"Total API Calls", snapshot.TotalAPICalls},
		{"Successful API Calls", snapshot.SuccessfulAPICalls},
		{"Failed API Calls", snapshot.FailedAPICalls},
		{"Average Response Time (ms)", snapshot.AverageResponseTimeMs},
		{"Orders Synced", snapshot.OrdersSynced},
		{"Orders Failed Sync", snapshot.OrdersFailedSync},
		{"Error Rate", snapshot.ErrorRate},
		{"Health", string(snapshot.HealthStatus)},
	}
	if snapshot.LastSyncTime != nil {
		rows = append(rows, []interface{}{"Last Sync Time", snapshot.LastSyncTime.Format("2006-01-02 15:04:05")})
	}

	for i, pair := range rows {
		row := i + 3
		nameCell, _ := excelize.CoordinatesToCellName(1, row)
		valueCell, _ := excelize.CoordinatesToCellName(2, row)
		_ = f.SetCellValue(metricsSheet, nameCell, pair[0])
		_ = f.SetCellValue(metricsSheet, valueCell, pair[1])
	}

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
	})
	_ = f.SetCellStyle(metricsSheet, "A1", "A1", titleStyle)

	_ = f.SetColWidth(metricsSheet, "A", "A", 28)
	_ = f.SetColWidth(metricsSheet, "B", "B", 22)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
