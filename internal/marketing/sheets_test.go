package marketing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(ctx context.Context) (*http.ServeMux, *httptest.Server, *SheetsTracker) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	srv, _ := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	s := &SheetsTracker{
		service:       srv,
		spreadsheetID: "marketing_tid",
		sheetName:     "Conversions",
	}
	return mux, server, s
}

func TestSheetsTracker_TestConnection(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()

	mux.HandleFunc("/v4/spreadsheets/marketing_tid/values/Conversions!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Timestamp"}}})
	})

	if err := s.TestConnection(ctx); err != nil {
		t.Errorf("TestConnection failed: %v", err)
	}
}

func TestSheetsTracker_AppendConversion(t *testing.T) {
	ctx := context.Background()
	mux, server, s := setupMockServer(ctx)
	defer server.Close()

	var appended *sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/marketing_tid/values/Conversions!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		var vr sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			t.Errorf("decode append body: %v", err)
		}
		appended = &vr
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	event := &ConversionEvent{
		Event:       "purchase",
		Email:       "jo@example.com",
		OrderNumber: "SO-1001",
		Campaign:    "spring_launch",
		Revenue:     49.90,
		Currency:    "USD",
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.AppendConversion(ctx, event); err != nil {
		t.Fatalf("AppendConversion failed: %v", err)
	}

	if appended == nil || len(appended.Values) != 1 {
		t.Fatalf("expected one appended row, got %+v", appended)
	}
	row := appended.Values[0]
	if row[1] != "purchase" || row[2] != "jo@example.com" || row[3] != "SO-1001" {
		t.Errorf("unexpected row values: %v", row)
	}
}

func TestSheetsTracker_AppendConversionNil(t *testing.T) {
	s := &SheetsTracker{}
	if err := s.AppendConversion(context.Background(), nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestConversionRowValues(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &ConversionEvent{
		Event:    "signup",
		Email:    "new@example.com",
		Campaign: "referral",
	}

	values := conversionRowValues(event, occurred)
	if len(values) != 7 {
		t.Fatalf("expected 7 columns, got %d", len(values))
	}
	if values[0] != "2026-03-01 12:00:00" {
		t.Errorf("unexpected timestamp %v", values[0])
	}
	if values[1] != "signup" {
		t.Errorf("unexpected event %v", values[1])
	}
}

func TestHandleTaskRejectsUnnamedEvent(t *testing.T) {
	s := &SheetsTracker{}
	payload, _ := json.Marshal(ConversionEvent{Email: "jo@example.com"})
	if err := s.HandleTask(context.Background(), payload); err == nil {
		t.Error("expected error for event without a name")
	}
}
