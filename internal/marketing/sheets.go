package marketing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ConversionEvent is the marketing payload carried by a marketing task.
type ConversionEvent struct {
	Event       string    `json:"event"`
	Email       string    `json:"email"`
	OrderNumber string    `json:"order_number,omitempty"`
	Campaign    string    `json:"campaign,omitempty"`
	Revenue     float64   `json:"revenue,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// SheetsTracker appends conversion rows to a shared marketing spreadsheet.
type SheetsTracker struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetsTracker(credentialsFile, spreadsheetID, sheetName string) (*SheetsTracker, error) {
	ctx := context.Background()

	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}

	if sheetName == "" {
		sheetName = "Conversions"
	}

	return &SheetsTracker{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// TestConnection reads the header cell to verify access.
func (s *SheetsTracker) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// AppendConversion adds one conversion row at the end of the sheet.
func (s *SheetsTracker) AppendConversion(ctx context.Context, event *ConversionEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{conversionRowValues(event, occurred)},
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:A", valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// HandleTask decodes a marketing task payload and records the conversion.
func (s *SheetsTracker) HandleTask(ctx context.Context, payload json.RawMessage) error {
	var event ConversionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode marketing event: %w", err)
	}
	if event.Event == "" {
		return fmt.Errorf("marketing event name is required")
	}
	return s.AppendConversion(ctx, &event)
}

func conversionRowValues(event *ConversionEvent, occurred time.Time) []interface{} {
	return []interface{}{
		occurred.Format("2006-01-02 15:04:05"),
		event.Event,
		event.Email,
		event.OrderNumber,
		event.Campaign,
		event.Revenue,
		event.Currency,
	}
}
