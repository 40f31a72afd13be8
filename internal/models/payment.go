package models

import "time"

// Customer is the buyer snapshot carried by a checkout event.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// LineItem is one purchased position.
type LineItem struct {
	SKU       string  `json:"sku"`
	Title     string  `json:"title,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// PaymentCompletedEvent is the verified "payment completed" webhook payload
// handed to the pipeline. Signature verification happens upstream.
type PaymentCompletedEvent struct {
	ID          string     `json:"id"`
	OrderNumber string     `json:"order_number"`
	Customer    Customer   `json:"customer"`
	LineItems   []LineItem `json:"line_items"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency"`
	PaidAt      time.Time  `json:"paid_at"`
}

// PaymentMetrics is the sliding-window view of payment outcomes.
type PaymentMetrics struct {
	TotalAttempts      int       `json:"total_attempts"`
	SuccessfulPayments int       `json:"successful_payments"`
	FailedPayments     int       `json:"failed_payments"`
	SuccessRate        float64   `json:"success_rate"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Alert types and severities.
const (
	AlertSuccessRateLow = "success_rate_low"
	AlertHighErrorRate  = "high_error_rate"

	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// PaymentAlert records a threshold breach. Alerts are history, not
// deduplicated; repeated breaches produce repeated alerts.
type PaymentAlert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
