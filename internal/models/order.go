package models

import "time"

// OrderPayload is the order creation request sent to the commerce platform.
type OrderPayload struct {
	OrderNumber string     `json:"order_number"`
	Customer    Customer   `json:"customer"`
	LineItems   []LineItem `json:"line_items"`
	TotalAmount float64    `json:"total_amount"`
	Currency    string     `json:"currency"`
}

// Order is the commerce platform's view of a created order.
type Order struct {
	ID        string    `json:"id"`
	Number    string    `json:"number,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
