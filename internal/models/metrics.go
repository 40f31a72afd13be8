package models

import "time"

// HealthStatus is the coarse pipeline verdict derived from the error rate.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// MetricsSnapshot is a point-in-time view of pipeline counters.
type MetricsSnapshot struct {
	TotalAPICalls         uint64       `json:"total_api_calls"`
	SuccessfulAPICalls    uint64       `json:"successful_api_calls"`
	FailedAPICalls        uint64       `json:"failed_api_calls"`
	AverageResponseTimeMs float64      `json:"average_response_time_ms"`
	OrdersSynced          uint64       `json:"orders_synced"`
	OrdersFailedSync      uint64       `json:"orders_failed_sync"`
	LastSyncTime          *time.Time   `json:"last_sync_time,omitempty"`
	ErrorRate             float64      `json:"error_rate"`
	HealthStatus          HealthStatus `json:"health_status"`
}
