package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/avivamar/palm-sub009/internal/models"
)

// ErrResetForbidden is returned when reset is attempted outside a
// development environment.
var ErrResetForbidden = errors.New("metrics reset is only allowed in development")

// Health verdict thresholds on the API error rate.
const (
	healthyBelow  = 0.05
	degradedBelow = 0.20
)

// Collector accumulates pipeline counters and derives the health verdict.
// Producers only append; the one destructive operation, Reset, is gated on
// the development flag.
type Collector struct {
	mu sync.Mutex

	totalAPICalls      uint64
	successfulAPICalls uint64
	failedAPICalls     uint64
	totalLatency       time.Duration

	ordersSynced     uint64
	ordersFailedSync uint64
	lastSyncTime     *time.Time

	development bool
	prom        *promMetrics
}

func NewCollector(development bool) *Collector {
	return &Collector{development: development}
}

// EnablePrometheus mirrors counters into the process Prometheus registry.
func (c *Collector) EnablePrometheus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prom = registerPromMetrics()
}

// RecordAPICall updates call totals and the running latency average.
func (c *Collector) RecordAPICall(success bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalAPICalls++
	c.totalLatency += latency
	if success {
		c.successfulAPICalls++
	} else {
		c.failedAPICalls++
	}

	if c.prom != nil {
		c.prom.observeAPICall(success, latency)
	}
}

// RecordOrderSync updates the terminal sync outcome counters. Success also
// refreshes the last sync time.
func (c *Collector) RecordOrderSync(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if success {
		c.ordersSynced++
		now := time.Now()
		c.lastSyncTime = &now
	} else {
		c.ordersFailedSync++
	}

	if c.prom != nil {
		c.prom.observeOrderSync(success)
	}
}

// GetMetrics computes the snapshot, error rate and health verdict on the
// fly. Pure read.
func (c *Collector) GetMetrics() models.MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Collector) snapshotLocked() models.MetricsSnapshot {
	var errorRate float64
	var avgMs float64
	if c.totalAPICalls > 0 {
		errorRate = float64(c.failedAPICalls) / float64(c.totalAPICalls)
		avgMs = float64(c.totalLatency.Milliseconds()) / float64(c.totalAPICalls)
	}

	return models.MetricsSnapshot{
		TotalAPICalls:         c.totalAPICalls,
		SuccessfulAPICalls:    c.successfulAPICalls,
		FailedAPICalls:        c.failedAPICalls,
		AverageResponseTimeMs: avgMs,
		OrdersSynced:          c.ordersSynced,
		OrdersFailedSync:      c.ordersFailedSync,
		LastSyncTime:          c.lastSyncTime,
		ErrorRate:             errorRate,
		HealthStatus:          verdict(errorRate),
	}
}

func verdict(errorRate float64) models.HealthStatus {
	switch {
	case errorRate < healthyBelow:
		return models.HealthHealthy
	case errorRate < degradedBelow:
		return models.HealthDegraded
	default:
		return models.HealthUnhealthy
	}
}

// DetailedReport is a snapshot with operator recommendations.
type DetailedReport struct {
	models.MetricsSnapshot
	Recommendations []string `json:"recommendations"`
}

func (c *Collector) GetDetailedReport() DetailedReport {
	snapshot := c.GetMetrics()

	var recs []string
	switch snapshot.HealthStatus {
	case models.HealthUnhealthy:
		recs = append(recs,
			"error rate above 20%: check commerce API availability and credentials",
			"inspect the dead-letter store for exhausted order sync tasks",
		)
	case models.HealthDegraded:
		recs = append(recs,
			"elevated error rate: investigate failed webhook signatures and rate limit headroom",
		)
	}
	if snapshot.OrdersFailedSync > 0 {
		recs = append(recs, "orders failed terminal sync: replay them from the dead-letter store")
	}
	if len(recs) == 0 {
		recs = append(recs, "no action required")
	}

	return DetailedReport{MetricsSnapshot: snapshot, Recommendations: recs}
}

// Export is a timestamped snapshot for external ingestion.
type Export struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Metrics     models.MetricsSnapshot `json:"metrics"`
}

func (c *Collector) ExportMetrics() Export {
	return Export{GeneratedAt: time.Now(), Metrics: c.GetMetrics()}
}

// Reset clears all counters. Rejected outside development.
func (c *Collector) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.development {
		return ErrResetForbidden
	}

	c.totalAPICalls = 0
	c.successfulAPICalls = 0
	c.failedAPICalls = 0
	c.totalLatency = 0
	c.ordersSynced = 0
	c.ordersFailedSync = 0
	c.lastSyncTime = nil
	return nil
}
