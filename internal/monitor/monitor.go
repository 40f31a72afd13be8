package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/domain"
	"github.com/avivamar/palm-sub009/internal/models"
)

const maxAlerts = 10

type Config struct {
	// Window bounds how far back payment outcomes count.
	Window time.Duration
	// WarningThreshold is the success rate below which status is warning.
	WarningThreshold float64
	// CriticalThreshold is the success rate below which status is critical.
	CriticalThreshold float64
	// ErrorThreshold is the instantaneous error rate that raises a
	// high_error_rate alert.
	ErrorThreshold float64
}

type paymentEvent struct {
	at      time.Time
	success bool
}

// Verdicts for the payment window.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// HealthStatus bundles the verdict with the numbers behind it.
type HealthStatus struct {
	Status  string                `json:"status"`
	Metrics models.PaymentMetrics `json:"metrics"`
	Alerts  []models.PaymentAlert `json:"alerts"`
}

// Monitor is the payment-specific watchdog. It tracks business outcomes
// over a sliding window, separate from transport-level API metrics, and
// raises threshold alerts into a bounded ring buffer.
type Monitor struct {
	mu     sync.Mutex
	events []paymentEvent
	alerts []models.PaymentAlert

	cfg      Config
	notifier domain.AlertNotifier
	log      zerolog.Logger
}

func New(cfg Config, logger *zerolog.Logger) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.95
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 0.80
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 0.20
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "monitor").Logger()
	}

	return &Monitor{cfg: cfg, log: log}
}

// SetNotifier forwards critical alerts to an external channel.
func (m *Monitor) SetNotifier(notifier domain.AlertNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = notifier
}

func (m *Monitor) RecordSuccess() { m.record(true) }
func (m *Monitor) RecordFailure() { m.record(false) }

func (m *Monitor) record(success bool) {
	m.mu.Lock()
	m.events = append(m.events, paymentEvent{at: time.Now(), success: success})
	m.pruneLocked()
	metrics := m.metricsLocked()
	alert := m.evaluateLocked(metrics)
	m.mu.Unlock()

	if alert != nil && alert.Severity == models.SeverityCritical && m.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.notifier.Notify(ctx, *alert); err != nil {
			m.log.Warn().Err(err).Msg("alert notification failed")
		}
	}
}

// pruneLocked drops events older than the window. O(n) over the buffer.
func (m *Monitor) pruneLocked() {
	cutoff := time.Now().Add(-m.cfg.Window)
	kept := m.events[:0]
	for _, e := range m.events {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.events = kept
}

// GetMetrics recomputes rates from the pruned window. SuccessRate is 1.0
// when no events have been recorded.
func (m *Monitor) GetMetrics() models.PaymentMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	return m.metricsLocked()
}

func (m *Monitor) metricsLocked() models.PaymentMetrics {
	var succeeded, failed int
	var last time.Time
	for _, e := range m.events {
		if e.success {
			succeeded++
		} else {
			failed++
		}
		if e.at.After(last) {
			last = e.at
		}
	}

	total := succeeded + failed
	rate := 1.0
	if total > 0 {
		rate = float64(succeeded) / float64(total)
	}

	return models.PaymentMetrics{
		TotalAttempts:      total,
		SuccessfulPayments: succeeded,
		FailedPayments:     failed,
		SuccessRate:        rate,
		LastUpdated:        last,
	}
}

// GetHealthStatus derives the verdict from the current window.
func (m *Monitor) GetHealthStatus() HealthStatus {
	metrics := m.GetMetrics()

	status := StatusHealthy
	switch {
	case metrics.SuccessRate < m.cfg.CriticalThreshold:
		status = StatusCritical
	case metrics.SuccessRate < m.cfg.WarningThreshold:
		status = StatusWarning
	}

	return HealthStatus{
		Status:  status,
		Metrics: metrics,
		Alerts:  m.Alerts(),
	}
}

// Alerts returns the alert history, newest last.
func (m *Monitor) Alerts() []models.PaymentAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaymentAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// evaluateLocked appends an alert when a threshold is crossed. Alerts are
// history: repeated breaches produce repeated entries, oldest evicted past
// the ring capacity.
func (m *Monitor) evaluateLocked(metrics models.PaymentMetrics) *models.PaymentAlert {
	if metrics.TotalAttempts == 0 {
		return nil
	}

	errorRate := float64(metrics.FailedPayments) / float64(metrics.TotalAttempts)

	var alert *models.PaymentAlert
	switch {
	case metrics.SuccessRate < m.cfg.CriticalThreshold:
		alert = &models.PaymentAlert{
			Type:     models.AlertSuccessRateLow,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("payment success rate %.1f%% below critical threshold %.1f%%", metrics.SuccessRate*100, m.cfg.CriticalThreshold*100),
		}
	case metrics.SuccessRate < m.cfg.WarningThreshold:
		alert = &models.PaymentAlert{
			Type:     models.AlertSuccessRateLow,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("payment success rate %.1f%% below threshold %.1f%%", metrics.SuccessRate*100, m.cfg.WarningThreshold*100),
		}
	case errorRate >= m.cfg.ErrorThreshold:
		alert = &models.PaymentAlert{
			Type:     models.AlertHighErrorRate,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("payment error rate %.1f%% above threshold %.1f%%", errorRate*100, m.cfg.ErrorThreshold*100),
		}
	}
	if alert == nil {
		return nil
	}

	alert.ID = uuid.NewString()
	alert.Timestamp = time.Now()

	m.alerts = append(m.alerts, *alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}

	m.log.Warn().
		Str("alert_type", alert.Type).
		Str("severity", alert.Severity).
		Msg(alert.Message)

	return alert
}
