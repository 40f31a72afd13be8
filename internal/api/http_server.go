package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/avivamar/palm-sub009/internal/config"
	"github.com/avivamar/palm-sub009/internal/domain"
	"github.com/avivamar/palm-sub009/internal/export"
	"github.com/avivamar/palm-sub009/internal/metrics"
	"github.com/avivamar/palm-sub009/internal/models"
	"github.com/avivamar/palm-sub009/internal/monitor"
	"github.com/avivamar/palm-sub009/internal/queue"
	"github.com/avivamar/palm-sub009/internal/ratelimit"
	"github.com/avivamar/palm-sub009/internal/service"
)

// HTTPServer exposes the pipeline's operational API: payment intake, queue
// control and metrics inspection.
type HTTPServer struct {
	cfg       config.APIConfig
	queue     *queue.Queue
	collector *metrics.Collector
	monitor   *monitor.Monitor
	svc       *service.OrderSyncService
	records   domain.SyncRecordStore
	quota     *ratelimit.Limiter
	server    *http.Server
	limiter   *clientLimiter
	log       zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	q *queue.Queue,
	collector *metrics.Collector,
	mon *monitor.Monitor,
	svc *service.OrderSyncService,
	records domain.SyncRecordStore,
	logger *zerolog.Logger,
) *HTTPServer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "api").Logger()
	}

	srv := &HTTPServer{
		cfg:       cfg,
		queue:     q,
		collector: collector,
		monitor:   mon,
		svc:       svc,
		records:   records,
		limiter:   newClientLimiter(cfg.RateLimit),
		log:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/payments/completed", srv.handlePaymentCompleted)
	mux.HandleFunc("/api/v1/queue/drain", srv.handleQueueDrain)
	mux.HandleFunc("/api/v1/queue", srv.handleQueueStatus)
	mux.HandleFunc("/api/v1/metrics", srv.handleMetrics)
	mux.HandleFunc("/api/v1/health", srv.handleHealth)
	mux.HandleFunc("/api/v1/reports/sync", srv.handleSyncReport)

	handler := srv.loggingMiddleware(srv.limiter.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// SetQuotaLimiter attaches the commerce quota limiter so its state shows up
// in health responses.
func (s *HTTPServer) SetQuotaLimiter(l *ratelimit.Limiter) {
	s.quota = l
}

// Handler returns the full middleware chain, used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handlePaymentCompleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	decoder := json.NewDecoder(r.Body)
	var event models.PaymentCompletedEvent
	if err := decoder.Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.svc.HandlePaymentCompleted(r.Context(), &event); err != nil {
		switch {
		case errors.Is(err, service.ErrMissingOrderNumber),
			errors.Is(err, service.ErrMissingCustomerEmail),
			errors.Is(err, service.ErrNoLineItems),
			errors.Is(err, service.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to accept payment")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":      "payment accepted",
		"order_number": event.OrderNumber,
	})
}

func (s *HTTPServer) handleQueueDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	s.queue.Kick()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "queue drain triggered",
		"queue_length": s.queue.Len(),
	})
}

func (s *HTTPServer) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue_length":  s.queue.Len(),
		"is_processing": s.queue.Processing(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.serveMetrics(w, r)
	case http.MethodDelete:
		if err := s.collector.Reset(); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "metrics reset"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) serveMetrics(w http.ResponseWriter, r *http.Request) {
	format := strings.TrimSpace(r.URL.Query().Get("format"))
	switch format {
	case "", "summary":
		writeJSON(w, http.StatusOK, s.collector.GetMetrics())
	case "detailed":
		writeJSON(w, http.StatusOK, s.collector.GetDetailedReport())
	case "export":
		writeJSON(w, http.StatusOK, s.collector.ExportMetrics())
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format: %s", format))
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snapshot := s.collector.GetMetrics()
	payments := s.monitor.GetHealthStatus()

	status := http.StatusOK
	if snapshot.HealthStatus == models.HealthUnhealthy || payments.Status == monitor.StatusCritical {
		status = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"pipeline": snapshot.HealthStatus,
		"payments": payments,
		"queue": map[string]any{
			"length":        s.queue.Len(),
			"is_processing": s.queue.Processing(),
		},
	}
	if s.quota != nil {
		body["commerce_quota"] = s.quota.Status()
	}

	writeJSON(w, status, body)
}

func (s *HTTPServer) handleSyncReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	recs, err := s.records.ListSyncRecords(r.Context(), 1000)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load sync records")
		return
	}

	records := make([]models.SyncRecord, 0, len(recs))
	for _, rec := range recs {
		records = append(records, *rec)
	}

	fileName := fmt.Sprintf("sync_report_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	if err := export.WriteSyncReport(w, records, s.collector.GetMetrics()); err != nil {
		s.log.Error().Err(err).Msg("sync report export failed")
	}
}

// authorized checks the drain token with a constant time comparison.
func (s *HTTPServer) authorized(r *http.Request) bool {
	if s.cfg.DrainToken == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.DrainToken)) == 1
}

// clientLimiter applies per-client token bucket limits keyed by remote host.
type clientLimiter struct {
	cfg      config.APIRateLimitConfig
	limiters sync.Map // map[string]*rate.Limiter
}

func newClientLimiter(cfg config.APIRateLimitConfig) *clientLimiter {
	return &clientLimiter{cfg: cfg}
}

func (l *clientLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.RPS <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.getLimiter(clientKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (l *clientLimiter) getLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(l.cfg.RPS), burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
