package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/avivamar/palm-sub009/internal/config"
	"github.com/avivamar/palm-sub009/internal/events"
	"github.com/avivamar/palm-sub009/internal/metrics"
	"github.com/avivamar/palm-sub009/internal/models"
	"github.com/avivamar/palm-sub009/internal/monitor"
	"github.com/avivamar/palm-sub009/internal/queue"
	"github.com/avivamar/palm-sub009/internal/ratelimit"
	"github.com/avivamar/palm-sub009/internal/service"
	"github.com/avivamar/palm-sub009/internal/store"
)

type stubCreator struct{}

func (stubCreator) CreateOrder(_ context.Context, payload *models.OrderPayload) (*models.Order, error) {
	return &models.Order{ID: "ext-" + payload.OrderNumber, Number: payload.OrderNumber}, nil
}

type stubGate struct{}

func (stubGate) Acquire(ctx context.Context) error { return ctx.Err() }

type testEnv struct {
	server    *HTTPServer
	collector *metrics.Collector
	store     *store.Store
	queue     *queue.Queue
}

func newTestEnv(t *testing.T, development bool, rl config.APIRateLimitConfig) *testEnv {
	t.Helper()

	log := zerolog.Nop()
	st, err := store.New(filepath.Join(t.TempDir(), "pipeline.db"), &log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q := queue.New(queue.Config{
		BatchSize:         5,
		DefaultMaxRetries: 2,
		DispatchTimeout:   5 * time.Second,
		Retry:             queue.RetryPolicy{InitialDelay: 5 * time.Millisecond, BackoffFactor: 2},
	}, nil)

	collector := metrics.NewCollector(development)
	mon := monitor.New(monitor.Config{Window: time.Minute}, nil)

	svc := service.NewOrderSyncService(st, q, stubCreator{}, stubGate{}, collector, mon, events.NewEventBus(), &log)
	q.Register(models.TaskOrderSync, svc.HandleOrderSyncTask)
	q.SetDeadLetterHook(svc.OnDeadLetter)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Start(ctx)

	cfg := config.APIConfig{Port: 0, DrainToken: "drain-secret", RateLimit: rl}
	srv := NewHTTPServer(cfg, q, collector, mon, svc, st, &log)

	quota := ratelimit.New(ratelimit.Config{
		MaxRequestsPerSecond: 50,
		Strategy:             ratelimit.StrategyBalanced,
		ResetWindow:          time.Minute,
		BucketSize:           40,
	}, &log)
	t.Cleanup(quota.Shutdown)
	srv.SetQuotaLimiter(quota)

	return &testEnv{server: srv, collector: collector, store: st, queue: q}
}

func (e *testEnv) do(method, path, token string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:55000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestQueueDrainAuth(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{})

	if rec := env.do(http.MethodPost, "/api/v1/queue/drain", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/v1/queue/drain", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", rec.Code)
	}

	rec := env.do(http.MethodPost, "/api/v1/queue/drain", "drain-secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if _, ok := body["queue_length"]; !ok {
		t.Fatalf("response missing queue_length: %v", body)
	}
}

func TestQueueDrainMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{})
	if rec := env.do(http.MethodGet, "/api/v1/queue/drain", "drain-secret", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestQueueStatus(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{})

	rec := env.do(http.MethodGet, "/api/v1/queue", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	for _, key := range []string{"queue_length", "is_processing", "timestamp"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %s: %v", key, body)
		}
	}
}

func TestMetricsFormats(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{})
	env.collector.RecordAPICall(true, 50*time.Millisecond)

	tests := []struct {
		query   string
		wantKey string
	}{
		{"", "total_api_calls"},
		{"?format=summary", "total_api_calls"},
		{"?format=detailed", "recommendations"},
		{"?format=export", "generated_at"},
	}
	for _, tt := range tests {
		rec := env.do(http.MethodGet, "/api/v1/metrics"+tt.query, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("format %q: expected 200, got %d", tt.query, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tt.wantKey) {
			t.Errorf("format %q: body missing %q: %s", tt.query, tt.wantKey, rec.Body.String())
		}
	}

	if rec := env.do(http.MethodGet, "/api/v1/metrics?format=xml", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format: expected 400, got %d", rec.Code)
	}
}

func TestMetricsResetOnlyInDevelopment(t *testing.T) {
	dev := newTestEnv(t, true, config.APIRateLimitConfig{})
	dev.collector.RecordAPICall(true, time.Millisecond)

	if rec := dev.do(http.MethodDelete, "/api/v1/metrics", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("dev reset: expected 200, got %d", rec.Code)
	}
	if got := dev.collector.GetMetrics().TotalAPICalls; got != 0 {
		t.Fatalf("counters not reset, total=%d", got)
	}

	prod := newTestEnv(t, false, config.APIRateLimitConfig{})
	prod.collector.RecordAPICall(true, time.Millisecond)

	if rec := prod.do(http.MethodDelete, "/api/v1/metrics", "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("prod reset: expected 403, got %d", rec.Code)
	}
	if got := prod.collector.GetMetrics().TotalAPICalls; got != 1 {
		t.Fatalf("counters were reset in production, total=%d", got)
	}
}

func TestPaymentCompletedAccepted(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{})

	payload, _ := json.Marshal(models.PaymentCompletedEvent{
		ID:          "pay-1",
		OrderNumber: "SO-1001",
		Customer:    models.Customer{Email: "jo@example.com"},
		LineItems:   []models.LineItem{{SKU: "palm-001", Quantity: 1, UnitPrice: 49.90}},
		Amount:      49.90,
		Currency:    "USD",
	})

	rec := env.do(http.MethodPost, "/api/v1/payments/completed", "", payload)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	// The scheduled task eventually syncs the order.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.collector.GetMetrics().OrdersSynced == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("order never synced, metrics=%+v", env.collector.GetMetrics())
}

func TestPaymentCompletedRejectsMalformed(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{})

	if rec := env.do(http.MethodPost, "/api/v1/payments/completed", "", []byte("{not json")); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid JSON: expected 400, got %d", rec.Code)
	}

	payload, _ := json.Marshal(models.PaymentCompletedEvent{
		OrderNumber: "SO-1002",
		LineItems:   []models.LineItem{{SKU: "palm-001", Quantity: 1}},
		Amount:      10,
	})
	if rec := env.do(http.MethodPost, "/api/v1/payments/completed", "", payload); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing email: expected 400, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{})

	rec := env.do(http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["pipeline"] != string(models.HealthHealthy) {
		t.Fatalf("unexpected pipeline health: %v", body["pipeline"])
	}
	quota, ok := body["commerce_quota"].(map[string]any)
	if !ok {
		t.Fatalf("expected commerce_quota in health body, got %v", body["commerce_quota"])
	}
	if quota["max"] != float64(40) {
		t.Fatalf("unexpected quota max: %v", quota["max"])
	}
}

func TestSyncReportDownload(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{})

	err := env.store.UpsertSyncRecord(context.Background(), &models.SyncRecord{
		EntityType: models.EntityOrder,
		EntityID:   "SO-1001",
		SyncType:   models.SyncCreate,
		Status:     models.SyncStatusCompleted,
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}

	rec := env.do(http.MethodGet, "/api/v1/reports/sync", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("unexpected content type %q", ct)
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sync Records")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one record, got %d rows", len(rows))
	}
}

func TestPerClientRateLimit(t *testing.T) {
	env := newTestEnv(t, true, config.APIRateLimitConfig{RPS: 1, Burst: 1})

	if rec := env.do(http.MethodGet, "/api/v1/queue", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/queue", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
}
