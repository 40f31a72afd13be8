package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/api"
	"github.com/avivamar/palm-sub009/internal/commerce"
	"github.com/avivamar/palm-sub009/internal/config"
	"github.com/avivamar/palm-sub009/internal/domain"
	"github.com/avivamar/palm-sub009/internal/events"
	"github.com/avivamar/palm-sub009/internal/logging"
	"github.com/avivamar/palm-sub009/internal/marketing"
	"github.com/avivamar/palm-sub009/internal/metrics"
	"github.com/avivamar/palm-sub009/internal/models"
	"github.com/avivamar/palm-sub009/internal/monitor"
	"github.com/avivamar/palm-sub009/internal/notify"
	"github.com/avivamar/palm-sub009/internal/queue"
	"github.com/avivamar/palm-sub009/internal/ratelimit"
	"github.com/avivamar/palm-sub009/internal/repository"
	"github.com/avivamar/palm-sub009/internal/service"
	"github.com/avivamar/palm-sub009/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	st, err := store.New(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init store")
		return err
	}
	defer st.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerSecond: cfg.RateLimit.MaxRequestsPerSecond,
		Strategy:             ratelimit.Strategy(cfg.RateLimit.Strategy),
		ResetWindow:          cfg.RateLimit.ResetWindow(),
		BucketSize:           cfg.RateLimit.BucketSize,
	}, &logger)

	collector := metrics.NewCollector(cfg.App.IsDevelopment())
	if cfg.Monitoring.PrometheusEnabled {
		collector.EnablePrometheus()
	}

	mon := monitor.New(monitor.Config{
		Window:            cfg.Monitor.Window(),
		WarningThreshold:  cfg.Monitor.WarningThreshold,
		CriticalThreshold: cfg.Monitor.CriticalThreshold,
		ErrorThreshold:    cfg.Monitor.ErrorThreshold,
	}, &logger)
	initNotifier(cfg, mon, &logger)

	client := commerce.NewClient(commerce.Config{
		BaseURL: cfg.Commerce.BaseURL,
		APIKey:  cfg.Commerce.APIKey,
		Timeout: cfg.Commerce.Timeout(),
	}, limiter, &logger)

	q := queue.New(queue.Config{
		BatchSize:         cfg.Queue.BatchSize,
		DefaultMaxRetries: cfg.Queue.MaxRetries,
		DispatchTimeout:   cfg.Queue.DispatchTimeout(),
		Retry: queue.RetryPolicy{
			InitialDelay: cfg.Queue.InitialBackoff(),
			MaxDelay:     cfg.Queue.MaxBackoff(),
		},
	}, &logger)
	q.SetJournal(st)
	if redisClient != nil {
		q.SetBuffer(queue.NewRedisBuffer(redisClient, &logger))
	}

	bus := events.NewEventBus()
	svc := service.NewOrderSyncService(st, q, client, limiter, collector, mon, bus, &logger)
	svc.SetDeadLetterReplayer(st)
	svc.SetStatusCache(buildStatusCache(redisClient, &logger))
	subscribeMarketing(bus, q, &logger)

	q.Register(models.TaskOrderSync, svc.HandleOrderSyncTask)
	q.Register(models.TaskUserCreation, svc.HandleUserCreationTask)
	q.Register(models.TaskDataSync, svc.HandleDataSyncTask)
	registerMarketing(cfg, q, &logger)
	q.SetDeadLetterHook(svc.OnDeadLetter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recovered, err := q.Recover(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("journal recovery failed")
	} else if recovered > 0 {
		logger.Info().Int("tasks", recovered).Msg("recovered pending tasks from journal")
	}
	go q.Start(ctx)

	startMetricsServer(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, q, collector, mon, svc, st, &logger)
	httpServer.SetQuotaLimiter(limiter)
	return serveUntilShutdown(ctx, httpServer, limiter, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func buildStatusCache(redisClient *redis.Client, logger *zerolog.Logger) domain.SyncStatusCache {
	memory := repository.NewMemorySyncStatusCache(24 * time.Hour)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisSyncStatusCache(redisClient, 24*time.Hour)
	return repository.NewFailoverSyncStatusCache(primary, memory, logger)
}

func initNotifier(cfg *config.Config, mon *monitor.Monitor, logger *zerolog.Logger) {
	if !cfg.Telegram.Enabled {
		return
	}

	notifier, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without alerts")
		return
	}

	mon.SetNotifier(notifier)
	logger.Info().Msg("telegram alerts enabled")
}

// subscribeMarketing turns completed syncs into best-effort marketing tasks.
func subscribeMarketing(bus *events.EventBus, q *queue.Queue, logger *zerolog.Logger) {
	bus.Subscribe(events.EventOrderSyncCompleted, func(event *events.Event) error {
		var payload events.OrderSyncEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		conversion := marketing.ConversionEvent{
			Event:       "order_synced",
			OrderNumber: payload.OrderNumber,
			OccurredAt:  payload.OccurredAt,
		}
		if err := q.Schedule(models.TaskMarketingEvent, conversion); err != nil {
			logger.Warn().Err(err).Str("order", payload.OrderNumber).Msg("marketing event not scheduled")
		}
		return nil
	})
}

func registerMarketing(cfg *config.Config, q *queue.Queue, logger *zerolog.Logger) {
	if cfg.Marketing.CredentialsFile == "" || cfg.Marketing.SpreadsheetID == "" {
		logger.Info().Msg("marketing sheet not configured, marketing tasks will be dropped")
		q.Register(models.TaskMarketingEvent, func(ctx context.Context, task *models.AsyncTask) error {
			return nil
		})
		return
	}

	tracker, err := marketing.NewSheetsTracker(cfg.Marketing.CredentialsFile, cfg.Marketing.SpreadsheetID, cfg.Marketing.SheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("marketing sheets init failed, marketing tasks will be dropped")
		q.Register(models.TaskMarketingEvent, func(ctx context.Context, task *models.AsyncTask) error {
			return nil
		})
		return
	}

	q.Register(models.TaskMarketingEvent, func(ctx context.Context, task *models.AsyncTask) error {
		return tracker.HandleTask(ctx, task.Payload)
	})
	logger.Info().Msg("marketing sheet connected")
}

func startMetricsServer(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

func serveUntilShutdown(ctx context.Context, httpServer *api.HTTPServer, limiter *ratelimit.Limiter, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)
	limiter.Shutdown()

	logger.Info().Msg("pipeline stopped")
	return nil
}
