package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/commerce"
	"github.com/avivamar/palm-sub009/internal/domain"
	"github.com/avivamar/palm-sub009/internal/events"
	"github.com/avivamar/palm-sub009/internal/metrics"
	"github.com/avivamar/palm-sub009/internal/models"
	"github.com/avivamar/palm-sub009/internal/monitor"
	"github.com/avivamar/palm-sub009/internal/queue"
	"github.com/avivamar/palm-sub009/internal/store"
)

// Validation failures for incoming payment events.
var (
	ErrMissingCustomerEmail = errors.New("customer email is required")
	ErrNoLineItems          = errors.New("at least one line item is required")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrMissingOrderNumber   = errors.New("order number is required")
)

// OrderSyncService accepts verified payment events and drives their orders
// into the commerce platform through the async queue. Acceptance is cheap
// and synchronous; all downstream work happens on queue workers.
type OrderSyncService struct {
	records     domain.SyncRecordStore
	scheduler   domain.TaskScheduler
	creator     domain.OrderCreator
	gate        domain.QuotaGate
	collector   *metrics.Collector
	monitor     *monitor.Monitor
	eventBus    domain.EventPublisher
	replayer    DeadLetterReplayer
	statusCache domain.SyncStatusCache
	logger      *zerolog.Logger
}

func NewOrderSyncService(
	records domain.SyncRecordStore,
	scheduler domain.TaskScheduler,
	creator domain.OrderCreator,
	gate domain.QuotaGate,
	collector *metrics.Collector,
	mon *monitor.Monitor,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *OrderSyncService {
	return &OrderSyncService{
		records:   records,
		scheduler: scheduler,
		creator:   creator,
		gate:      gate,
		collector: collector,
		monitor:   mon,
		eventBus:  eventBus,
		logger:    logger,
	}
}

func validatePaymentEvent(event *models.PaymentCompletedEvent) error {
	if event.OrderNumber == "" {
		return ErrMissingOrderNumber
	}
	if event.Customer.Email == "" {
		return ErrMissingCustomerEmail
	}
	if len(event.LineItems) == 0 {
		return ErrNoLineItems
	}
	if event.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// SetStatusCache attaches the lookaside status cache consulted on webhook
// re-delivery before the durable store.
func (s *OrderSyncService) SetStatusCache(cache domain.SyncStatusCache) {
	s.statusCache = cache
}

// HandlePaymentCompleted validates the event, registers a sync record and
// schedules the order push. It returns before any network call happens.
// Re-delivery of an already-synced order is a no-op.
func (s *OrderSyncService) HandlePaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	if err := validatePaymentEvent(event); err != nil {
		return err
	}

	if s.statusCache != nil {
		if status, err := s.statusCache.GetStatus(ctx, event.OrderNumber); err == nil && status == models.SyncStatusCompleted {
			s.logger.Info().Str("order_number", event.OrderNumber).Msg("order already synced (cache), skipping")
			return nil
		}
	}

	existing, err := s.records.GetSyncRecord(ctx, event.OrderNumber, models.SyncCreate)
	if err == nil {
		switch existing.Status {
		case models.SyncStatusCompleted:
			s.logger.Info().Str("order_number", event.OrderNumber).Msg("order already synced, skipping")
			return nil
		case models.SyncStatusPending, models.SyncStatusProcessing:
			s.logger.Info().Str("order_number", event.OrderNumber).Msg("order sync already in flight, skipping")
			return nil
		}
		// failed records fall through and get another round
	}

	rec := &models.SyncRecord{
		EntityType: models.EntityOrder,
		EntityID:   event.OrderNumber,
		SyncType:   models.SyncCreate,
		Status:     models.SyncStatusPending,
	}
	if err := s.records.UpsertSyncRecord(ctx, rec); err != nil {
		return fmt.Errorf("register sync record: %w", err)
	}

	payload := &models.OrderPayload{
		OrderNumber: event.OrderNumber,
		Customer:    event.Customer,
		LineItems:   event.LineItems,
		TotalAmount: event.Amount,
		Currency:    event.Currency,
	}
	if err := s.scheduler.Schedule(models.TaskOrderSync, payload); err != nil {
		return fmt.Errorf("schedule order sync: %w", err)
	}

	s.logger.Info().
		Str("order_number", event.OrderNumber).
		Str("customer", event.Customer.Email).
		Msg("payment accepted, order sync scheduled")
	return nil
}

// HandleOrderSyncTask is the queue handler for order pushes. Each attempt
// passes the quota gate, calls the platform and records the outcome; retry
// scheduling belongs to the queue.
func (s *OrderSyncService) HandleOrderSyncTask(ctx context.Context, task *models.AsyncTask) error {
	var payload models.OrderPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode order payload: %v", queue.ErrPermanent, err)
	}

	if err := s.records.MarkSyncRecord(ctx, payload.OrderNumber, models.SyncCreate, models.SyncStatusProcessing, nil, nil); err != nil {
		s.logger.Error().Err(err).Str("order_number", payload.OrderNumber).Msg("mark processing failed")
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire quota: %w", err)
	}

	start := time.Now()
	order, err := s.creator.CreateOrder(ctx, &payload)
	s.collector.RecordAPICall(err == nil, time.Since(start))

	if err != nil {
		msg := err.Error()
		if markErr := s.records.MarkSyncRecord(ctx, payload.OrderNumber, models.SyncCreate, models.SyncStatusFailed, nil, &msg); markErr != nil {
			s.logger.Error().Err(markErr).Str("order_number", payload.OrderNumber).Msg("mark failed failed")
		}
		if !commerce.IsTransient(err) {
			return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
		}
		return err
	}

	if err := s.records.MarkSyncRecord(ctx, payload.OrderNumber, models.SyncCreate, models.SyncStatusCompleted, &order.ID, nil); err != nil {
		s.logger.Error().Err(err).Str("order_number", payload.OrderNumber).Msg("mark completed failed")
	}

	if s.statusCache != nil {
		if err := s.statusCache.SetStatus(ctx, payload.OrderNumber, models.SyncStatusCompleted); err != nil {
			s.logger.Warn().Err(err).Str("order_number", payload.OrderNumber).Msg("status cache write failed")
		}
	}

	s.collector.RecordOrderSync(true)
	s.monitor.RecordSuccess()
	s.publishSyncEvent(events.EventOrderSyncCompleted, &payload, order.ID, task.RetryCount+1, "")

	s.logger.Info().
		Str("order_number", payload.OrderNumber).
		Str("external_id", order.ID).
		Int("attempts", task.RetryCount+1).
		Msg("order synced")
	return nil
}

// OnDeadLetter is the queue's terminal-failure hook. It charges the failure
// to the pipeline counters exactly once, after all retries are spent.
func (s *OrderSyncService) OnDeadLetter(task *models.AsyncTask, cause error) {
	if task.Type != models.TaskOrderSync {
		return
	}

	s.collector.RecordOrderSync(false)
	s.monitor.RecordFailure()

	var payload models.OrderPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("dead-lettered task has undecodable payload")
		return
	}
	s.publishSyncEvent(events.EventOrderSyncFailed, &payload, "", task.RetryCount+1, cause.Error())

	s.logger.Error().
		Str("order_number", payload.OrderNumber).
		Int("attempts", task.RetryCount+1).
		Str("cause", cause.Error()).
		Msg("order sync abandoned")
}

// HandleUserCreationTask provisions the customer-side sync record for a new
// buyer so later profile pushes have an idempotency anchor.
func (s *OrderSyncService) HandleUserCreationTask(ctx context.Context, task *models.AsyncTask) error {
	var customer models.Customer
	if err := json.Unmarshal(task.Payload, &customer); err != nil {
		return fmt.Errorf("%w: decode customer payload: %v", queue.ErrPermanent, err)
	}
	if customer.Email == "" {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, ErrMissingCustomerEmail)
	}

	rec := &models.SyncRecord{
		EntityType: models.EntityCustomer,
		EntityID:   customer.Email,
		SyncType:   models.SyncCreate,
		Status:     models.SyncStatusPending,
	}
	if err := s.records.UpsertSyncRecord(ctx, rec); err != nil {
		return fmt.Errorf("register customer record: %w", err)
	}

	s.logger.Info().Str("customer", customer.Email).Msg("customer record provisioned")
	return nil
}

// DeadLetterReplayer is the slice of the dead-letter store the sweep needs.
type DeadLetterReplayer interface {
	ListDeadLetters(ctx context.Context, limit int) ([]store.DeadLetterEntry, error)
	ResolveDeadLetter(ctx context.Context, id int64) error
}

// SetDeadLetterReplayer attaches the dead-letter store used by data sync
// sweeps. Without it the sweep is a no-op.
func (s *OrderSyncService) SetDeadLetterReplayer(r DeadLetterReplayer) {
	s.replayer = r
}

// HandleDataSyncTask replays dead-lettered order pushes. Each replayed task
// gets a fresh retry budget; the dead letter is resolved once requeued.
func (s *OrderSyncService) HandleDataSyncTask(ctx context.Context, task *models.AsyncTask) error {
	if s.replayer == nil {
		s.logger.Warn().Msg("data sync requested but no dead-letter store attached")
		return nil
	}

	entries, err := s.replayer.ListDeadLetters(ctx, 100)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}

	requeued := 0
	for _, entry := range entries {
		if entry.TaskType != string(models.TaskOrderSync) {
			continue
		}
		if err := s.scheduler.Schedule(models.TaskOrderSync, json.RawMessage(entry.Payload)); err != nil {
			s.logger.Error().Err(err).Str("task_id", entry.TaskID).Msg("replay failed")
			continue
		}
		if err := s.replayer.ResolveDeadLetter(ctx, entry.ID); err != nil {
			s.logger.Error().Err(err).Int64("dead_letter_id", entry.ID).Msg("resolve failed")
		}
		requeued++
	}

	s.logger.Info().Int("requeued", requeued).Msg("dead-letter replay finished")
	return nil
}

func (s *OrderSyncService) publishSyncEvent(eventType string, payload *models.OrderPayload, externalID string, attempts int, cause string) {
	if s.eventBus == nil {
		return
	}
	err := s.eventBus.PublishJSON(eventType, events.OrderSyncEventPayload{
		OrderNumber: payload.OrderNumber,
		ExternalID:  externalID,
		Status:      statusForEvent(eventType),
		Attempts:    attempts,
		Error:       cause,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("order_number", payload.OrderNumber).Msg("publish event error")
	}
}

func statusForEvent(eventType string) string {
	if eventType == events.EventOrderSyncFailed {
		return models.SyncStatusFailed
	}
	return models.SyncStatusCompleted
}
