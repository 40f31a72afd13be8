package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/domain"
	"github.com/avivamar/palm-sub009/internal/models"
)

// Handler processes one task. Errors trigger retry with backoff; panics are
// caught at the dispatch boundary and treated as errors.
type Handler func(ctx context.Context, task *models.AsyncTask) error

// DeadLetterHook observes a business-critical task whose retries are
// exhausted, after it has been parked in the dead-letter store.
type DeadLetterHook func(task *models.AsyncTask, cause error)

// ErrPermanent marks a handler failure that retrying cannot fix, such as a
// downstream validation rejection. Wrap it to skip the remaining retries.
var ErrPermanent = errors.New("permanent failure")

type Config struct {
	BatchSize         int
	DefaultMaxRetries int
	DispatchTimeout   time.Duration
	Retry             RetryPolicy
}

// Queue decouples event ingestion from processing. Schedule appends a task
// and returns before any handler runs; a single drain loop pulls batches
// and dispatches them concurrently.
//
// The in-memory list is the dispatch path. When a journal is attached every
// task is persisted first, so a restart recovers the pending backlog; when
// a Redis buffer is attached, scheduled tasks ride its list instead of the
// local slice, keeping them visible outside the process.
type Queue struct {
	mu       sync.Mutex
	tasks    []*models.AsyncTask
	draining bool
	inFlight int
	handlers map[models.TaskType]Handler

	journal    domain.TaskJournal
	buffer     *RedisBuffer
	deadLetter DeadLetterHook

	cfg  Config
	wake chan struct{}
	log  zerolog.Logger
}

func New(cfg Config, logger *zerolog.Logger) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 2
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "queue").Logger()
	}

	return &Queue{
		handlers: make(map[models.TaskType]Handler),
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		log:      log,
	}
}

// SetJournal attaches the durable task journal.
func (q *Queue) SetJournal(journal domain.TaskJournal) { q.journal = journal }

// SetBuffer attaches the Redis dispatch buffer.
func (q *Queue) SetBuffer(buffer *RedisBuffer) { q.buffer = buffer }

// SetDeadLetterHook attaches the terminal-failure observer.
func (q *Queue) SetDeadLetterHook(hook DeadLetterHook) { q.deadLetter = hook }

// Register binds a handler to a task type. Not safe to call after Start.
func (q *Queue) Register(taskType models.TaskType, handler Handler) {
	q.handlers[taskType] = handler
}

// WithMaxRetries overrides the retry ceiling for one task.
func WithMaxRetries(n int) func(*models.AsyncTask) {
	return func(t *models.AsyncTask) { t.MaxRetries = n }
}

// Schedule appends a task and returns immediately; processing happens on
// the drain loop. payload may be any JSON-marshalable value or raw bytes.
func (q *Queue) Schedule(taskType models.TaskType, payload any, opts ...func(*models.AsyncTask)) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := &models.AsyncTask{
		ID:         uuid.NewString(),
		Type:       taskType,
		Payload:    raw,
		EnqueuedAt: time.Now(),
		MaxRetries: q.cfg.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(task)
	}

	if q.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := q.journal.AppendTask(ctx, task); err != nil {
			q.log.Error().Err(err).Str("task_id", task.ID).Msg("journal append failed")
		}
		cancel()
	}

	buffered := false
	if q.buffer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := q.buffer.Push(ctx, task); err != nil {
			q.log.Warn().Err(err).Str("task_id", task.ID).Msg("redis push failed, using local queue")
		} else {
			buffered = true
		}
		cancel()
	}

	if !buffered {
		q.mu.Lock()
		q.tasks = append(q.tasks, task)
		q.mu.Unlock()
	}

	q.log.Debug().Str("task_id", task.ID).Str("type", string(taskType)).Msg("task scheduled")
	q.Kick()
	return nil
}

// Kick triggers a drain pass. No-op if one is already pending.
func (q *Queue) Kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of tasks waiting for dispatch, including the
// Redis buffer when one is attached.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.tasks)
	q.mu.Unlock()

	if q.buffer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		n += q.buffer.Len(ctx)
		cancel()
	}
	return n
}

// Processing reports whether a drain pass is dispatching tasks right now.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining || q.inFlight > 0
}

// Recover loads pending tasks from the journal into the local queue.
// Called once at startup; returns the number of recovered tasks.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	pending, err := q.journal.PendingTasks(ctx, 500)
	if err != nil {
		return 0, fmt.Errorf("load pending tasks: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	q.tasks = append(q.tasks, pending...)
	q.mu.Unlock()
	q.Kick()

	q.log.Info().Int("count", len(pending)).Msg("recovered pending tasks")
	return len(pending), nil
}

// Start runs the drain loop until ctx is done.
func (q *Queue) Start(ctx context.Context) {
	q.log.Info().Msg("queue started")
	defer q.log.Info().Msg("queue stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		q.drain(ctx)
	}
}

// drain pulls batches and dispatches them concurrently until the queue is
// empty. Failures and successes complete independently within a batch.
func (q *Queue) drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for ctx.Err() == nil {
		batch := q.nextBatch(ctx)
		if len(batch) == 0 {
			return
		}

		q.mu.Lock()
		q.inFlight = len(batch)
		q.mu.Unlock()

		var wg sync.WaitGroup
		for _, task := range batch {
			wg.Add(1)
			go func(t *models.AsyncTask) {
				defer wg.Done()
				q.dispatch(t)
			}(task)
		}
		wg.Wait()

		q.mu.Lock()
		q.inFlight = 0
		q.mu.Unlock()
	}
}

func (q *Queue) nextBatch(ctx context.Context) []*models.AsyncTask {
	q.mu.Lock()
	n := len(q.tasks)
	if n > q.cfg.BatchSize {
		n = q.cfg.BatchSize
	}
	batch := make([]*models.AsyncTask, n)
	copy(batch, q.tasks[:n])
	q.tasks = q.tasks[n:]
	q.mu.Unlock()

	if len(batch) < q.cfg.BatchSize && q.buffer != nil {
		batch = append(batch, q.buffer.PopBatch(ctx, q.cfg.BatchSize-len(batch))...)
	}
	return batch
}

func (q *Queue) dispatch(task *models.AsyncTask) {
	err := q.invoke(task)
	if err == nil {
		q.markTask(task, models.TaskStatusCompleted, "", nil)
		q.log.Debug().Str("task_id", task.ID).Str("type", string(task.Type)).Msg("task completed")
		return
	}

	if errors.Is(err, ErrPermanent) {
		q.exhaust(task, err)
		return
	}

	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		delay := q.cfg.Retry.NextDelay(task.RetryCount)
		next := time.Now().Add(delay)
		task.NextRetryAt = &next
		msg := err.Error()
		task.LastError = &msg

		q.markTask(task, models.TaskStatusRetry, msg, &next)
		q.log.Warn().
			Err(err).
			Str("task_id", task.ID).
			Str("type", string(task.Type)).
			Int("retry", task.RetryCount).
			Dur("backoff", delay).
			Msg("task failed, retry scheduled")

		time.AfterFunc(delay, func() { q.reinsert(task) })
		return
	}

	q.exhaust(task, err)
}

// exhaust handles a task that ran out of retries: critical tasks go to the
// dead-letter store, best-effort tasks are logged and dropped.
func (q *Queue) exhaust(task *models.AsyncTask, cause error) {
	if !task.Type.Critical() {
		q.markTask(task, models.TaskStatusFailed, cause.Error(), nil)
		q.log.Warn().
			Err(cause).
			Str("task_id", task.ID).
			Str("type", string(task.Type)).
			Msg("retries exhausted, task dropped")
		return
	}

	if q.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := q.journal.DeadLetter(ctx, task, cause.Error()); err != nil {
			q.log.Error().Err(err).Str("task_id", task.ID).Msg("dead-letter persist failed")
		}
		cancel()
	}
	if q.buffer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		q.buffer.PushDeadLetter(ctx, task)
		cancel()
	}
	q.log.Error().
		Err(cause).
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Msg("retries exhausted, task dead-lettered")

	if q.deadLetter != nil {
		q.deadLetter(task, cause)
	}
}

// invoke runs the handler with a per-dispatch timeout so a hung downstream
// call cannot hold its batch slot forever.
func (q *Queue) invoke(task *models.AsyncTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler, ok := q.handlers[task.Type]
	if !ok {
		return fmt.Errorf("no handler registered for task type %q", task.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.DispatchTimeout)
	defer cancel()
	return handler(ctx, task)
}

// reinsert appends a retried task to the tail, so newer tasks can overtake
// it. Ordering across retries is best effort.
func (q *Queue) reinsert(task *models.AsyncTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.Kick()
}

func (q *Queue) markTask(task *models.AsyncTask, status, lastError string, nextRetryAt *time.Time) {
	if q.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.journal.MarkTask(ctx, task.ID, status, lastError, nextRetryAt); err != nil {
		q.log.Error().Err(err).Str("task_id", task.ID).Str("status", status).Msg("journal update failed")
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
