package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Strategy chooses how much of the provider quota stays reserved as a
// safety margin against hard rejection.
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyBalanced     Strategy = "balanced"
	StrategyAggressive   Strategy = "aggressive"
)

// ReservedFraction returns the share of the quota bucket kept unused.
// The fractions preserve the original 10/5/2-of-40 margins.
func (s Strategy) ReservedFraction() float64 {
	switch s {
	case StrategyConservative:
		return 0.25
	case StrategyAggressive:
		return 0.05
	default:
		return 0.125
	}
}

type Config struct {
	MaxRequestsPerSecond int
	Strategy             Strategy
	// ResetWindow is the provider's quota window, used when no reset
	// observation has arrived yet.
	ResetWindow time.Duration
	// BucketSize seeds Max before the first quota report.
	BucketSize uint
}

// Status is a read-only view of the limiter state.
type Status struct {
	Remaining   uint          `json:"remaining"`
	Max         uint          `json:"max"`
	QueueLength int           `json:"queue_length"`
	ResetIn     time.Duration `json:"reset_in_ms"`
}

type waiter struct {
	ch  chan struct{}
	ctx context.Context
}

// Limiter serializes outbound calls to the quota-constrained commerce API.
// Callers park in Acquire until the drain loop releases them; the loop
// enforces a minimum inter-call interval and never spends the reserved
// share of the observed quota.
type Limiter struct {
	mu          sync.Mutex
	remaining   uint
	max         uint
	resetAt     time.Time
	lastRequest time.Time

	waiters  []waiter
	draining bool
	closed   bool

	strategy    Strategy
	minInterval time.Duration
	resetWindow time.Duration

	kick chan struct{}
	stop chan struct{}
	log  zerolog.Logger
}

func New(cfg Config, logger *zerolog.Logger) *Limiter {
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = 2
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = time.Minute
	}
	if cfg.BucketSize == 0 {
		cfg.BucketSize = 40
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "ratelimit").Logger()
	}

	return &Limiter{
		remaining:   cfg.BucketSize,
		max:         cfg.BucketSize,
		resetAt:     time.Now().Add(cfg.ResetWindow),
		strategy:    cfg.Strategy,
		minInterval: time.Second / time.Duration(cfg.MaxRequestsPerSecond),
		resetWindow: cfg.ResetWindow,
		kick:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		log:         log,
	}
}

// Acquire blocks until it is safe to dispatch one call. It returns nil when
// released by the drain loop or by Shutdown (proceed without guarantee),
// and ctx.Err() when the caller's context ends first.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}

	w := waiter{ch: make(chan struct{}), ctx: ctx}
	l.waiters = append(l.waiters, w)
	l.startDrain()
	l.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportQuota updates the observed provider quota from response headers.
// Remaining is clamped into [0, max]. A report that lifts remaining above
// the reserved threshold resumes queue draining immediately.
func (l *Limiter) ReportQuota(remaining, max uint) {
	l.mu.Lock()
	if max > 0 {
		l.max = max
	}
	if remaining > l.max {
		remaining = l.max
	}
	l.remaining = remaining

	recovered := l.remaining > l.reservedLocked()
	if recovered && len(l.waiters) > 0 {
		l.startDrain()
	}
	l.mu.Unlock()

	// Wake a drain pass parked on a depleted bucket. The popped waiter is
	// no longer in l.waiters, so this fires on recovery regardless.
	if recovered {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
}

// ReportReset records the provider's quota reset time.
func (l *Limiter) ReportReset(resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !resetAt.IsZero() {
		l.resetAt = resetAt
	}
}

// Status returns a snapshot of the limiter state. No side effects.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	resetIn := time.Until(l.resetAt)
	if resetIn < 0 {
		resetIn = 0
	}
	return Status{
		Remaining:   l.remaining,
		Max:         l.max,
		QueueLength: len(l.waiters),
		ResetIn:     resetIn,
	}
}

// Shutdown releases every queued caller immediately. Released callers must
// treat this as "proceed without guarantee", not as an error.
func (l *Limiter) Shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	waiters := l.waiters
	l.waiters = nil
	close(l.stop)
	l.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
}

// startDrain launches the drain loop unless one is already running.
// Callers must hold l.mu.
func (l *Limiter) startDrain() {
	if l.draining || l.closed {
		return
	}
	l.draining = true
	go l.drain()
}

// drain releases one waiter per pass: enforce the minimum inter-call
// interval, wait out a depleted quota until its reset, then let exactly one
// caller through and account for it.
func (l *Limiter) drain() {
	for {
		l.mu.Lock()
		if l.closed || len(l.waiters) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}

		w := l.waiters[0]
		l.waiters = l.waiters[1:]

		if w.ctx != nil && w.ctx.Err() != nil {
			// Caller already gave up; do not spend quota on it.
			close(w.ch)
			l.mu.Unlock()
			continue
		}

		spacing := time.Until(l.lastRequest.Add(l.minInterval))
		l.mu.Unlock()

		if spacing > 0 && !l.sleep(spacing) {
			close(w.ch)
			return
		}

		if !l.awaitQuota() {
			close(w.ch)
			return
		}

		l.mu.Lock()
		if l.remaining > 0 {
			l.remaining--
		}
		l.lastRequest = time.Now()
		l.mu.Unlock()

		close(w.ch)
	}
}

// awaitQuota blocks while the observed quota sits at or below the reserved
// threshold. It returns when quota is available again, either through a
// fresh report or an optimistic reset at resetAt, and false on shutdown.
func (l *Limiter) awaitQuota() bool {
	for {
		l.mu.Lock()
		if l.remaining > l.reservedLocked() {
			l.mu.Unlock()
			return true
		}
		resetWait := time.Until(l.resetAt)
		if resetWait <= 0 {
			// The window elapsed; assume a full bucket until the next
			// report corrects the value.
			l.remaining = l.max
			l.resetAt = time.Now().Add(l.resetWindow)
			l.mu.Unlock()
			return true
		}
		l.mu.Unlock()

		l.log.Debug().
			Dur("wait", resetWait).
			Msg("quota at reserved threshold, waiting for reset")

		t := time.NewTimer(resetWait)
		select {
		case <-t.C:
		case <-l.kick:
			t.Stop()
		case <-l.stop:
			t.Stop()
			return false
		}
	}
}

// sleep waits for d unless the limiter shuts down first.
func (l *Limiter) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-l.stop:
		return false
	}
}

func (l *Limiter) reservedLocked() uint {
	return uint(math.Ceil(float64(l.max) * l.strategy.ReservedFraction()))
}
