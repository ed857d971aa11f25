package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher drains the outbox and publishes pending events
type Dispatcher struct {
	outbox      OutboxRepository
	publisher   Publisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
	now         func() time.Time
	wakeCh      chan struct{}
	stopCh      chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
}

// Config holds configuration for the dispatcher
type Config struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int

	// Delay before the first retry of a failed event, doubled per attempt up to MaxBackoff
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(outbox OutboxRepository, publisher Publisher, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = cfg.Interval
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(cfg.Backoff, 5*time.Minute)
	}

	return &Dispatcher{
		outbox:      outbox,
		publisher:   publisher,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
		logger:      logger,
		now:         time.Now,
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// WithClock replaces the time source used for retry scheduling
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Start starts the dispatch loop
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.logger.Info("notification dispatcher started", "interval", d.interval, "batch_size", d.batchSize)

	d.wg.Add(1)
	go d.run(ctx)
}

// Stop stops the loop and waits for the in-flight batch
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
	if cancel != nil {
		cancel()
	}
	d.logger.Info("notification dispatcher stopped")
}

// Notify wakes the loop without waiting for the next tick. Never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Drain(ctx)
	for {
		select {
		case <-ticker.C:
			d.Drain(ctx)
		case <-d.wakeCh:
			d.Drain(ctx)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Drain publishes due events until none are left or a batch makes no progress.
// Failed events wait for their backoff, so one Drain attempts each event at most once.
// It returns the number of events published.
func (d *Dispatcher) Drain(ctx context.Context) int {
	published := 0
	for {
		n, fetched := d.process(ctx)
		published += n
		if fetched < d.batchSize || n == 0 || ctx.Err() != nil {
			return published
		}
	}
}

// process publishes one batch, returning published and fetched counts
func (d *Dispatcher) process(ctx context.Context) (int, int) {
	events, err := d.outbox.FetchPending(ctx, d.batchSize, d.now())
	if err != nil {
		d.logger.Error("failed to fetch pending events", "error", err)
		return 0, 0
	}
	if len(events) == 0 {
		return 0, 0
	}

	published := 0
	for i := range events {
		select {
		case <-ctx.Done():
			return published, len(events)
		default:
		}

		ev := &events[i]
		if err := d.publisher.Publish(ctx, ev.Topic, ev.Envelope()); err != nil {
			attempts := ev.Attempts + 1
			giveUp := attempts >= d.maxAttempts
			at := d.now()
			retryAt := at.Add(d.retryDelay(attempts))
			d.logger.Warn("failed to publish event",
				"event_id", ev.ID,
				"topic", ev.Topic,
				"attempt", attempts,
				"give_up", giveUp,
				"retry_at", retryAt,
				"error", err,
			)
			if markErr := d.outbox.MarkAttemptFailed(ctx, ev.ID, err.Error(), giveUp, at, retryAt); markErr != nil {
				d.logger.Error("failed to record publish failure", "event_id", ev.ID, "error", markErr)
			}
			continue
		}

		if err := d.outbox.MarkDispatched(ctx, ev.ID, d.now()); err != nil {
			d.logger.Error("failed to mark event dispatched", "event_id", ev.ID, "error", err)
			continue
		}
		published++
	}

	d.logger.Debug("dispatched events", "published", published, "fetched", len(events))
	return published, len(events)
}

// retryDelay is the backoff after the given number of failed attempts
func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	delay := d.backoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	return min(delay, d.maxBackoff)
}
