package repository

import (
	"context"
	"sync"
	"time"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/pkg/logger"
)

// Outbox buffers committed audit events and forwards them to the audit sink
// in batches. Capacity is reserved before a state change is applied, so a
// change is only made when its events are guaranteed a slot.
type Outbox struct {
	sink    domrepo.AuditSink
	metrics domrepo.Metrics
	logger  *logger.Logger

	capacity   int
	batchSize  int
	flushEvery time.Duration
	retryDelay time.Duration

	mu       sync.Mutex
	reserved int
	queue    []models.AuditEvent
	flushMu  sync.Mutex

	notify    chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type OutboxOption func(*Outbox)

func WithOutboxBatch(size int, every time.Duration) OutboxOption {
	return func(o *Outbox) {
		if size > 0 {
			o.batchSize = size
		}
		if every > 0 {
			o.flushEvery = every
		}
	}
}

func WithOutboxRetryDelay(d time.Duration) OutboxOption {
	return func(o *Outbox) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

func WithOutboxLogger(l *logger.Logger) OutboxOption {
	return func(o *Outbox) {
		if l != nil {
			o.logger = l
		}
	}
}

func NewOutbox(sink domrepo.AuditSink, metrics domrepo.Metrics, capacity int, opts ...OutboxOption) *Outbox {
	if capacity <= 0 {
		capacity = 1024
	}
	o := &Outbox{
		sink:       sink,
		metrics:    metrics,
		logger:     logger.Nop(),
		capacity:   capacity,
		batchSize:  100,
		flushEvery: time.Second,
		retryDelay: time.Second,
		notify:     make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Reservation holds outbox capacity for events not yet committed.
type Reservation struct {
	o    *Outbox
	n    int
	once sync.Once
}

// Reserve claims room for n events or fails with models.ErrOutboxFull.
func (o *Outbox) Reserve(n int) (*Reservation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue)+o.reserved+n > o.capacity {
		return nil, models.ErrOutboxFull
	}
	o.reserved += n
	return &Reservation{o: o, n: n}, nil
}

// Commit enqueues the events and releases the reservation. It never fails.
func (r *Reservation) Commit(events []models.AuditEvent) {
	r.once.Do(func() {
		r.o.mu.Lock()
		r.o.reserved -= r.n
		r.o.queue = append(r.o.queue, events...)
		r.o.mu.Unlock()
		r.o.wake()
	})
}

// Cancel releases the reservation without enqueueing anything.
func (r *Reservation) Cancel() {
	r.once.Do(func() {
		r.o.mu.Lock()
		r.o.reserved -= r.n
		r.o.mu.Unlock()
	})
}

// Pending is the number of queued events not yet accepted by the sink.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Start runs the dispatcher until Stop.
func (o *Outbox) Start() {
	o.startOnce.Do(func() {
		go o.run()
	})
}

// Stop halts the dispatcher after one final flush bounded by ctx.
func (o *Outbox) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stop) })
	// never started: nothing to wait for
	o.startOnce.Do(func() { close(o.done) })
	select {
	case <-o.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for o.Pending() > 0 {
		if err := o.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbox) run() {
	defer close(o.done)
	ticker := time.NewTicker(o.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-o.notify:
		case <-ticker.C:
		}
		for o.Pending() > 0 {
			if err := o.Flush(context.Background()); err != nil {
				select {
				case <-o.stop:
					return
				case <-time.After(o.retryDelay):
				}
				break
			}
		}
	}
}

// Flush sends one batch to the sink. On failure the batch stays at the head of
// the queue so ordering is preserved.
func (o *Outbox) Flush(ctx context.Context) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	o.mu.Lock()
	n := len(o.queue)
	if n > o.batchSize {
		n = o.batchSize
	}
	batch := append([]models.AuditEvent(nil), o.queue[:n]...)
	o.mu.Unlock()
	if n == 0 {
		return nil
	}

	start := time.Now()
	if err := o.sink.Record(ctx, batch); err != nil {
		o.metrics.RecordError("audit_sink")
		o.logger.Warn("audit sink rejected batch", logger.Int("events", n), logger.Error(err))
		return err
	}
	o.metrics.RecordLatency("audit_flush", time.Since(start).Seconds())

	o.mu.Lock()
	o.queue = o.queue[n:]
	o.mu.Unlock()
	return nil
}
