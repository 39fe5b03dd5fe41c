package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"FundGuard/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotRunning = errors.New("queue: not running")

const (
	maxBackoffShift = 5
	promoteBatch    = 100
)

// promoteScript moves due retries back onto the pending list in one step, so
// two instances never promote the same message twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// RedisQueue is an at-least-once job queue on Redis lists. A worker moves a
// message atomically from the pending list to the in-flight list and removes
// it once handled. Messages a crashed worker left in flight are requeued on
// Start. Failures are retried with exponential delay from a sorted set and
// dead-lettered after RetryLimit retries.
type RedisQueue struct {
	logger *logger.Logger
	config QueueConfig
	client *redis.Client
	prefix string
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.prefix = prefix
	}
}

// WithQueueClock overrides time.Now for retry scheduling.
func WithQueueClock(now func() time.Time) RedisQueueOption {
	return func(r *RedisQueue) {
		r.now = now
	}
}

// NewRedisQueue creates a queue. Register jobs before Start.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	cfg := QueueConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if lgr == nil {
		lgr = logger.Nop()
	}

	r := &RedisQueue{
		logger: lgr,
		config: cfg,
		client: client,
		prefix: "fundguard:queue",
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob routes messages of job.Type() to job. A second job for the same
// type is ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start requeues orphaned in-flight messages and starts the workers and the
// retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	recovered, err := r.recoverInFlight(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.promoter()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.Int("recovered", recovered),
		logger.String("prefix", r.prefix),
		logger.String("addr", r.client.Options().Addr))
	return nil
}

func (r *RedisQueue) recoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.inFlightKey(), r.pendingKey(), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Stop cancels the workers and waits for them or ctx. A message interrupted
// mid-handle stays in flight and is redelivered on the next Start.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue adds a message with a generated id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	return r.EnqueueWithID(ctx, uuid.NewString(), msgType, payload)
}

// EnqueueWithID is Enqueue with a caller chosen message id, so a consumer can
// deduplicate redeliveries of the same logical message.
func (r *RedisQueue) EnqueueWithID(ctx context.Context, id, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return ErrNotRunning
	}
	if !known {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	data, err := json.Marshal(Message{ID: id, Type: msgType, Payload: payload, Timestamp: r.now()})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.pendingKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for {
		raw, err := r.client.BLMove(r.ctx, r.pendingKey(), r.inFlightKey(), "RIGHT", "LEFT", r.config.Block).Result()
		switch {
		case r.ctx.Err() != nil:
			return
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			r.logger.Error("blmove", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r.process(raw)
	}
}

// envelope is Message with the payload left undecoded.
type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

func (r *RedisQueue) process(raw string) {
	var msg envelope
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		r.settle(raw, func(p redis.Pipeliner) { p.LPush(r.ctx, r.deadKey(), raw) })
		return
	}

	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.settle(raw, func(p redis.Pipeliner) { p.LPush(r.ctx, r.deadKey(), raw) })
		return
	}

	start := time.Now()
	err := job.Handle(WithMessageID(r.ctx, msg.ID), msg.Payload)
	if err == nil {
		r.settle(raw, nil)
		return
	}
	if r.ctx.Err() != nil {
		r.logger.Warn("message interrupted, left in flight",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", time.Since(start)))
		return
	}
	r.fail(raw, msg, job, err)
}

func (r *RedisQueue) fail(raw string, msg envelope, job Job, cause error) {
	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(cause))

	msg.Attempts++
	next, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}

	if msg.Attempts > r.config.RetryLimit {
		r.logger.Error("max retries reached, dead-lettered",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
		r.settle(raw, func(p redis.Pipeliner) { p.LPush(r.ctx, r.deadKey(), next) })
		return
	}

	at := r.now().Add(RetryBackoff(r.config.RetryDelay, msg.Attempts))
	r.settle(raw, func(p redis.Pipeliner) {
		p.ZAdd(r.ctx, r.retryKey(), redis.Z{Score: float64(at.UnixMilli()), Member: next})
	})
	r.logger.Info("scheduled retry",
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", at.Format(time.RFC3339)))
}

// settle removes raw from the in-flight list, together with then in one
// transaction.
func (r *RedisQueue) settle(raw string, then func(redis.Pipeliner)) {
	_, err := r.client.TxPipelined(r.ctx, func(p redis.Pipeliner) error {
		p.LRem(r.ctx, r.inFlightKey(), 1, raw)
		if then != nil {
			then(p)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("settle message", logger.Error(err))
	}
}

// RetryBackoff is base doubled per previous attempt, capped at 32x base.
func RetryBackoff(base time.Duration, attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base << shift
}

func (r *RedisQueue) promoter() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			now := strconv.FormatInt(r.now().UnixMilli(), 10)
			err := promoteScript.Run(r.ctx, r.client, []string{r.retryKey(), r.pendingKey()}, now, promoteBatch).Err()
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("promote retries", logger.Error(err))
			}
		}
	}
}

// Stats reports the depth of every list.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.pendingKey())
	inFlight := pipe.LLen(ctx, r.inFlightKey())
	retry := pipe.ZCard(ctx, r.retryKey())
	dead := pipe.LLen(ctx, r.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Pending:  pending.Val(),
		InFlight: inFlight.Val(),
		Retrying: retry.Val(),
		Dead:     dead.Val(),
	}, nil
}

func (r *RedisQueue) pendingKey() string  { return r.prefix + ":pending" }
func (r *RedisQueue) inFlightKey() string { return r.prefix + ":inflight" }
func (r *RedisQueue) retryKey() string    { return r.prefix + ":retry" }
func (r *RedisQueue) deadKey() string     { return r.prefix + ":dlq" }
