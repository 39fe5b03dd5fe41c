package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.PriceTick) error
}

// QuoteStore is where accepted ticks end up.
type QuoteStore interface {
	Store(ctx context.Context, q models.PriceQuote) error
}

// StoreProc converts ticks to quotes and stores them.
type StoreProc struct {
	store QuoteStore
}

func NewStoreProc(store QuoteStore) *StoreProc { return &StoreProc{store: store} }

func (s *StoreProc) Process(ctx context.Context, t *models.PriceTick) error {
	return s.store.Store(ctx, TickToQuote(t))
}

// TickToQuote converts a streamed tick to an oracle quote.
func TickToQuote(t *models.PriceTick) models.PriceQuote {
	return models.PriceQuote{
		Asset:      t.Asset,
		Price:      decimal.NewFromFloat(t.Price),
		Confidence: t.Confidence,
		ObservedAt: time.UnixMilli(t.Timestamp),
	}
}

// TickPipeline sits between the price stream and the price cache.
// It validates, throttles per asset and buffers when downstream is unavailable.
type TickPipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	maxRPS  int
	bufSize int
	bufCh   chan *models.PriceTick
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	mu      sync.Mutex
	// per-asset last accepted time
	lastSeen map[string]time.Time
	now      func() time.Time
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS sets the max ticks per second per asset.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *TickPipeline) { p.now = now }
}

func NewTickPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.PriceTick, p.bufSize)
	return p
}

// Start launches background flushing of buffered ticks.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case t := <-p.bufCh:
				if err := p.proc.Process(ctx, t); err != nil {
					// exponential backoff with cap
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("tick_flush")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					}
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- t:
					default:
						p.metrics.RecordError("tick_buffer_drop")
					}
					continue
				}
				backoff = 50 * time.Millisecond
			}
		}
	}()
}

// Stop stops the background flushing and waits for it to exit.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

// Buffered is the number of ticks waiting for downstream.
func (p *TickPipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards a tick downstream, buffering on errors.
func (p *TickPipeline) Process(ctx context.Context, t *models.PriceTick) error {
	start := p.now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("tick_validate")
		return err
	}
	if !p.allow(t.Asset, start) {
		p.metrics.RecordError("tick_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("tick_process")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("tick_buffer_full")
		}
		return fmt.Errorf("tick downstream: %w", err)
	}
	p.metrics.RecordLatency("tick_process", time.Since(start).Seconds())
	return nil
}

func validateTick(t *models.PriceTick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Asset == "" {
		return fmt.Errorf("asset empty")
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if !(t.Price > 0) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("price %v invalid", t.Price)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", t.Confidence)
	}
	return nil
}

func (p *TickPipeline) allow(asset string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[asset]
	if ok && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[asset] = now
	return true
}
