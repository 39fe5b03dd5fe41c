package usecase

import (
	"context"
	"errors"
	"sync"

	"FundGuard/internal/domain/models"
	drepo "FundGuard/internal/domain/repository"
	mid "FundGuard/internal/middleware"
	"FundGuard/pkg/logger"
)

var errStreamClosed = errors.New("price stream closed")

// PriceCollector feeds streamed oracle prices through the tick pipeline into
// the price cache.
type PriceCollector struct {
	stream  drepo.PriceStream
	pipe    *mid.TickPipeline
	metrics drepo.Metrics
	logger  *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPriceCollector(stream drepo.PriceStream, pipe *mid.TickPipeline, metrics drepo.Metrics, l *logger.Logger) *PriceCollector {
	if l == nil {
		l = logger.Nop()
	}
	return &PriceCollector{stream: stream, pipe: pipe, metrics: metrics, logger: l}
}

// IsConnected returns true if the price stream is connected.
func (c *PriceCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *PriceCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.pipe.Start(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// run reads until the stream fails, then reconnects and reads again.
func (c *PriceCollector) run(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		ticks, errs := c.stream.Read(ctx)
		if err := c.consume(ctx, ticks, errs); err != nil {
			c.metrics.RecordError("stream")
			c.logger.Warn("price stream lost", logger.Error(err))
			for ctx.Err() == nil {
				if err := c.stream.Reconnect(ctx); err != nil {
					c.logger.Warn("price stream reconnect failed", logger.Error(err))
					continue
				}
				break
			}
		}
	}
}

func (c *PriceCollector) consume(ctx context.Context, ticks <-chan *models.PriceTick, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			if !ok {
				errs = nil
			}
		case t, ok := <-ticks:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamClosed
			}
			if err := c.pipe.Process(ctx, t); err != nil {
				c.logger.Debug("tick not applied",
					logger.String("asset", t.Asset),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops reading, drains the pipeline and closes the stream.
func (c *PriceCollector) Shutdown(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	c.wg.Wait()
	c.pipe.Stop()
	return err
}
