package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
	"FundGuard/pkg/metrics"
)

type recordingStore struct {
	mu     sync.Mutex
	quotes []models.PriceQuote
	fail   bool
}

func (s *recordingStore) Store(_ context.Context, q models.PriceQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("cache down")
	}
	s.quotes = append(s.quotes, q)
	return nil
}

func (s *recordingStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.quotes)
}

func tick(asset string, price float64) *models.PriceTick {
	return &models.PriceTick{Asset: asset, Price: price, Confidence: 0.9, Timestamp: 1_700_000_000_000}
}

func TestTickPipelineValidates(t *testing.T) {
	p := NewTickPipeline(NewStoreProc(&recordingStore{}), metrics.Nop{})
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, nil))
	assert.Error(t, p.Process(ctx, tick("", 1)))
	assert.Error(t, p.Process(ctx, tick("TOSS", 0)))
	bad := tick("TOSS", 1)
	bad.Confidence = 1.5
	assert.Error(t, p.Process(ctx, bad))
}

func TestTickPipelineThrottlesPerAsset(t *testing.T) {
	store := &recordingStore{}
	now := time.Unix(1_700_000_000, 0)
	p := NewTickPipeline(NewStoreProc(store), metrics.Nop{}, WithMaxRPS(10), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, tick("TOSS", 2)))
	require.NoError(t, p.Process(ctx, tick("TOSS", 2.1)))
	require.NoError(t, p.Process(ctx, tick("ETH", 3000)))
	assert.Equal(t, 2, store.count())

	now = now.Add(100 * time.Millisecond)
	require.NoError(t, p.Process(ctx, tick("TOSS", 2.2)))
	assert.Equal(t, 3, store.count())

	q := store.quotes[0]
	assert.Equal(t, "TOSS", q.Asset)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), q.ObservedAt)
}

func TestTickPipelineBuffersAndFlushes(t *testing.T) {
	store := &recordingStore{fail: true}
	p := NewTickPipeline(NewStoreProc(store), metrics.Nop{}, WithMaxRPS(0), WithBufferSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, p.Process(ctx, tick("TOSS", 2)))
	assert.Equal(t, 1, p.Buffered())

	store.setFail(false)
	p.Start(ctx)
	require.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	p.Stop()
}
