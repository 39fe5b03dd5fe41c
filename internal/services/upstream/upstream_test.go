package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
)

func TestOracleGetPrice(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/prices/TOSS", r.URL.Path)
		_, _ = w.Write([]byte(`{"asset":"TOSS","price":"2.00","confidence":0.97,"age_seconds":4}`))
	}))
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	o := NewHTTPOracle(srv.URL, time.Second, time.Second, nil, nil)
	o.now = func() time.Time { return now }

	q, err := o.GetPrice(context.Background(), "TOSS")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, 0.97, q.Confidence)
	assert.Equal(t, now.Add(-4*time.Second), q.ObservedAt)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "5xx is retried")
}

func TestOracleHealthIsCachedAndFailsClosed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"oracle_live":true,"sequencer_up":true,"bridge_delay_seconds":90}`))
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second, time.Minute, nil, nil)
	h := o.Health(context.Background())
	assert.True(t, h.OracleLive)
	assert.True(t, h.SequencerUp)
	assert.Equal(t, 90*time.Second, h.BridgeDelay)
	o.Health(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	down := NewHTTPOracle("http://127.0.0.1:1", 100*time.Millisecond, time.Minute, nil, nil)
	h = down.Health(context.Background())
	assert.False(t, h.OracleLive)
	assert.False(t, h.SequencerUp)
}

func TestRegistryGetMetrics(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path == "/investors/ghost/metrics" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"investor_id":"i1","wbr":0.6,"dvr":0.1,"lri":20,"intent_probability":5,"violations_7d":1,"violations_30d":2,"observed_at":1700000000000}`))
	}))
	defer srv.Close()

	r := NewHTTPRegistry(srv.URL, time.Second, time.Minute, nil)
	ctx := context.Background()

	m, err := r.GetMetrics(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, 0.6, m.Behavior.WBR)
	assert.Equal(t, 2, m.Violations.Last30d)
	_, _ = r.GetMetrics(ctx, "i1")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "memoized")

	_, err = r.GetMetrics(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "not found is not retried")

	r.Observe(models.InvestorMetrics{InvestorID: "i2", Behavior: models.BehaviorMetrics{LRI: 70}})
	m, err = r.GetMetrics(ctx, "i2")
	require.NoError(t, err)
	assert.Equal(t, 70.0, m.Behavior.LRI)
}
