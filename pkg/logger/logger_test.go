package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu    sync.Mutex
	topic string
	logs  []AggregatedLogEntry
	done  chan struct{}
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.logs = append(p.logs, payload.([]AggregatedLogEntry)...)
	close(p.done)
	return nil
}

func TestFieldsAreWritten(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "engine"))
	l.Info("slash executed",
		Decimal("amount", decimal.RequireFromString("700.000000000000000001")),
		Float64("ratio", 0.07),
		Int("fi", 50),
		Error(errors.New("boom")),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "engine", entry["component"])
	require.Equal(t, "700.000000000000000001", entry["amount"])
	require.Equal(t, 0.07, entry["ratio"])
	require.Equal(t, float64(50), entry["fi"])
	require.Equal(t, "boom", entry["error"])
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{})}
	l := NewWriter(&bytes.Buffer{})
	l.AddCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "fundguard.logs",
		Publisher:      pub,
	})
	defer l.RemoveCollector()

	l.Info("not collected")
	for i := 0; i < 3; i++ {
		l.Error("settle failed", String("fund_id", "f1"))
	}
	l.Error("settle failed", String("fund_id", "f2"))

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not flush")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Equal(t, "fundguard.logs", pub.topic)
	require.Len(t, pub.logs, 2)
	counts := map[interface{}]int{}
	for _, e := range pub.logs {
		counts[e.Fields["fund_id"]] = e.Count
	}
	require.Equal(t, 3, counts["f1"])
	require.Equal(t, 1, counts["f2"])
}
