package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships aggregated entries, typically to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval, 30s when zero
	CountThreshold int           // distinct entries that force a flush, 100 when zero
	Topic          string
	Publisher      Publisher
	// Levels selects what is aggregated, error only when empty.
	Levels  []string
	Service string
}

// AggregatedLogEntry is one distinct log line with how often it was seen
// during a flush window.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Service   string                 `json:"service,omitempty"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector deduplicates log entries and publishes them in batches from a
// single goroutine. Batches that cannot be queued are dropped and counted.
type LogCollector struct {
	config  CollectionConfig
	levels  map[string]bool
	batches chan []AggregatedLogEntry

	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry
	dropped int
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	cfg := *config
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	levels := map[string]bool{"error": true}
	if len(cfg.Levels) > 0 {
		levels = make(map[string]bool, len(cfg.Levels))
		for _, l := range cfg.Levels {
			levels[l] = true
		}
	}

	c := &LogCollector{
		config:  cfg,
		levels:  levels,
		batches: make(chan []AggregatedLogEntry, 8),
		entries: make(map[uint64]*AggregatedLogEntry),
		stop:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.ticker()
	go c.publisher()
	return c
}

// Accepts reports whether entries of level are aggregated.
func (c *LogCollector) Accepts(level string) bool {
	return c.levels[level]
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Service:   c.config.Service,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	if len(c.entries) >= c.config.CountThreshold {
		c.flushLocked()
	}
}

// Dropped returns how many batches were discarded because the publisher
// fell behind.
func (c *LogCollector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// entryKey hashes level, caller, message and the fields in key order.
func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", level, caller, message)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, fields[k])
	}
	return h.Sum64()
}

func (c *LogCollector) flushLocked() {
	if c.closed || len(c.entries) == 0 {
		return
	}
	batch := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		batch = append(batch, *e)
	}
	c.entries = make(map[uint64]*AggregatedLogEntry)

	select {
	case c.batches <- batch:
	default:
		c.dropped++
	}
}

func (c *LogCollector) ticker() {
	defer c.wg.Done()
	t := time.NewTicker(c.config.TimeInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		case <-c.stop:
			c.mu.Lock()
			c.flushLocked()
			c.closed = true
			c.mu.Unlock()
			close(c.batches)
			return
		}
	}
}

func (c *LogCollector) publisher() {
	defer c.wg.Done()
	for batch := range c.batches {
		if c.config.Publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch); err != nil {
			// The logger cannot log its own delivery failures.
			fmt.Fprintf(os.Stderr, "publish aggregated logs: %v\n", err)
		}
		cancel()
	}
}

// Close flushes what is pending and waits for it to be published.
func (c *LogCollector) Close() {
	close(c.stop)
	c.wg.Wait()
}
