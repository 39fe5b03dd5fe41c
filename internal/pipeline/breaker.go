package pipeline

import (
	"sync"
	"time"
)

// BreakerStatus is the externally visible breaker state.
type BreakerStatus struct {
	Open      bool      `json:"open"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
	Trips     int       `json:"trips"`
}

// Breaker halts the whole pipeline after a systemic critical-safety failure.
// It stays open until an operator resets it.
type Breaker struct {
	mu     sync.RWMutex
	status BreakerStatus
}

func NewBreaker() *Breaker {
	return &Breaker{}
}

// Trip opens the breaker. It returns false when it was already open, in which
// case the first reason is kept.
func (b *Breaker) Trip(reason, actor string, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Open {
		return false
	}
	b.status.Open = true
	b.status.Reason = reason
	b.status.Actor = actor
	b.status.TrippedAt = at
	b.status.Trips++
	return true
}

// Reset closes the breaker and returns the status it had.
func (b *Breaker) Reset() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.status
	b.status = BreakerStatus{Trips: prev.Trips}
	return prev
}

func (b *Breaker) Open() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status.Open
}

func (b *Breaker) Status() BreakerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}
