package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FundGuard/internal/domain/models"
	"FundGuard/pkg/cache"
)

// CacheReviewHook stores operator review decisions for frozen investors. An
// investor without a recorded decision is not approved.
type CacheReviewHook struct {
	store cache.Service
	ttl   time.Duration
}

func NewCacheReviewHook(store cache.Service, ttl time.Duration) *CacheReviewHook {
	return &CacheReviewHook{store: store, ttl: ttl}
}

func reviewKey(investorID string) string { return cache.GenerateKey("review", investorID) }

// Submit records the decision, replacing any earlier one.
func (h *CacheReviewHook) Submit(ctx context.Context, d models.ReviewDecision) error {
	if err := h.store.Set(ctx, reviewKey(d.InvestorID), d, h.ttl); err != nil {
		return fmt.Errorf("store review decision: %w", err)
	}
	return nil
}

// Decision returns the recorded decision, models.ErrNotFound when there is none.
func (h *CacheReviewHook) Decision(ctx context.Context, investorID string) (models.ReviewDecision, error) {
	var d models.ReviewDecision
	if err := h.store.Get(ctx, reviewKey(investorID), &d); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.ReviewDecision{}, models.ErrNotFound
		}
		return models.ReviewDecision{}, err
	}
	return d, nil
}

// Approved implements service.ReviewHook.
func (h *CacheReviewHook) Approved(ctx context.Context, investorID string) (bool, error) {
	d, err := h.Decision(ctx, investorID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.Approved, nil
}

// Consume drops the decision once it has been acted on.
func (h *CacheReviewHook) Consume(ctx context.Context, investorID string) error {
	return h.store.Delete(ctx, reviewKey(investorID))
}
