package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
	"FundGuard/pkg/cache"
)

func TestCacheReviewHook(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryCache()
	defer store.Close()
	hook := NewCacheReviewHook(store, time.Hour)

	ok, err := hook.Approved(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, ok, "no decision means not approved")

	_, err = hook.Decision(ctx, "i1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, hook.Submit(ctx, models.ReviewDecision{InvestorID: "i1", Approved: true, Reviewer: "ops"}))
	ok, err = hook.Approved(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, ok)

	d, err := hook.Decision(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "ops", d.Reviewer)

	require.NoError(t, hook.Consume(ctx, "i1"))
	ok, _ = hook.Approved(ctx, "i1")
	assert.False(t, ok)
}

type recordingQueue struct {
	ids     []string
	types   []string
	payload []interface{}
	err     error
}

func (q *recordingQueue) EnqueueWithID(_ context.Context, id, msgType string, payload interface{}) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	q.types = append(q.types, msgType)
	q.payload = append(q.payload, payload)
	return nil
}

func TestQueueSettler(t *testing.T) {
	ctx := context.Background()
	q := &recordingQueue{}
	s := NewQueueSettler(q)

	var pre *models.PreconditionError
	assert.ErrorAs(t, s.Settle(ctx, models.SettlementInstruction{}), &pre)
	assert.Empty(t, q.ids)

	in := models.SettlementInstruction{ID: "st-1", FundID: "f1", ManagerID: "m1"}
	require.NoError(t, s.Settle(ctx, in))
	assert.Equal(t, []string{"st-1"}, q.ids)
	assert.Equal(t, []string{SettlementJobType}, q.types)
	assert.Equal(t, in, q.payload[0])

	q.err = errors.New("redis down")
	assert.Error(t, s.Settle(ctx, in))
}
