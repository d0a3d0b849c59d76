package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInitRecord(tenantID, reference string) *model.TopupRecord {
	return &model.TopupRecord{
		Reference:        reference,
		TenantID:         tenantID,
		BundleID:         "sms-10000",
		Channel:          model.ChannelSMS,
		Units:            10000,
		AmountMinorUnits: 5000,
		Currency:         "GHS",
		Status:           model.TopupStatusInit,
	}
}

func TestTopupRepository_Create(t *testing.T) {
	db := NewTestDB(t)
	repo := NewTopupRepository(db)
	ctx := context.Background()

	t.Run("stores record in INIT", func(t *testing.T) {
		rec, err := repo.Create(ctx, newInitRecord("T1", "ref-1"))
		require.NoError(t, err)
		assert.Equal(t, model.TopupStatusInit, rec.Status)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.Nil(t, rec.PaidAt)

		got, err := repo.Get(ctx, "T1", "ref-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got.AmountMinorUnits)
		assert.Equal(t, model.ChannelSMS, got.Channel)
		assert.Equal(t, model.TopupStatusInit, got.Status)
	})

	t.Run("reference cannot be reused", func(t *testing.T) {
		_, err := repo.Create(ctx, newInitRecord("T2", "ref-1"))
		assert.ErrorIs(t, err, ErrDuplicateReference)
	})

	t.Run("only INIT records can be created", func(t *testing.T) {
		rec := newInitRecord("T1", "ref-paid")
		rec.Status = model.TopupStatusPaid
		_, err := repo.Create(ctx, rec)
		assert.ErrorIs(t, err, ErrInvalidTopupRecord)
	})

	t.Run("reference is required", func(t *testing.T) {
		_, err := repo.Create(ctx, newInitRecord("T1", ""))
		assert.ErrorIs(t, err, ErrInvalidTopupRecord)
	})
}

func TestTopupRepository_Get(t *testing.T) {
	db := NewTestDB(t)
	repo := NewTopupRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, newInitRecord("T1", "ref-1"))
	require.NoError(t, err)

	t.Run("scoped to tenant", func(t *testing.T) {
		_, err := repo.Get(ctx, "T2", "ref-1")
		assert.ErrorIs(t, err, ErrTopupNotFound)
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := repo.Get(ctx, "T1", "nope")
		assert.ErrorIs(t, err, ErrTopupNotFound)
	})
}

func TestTopupRepository_Transitions(t *testing.T) {
	db := NewTestDB(t)
	repo := NewTopupRepository(db)
	ctx := context.Background()
	event := "evt-1"
	paidAt := time.Now().UTC().Truncate(time.Second)

	t.Run("INIT to PAID happens once", func(t *testing.T) {
		_, err := repo.Create(ctx, newInitRecord("T1", "ref-paid"))
		require.NoError(t, err)

		ok, err := repo.MarkPaid(ctx, "T1", "ref-paid", &event, paidAt)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkPaid(ctx, "T1", "ref-paid", &event, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := repo.Get(ctx, "T1", "ref-paid")
		require.NoError(t, err)
		assert.Equal(t, model.TopupStatusPaid, rec.Status)
		require.NotNil(t, rec.PaidAt)
		assert.True(t, paidAt.Equal(rec.PaidAt.UTC()))
		require.NotNil(t, rec.GatewayEventID)
		assert.Equal(t, "evt-1", *rec.GatewayEventID)
	})

	t.Run("PAID is never downgraded to FAILED", func(t *testing.T) {
		ok, err := repo.MarkFailed(ctx, "T1", "ref-paid", nil)
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := repo.Get(ctx, "T1", "ref-paid")
		require.NoError(t, err)
		assert.Equal(t, model.TopupStatusPaid, rec.Status)
	})

	t.Run("FAILED is terminal", func(t *testing.T) {
		_, err := repo.Create(ctx, newInitRecord("T1", "ref-failed"))
		require.NoError(t, err)

		ok, err := repo.MarkFailed(ctx, "T1", "ref-failed", &event)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkFailed(ctx, "T1", "ref-failed", &event)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.MarkPaid(ctx, "T1", "ref-failed", &event, paidAt)
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := repo.Get(ctx, "T1", "ref-failed")
		require.NoError(t, err)
		assert.Equal(t, model.TopupStatusFailed, rec.Status)
		assert.Nil(t, rec.PaidAt)
	})

	t.Run("other tenant cannot transition the record", func(t *testing.T) {
		_, err := repo.Create(ctx, newInitRecord("T1", "ref-owned"))
		require.NoError(t, err)

		ok, err := repo.MarkPaid(ctx, "T2", "ref-owned", nil, paidAt)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTopupRepository_ConcurrentMarkPaid(t *testing.T) {
	db := NewTestDB(t)
	repo := NewTopupRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, newInitRecord("T1", "ref-race"))
	require.NoError(t, err)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkPaid(ctx, "T1", "ref-race", nil, time.Now())
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
