package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRepository_Append(t *testing.T) {
	db := NewTestDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	entry := &model.CreditLedgerEntry{
		TenantID:         "T1",
		Type:             model.LedgerEntryTypeTopup,
		Channel:          model.ChannelSMS,
		Units:            10000,
		Amount:           5000,
		PaymentReference: "ref-1",
	}

	t.Run("assigns id and timestamp", func(t *testing.T) {
		created, err := repo.Append(ctx, entry)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := repo.GetByReference(ctx, "T1", "ref-1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, int64(10000), got.Units)
		assert.Equal(t, model.LedgerEntryTypeTopup, got.Type)
	})

	t.Run("one entry per payment reference", func(t *testing.T) {
		_, err := repo.Append(ctx, entry)
		assert.ErrorIs(t, err, ErrDuplicateLedgerEntry)
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := repo.GetByReference(ctx, "T1", "nope")
		assert.ErrorIs(t, err, ErrLedgerEntryNotFound)
	})
}

func TestLedgerRepository_List(t *testing.T) {
	db := NewTestDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, ref := range []string{"ref-a", "ref-b", "ref-c"} {
		ch := model.ChannelSMS
		if i == 1 {
			ch = model.ChannelWhatsApp
		}
		_, err := repo.Append(ctx, &model.CreditLedgerEntry{
			TenantID:         "T1",
			Type:             model.LedgerEntryTypeTopup,
			Channel:          ch,
			Units:            int64(100 * (i + 1)),
			Amount:           int64(10 * (i + 1)),
			PaymentReference: ref,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, &model.CreditLedgerEntry{
		TenantID: "T2", Type: model.LedgerEntryTypeTopup, Channel: model.ChannelSMS,
		Units: 1, Amount: 1, PaymentReference: "ref-other",
	})
	require.NoError(t, err)

	t.Run("newest first for tenant", func(t *testing.T) {
		entries, total, err := repo.List(ctx, LedgerFilter{TenantID: "T1"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, entries, 3)
		assert.Equal(t, "ref-c", entries[0].PaymentReference)
		assert.Equal(t, "ref-a", entries[2].PaymentReference)
	})

	t.Run("filter by channel", func(t *testing.T) {
		ch := model.ChannelWhatsApp
		entries, total, err := repo.List(ctx, LedgerFilter{TenantID: "T1", Channel: &ch})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, entries, 1)
		assert.Equal(t, "ref-b", entries[0].PaymentReference)
	})

	t.Run("pagination", func(t *testing.T) {
		entries, total, err := repo.List(ctx, LedgerFilter{TenantID: "T1", Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, entries, 1)
		assert.Equal(t, "ref-a", entries[0].PaymentReference)
	})
}
