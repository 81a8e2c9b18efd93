package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"copyrelay/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()

	st, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st
}

func TestStorage_UpsertAccountPreservesIdentity(t *testing.T) {
	st := newStorage(t)
	ctx := context.Background()

	acc := models.Account{
		ID:              "acc-1",
		Type:            models.AccountTypeMaster,
		UserID:          1,
		Broker:          "mt5",
		Status:          models.StatusConnected,
		LastHeartbeatAt: time.Now(),
	}
	require.NoError(t, st.UpsertAccount(ctx, acc))

	// Повторный upsert обновляет статус, не создавая дубликат
	acc.Status = models.StatusStale
	require.NoError(t, st.UpsertAccount(ctx, acc))

	got, err := st.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStale, got.Status)
	assert.Equal(t, "mt5", got.Broker)
}

func TestStorage_HeartbeatUpdatesSnapshot(t *testing.T) {
	st := newStorage(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAccount(ctx, models.Account{
		ID:     "acc-1",
		Type:   models.AccountTypeSlave,
		Status: models.StatusStale,
	}))

	at := time.Now()
	require.NoError(t, st.UpdateAccountHeartbeat(ctx, "acc-1", at, 1500.5, 1480.25))

	got, err := st.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, got.Status)
	assert.Equal(t, 1500.5, got.Balance)
	assert.Equal(t, 1480.25, got.Equity)
}

func TestStorage_DeactivateAccount(t *testing.T) {
	st := newStorage(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAccount(ctx, models.Account{ID: "acc-1", Type: models.AccountTypeSlave}))
	require.NoError(t, st.DeactivateAccount(ctx, "acc-1"))

	got, err := st.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, got.Deactivated)
}

func TestStorage_GetAccountNotFound(t *testing.T) {
	st := newStorage(t)

	_, err := st.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_SignalSequenceUnique(t *testing.T) {
	st := newStorage(t)
	ctx := context.Background()

	sig := models.Signal{
		ID:              "sig-1",
		MasterAccountID: "master-1",
		Symbol:          "EURUSD",
		OrderType:       models.OrderBuy,
		Volume:          1,
		SequenceNumber:  1,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, st.CreateSignal(ctx, sig))

	// Тот же sequence number того же master отклоняется схемой
	sig.ID = "sig-2"
	assert.Error(t, st.CreateSignal(ctx, sig))

	// Другой master может использовать тот же номер
	sig.ID = "sig-3"
	sig.MasterAccountID = "master-2"
	assert.NoError(t, st.CreateSignal(ctx, sig))
}

func TestStorage_LastSequenceNumberEmpty(t *testing.T) {
	st := newStorage(t)

	seq, err := st.LastSequenceNumber(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestStorage_CommissionRoundtrip(t *testing.T) {
	st := newStorage(t)
	ctx := context.Background()

	entry := models.CommissionEntry{
		ID:               "entry-1",
		SubscriptionID:   "sub-1",
		TradeID:          "trade-1",
		Amount:           decimal.RequireFromString("100.00"),
		PlatformFee:      decimal.RequireFromString("10.00"),
		ProviderEarnings: decimal.RequireFromString("90.00"),
		Status:           models.CommissionPending,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, st.CreateCommissionEntry(ctx, entry))

	// Та же сделка в той же подписке отклоняется схемой
	dup := entry
	dup.ID = "entry-2"
	assert.Error(t, st.CreateCommissionEntry(ctx, dup))

	got, err := st.GetCommissionEntryByTrade(ctx, "sub-1", "trade-1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(entry.Amount))
	assert.True(t, got.ProviderEarnings.Equal(entry.ProviderEarnings))

	// paid ровно один раз
	require.NoError(t, st.MarkCommissionPaid(ctx, "entry-1", time.Now()))
	assert.ErrorIs(t, st.MarkCommissionPaid(ctx, "entry-1", time.Now()), ErrNotFound)

	got, err = st.GetCommissionEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, models.CommissionPaid, got.Status)
	assert.NotNil(t, got.PaidAt)
}
