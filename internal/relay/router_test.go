package relay

import (
	"context"
	"testing"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/protocol"
	"copyrelay/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	st       *storage.Storage
	registry *Registry
	index    *Index
	router   *Router
}

func newRouterFixture(t *testing.T, cfg RouterConfig) *routerFixture {
	t.Helper()

	st := newTestStorage(t)
	registry := NewRegistry(st, okValidator{}, testLogger())
	index := NewIndex(st, registry, testLogger())
	router := NewRouter(registry, index, st, cfg, testLogger())

	provision(t, st, "master-1", models.AccountTypeMaster, 1)

	return &routerFixture{st: st, registry: registry, index: index, router: router}
}

func (f *routerFixture) addSlave(t *testing.T, slaveID string, userID int64, multiplier float64) (string, *fakeSender) {
	t.Helper()

	provision(t, f.st, slaveID, models.AccountTypeSlave, userID)

	subID, err := f.index.Subscribe(context.Background(), "master-1", slaveID, SubscriptionConfig{
		SubscriberUserID: userID,
		FeeBps:           1000,
		LotMultiplier:    multiplier,
	})
	require.NoError(t, err)

	return subID, connect(t, f.registry, slaveID, models.AccountTypeSlave)
}

func testSignal() RawSignal {
	return RawSignal{
		Symbol:     "EURUSD",
		OrderType:  models.OrderBuy,
		Volume:     1.0,
		OpenPrice:  1.0850,
		StopLoss:   1.0800,
		TakeProfit: 1.0950,
	}
}

func TestRouter_DeliversToEnabledConnectedSubscribers(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())

	_, online := f.addSlave(t, "slave-online", 2, 1.0)

	disabledID, disabled := f.addSlave(t, "slave-disabled", 3, 1.0)
	require.NoError(t, f.index.SetEnabled(context.Background(), disabledID, false))

	result, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.SequenceNumber)
	assert.Equal(t, 1, result.Subscribers)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, result.Duplicate)

	require.Len(t, online.messages(), 1)
	delivered := online.messages()[0].(protocol.SignalDelivered)
	assert.Equal(t, result.SignalID, delivered.SignalID)
	assert.Equal(t, "master-1", delivered.MasterAccountID)
	assert.Equal(t, 1.0, delivered.Volume)

	assert.Empty(t, disabled.messages())

	// Ровно одна запись доставки, со статусом sent
	deliveries, err := f.st.ListDeliveriesBySignal(context.Background(), result.SignalID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "slave-online", deliveries[0].SlaveAccountID)
	assert.Equal(t, models.DeliverySent, deliveries[0].Status)
}

func TestRouter_AppliesLotMultiplier(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())

	_, half := f.addSlave(t, "slave-half", 2, 0.5)
	_, double := f.addSlave(t, "slave-double", 3, 2.0)

	sig := testSignal()
	sig.Volume = 0.8

	_, err := f.router.ReceiveSignal(context.Background(), "master-1", sig)
	require.NoError(t, err)

	require.Len(t, half.messages(), 1)
	assert.InDelta(t, 0.4, half.messages()[0].(protocol.SignalDelivered).Volume, 1e-9)

	require.Len(t, double.messages(), 1)
	assert.InDelta(t, 1.6, double.messages()[0].(protocol.SignalDelivered).Volume, 1e-9)
}

func TestRouter_SequenceNumbersMonotonic(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())
	f.addSlave(t, "slave-1", 2, 1.0)

	first := testSignal()

	second := testSignal()
	second.Symbol = "GBPUSD"

	r1, err := f.router.ReceiveSignal(context.Background(), "master-1", first)
	require.NoError(t, err)

	r2, err := f.router.ReceiveSignal(context.Background(), "master-1", second)
	require.NoError(t, err)

	assert.Equal(t, int64(1), r1.SequenceNumber)
	assert.Equal(t, int64(2), r2.SequenceNumber)
}

func TestRouter_SequenceResumesAfterRestart(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())
	f.addSlave(t, "slave-1", 2, 1.0)

	_, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)

	// Новый роутер над тем же хранилищем продолжает нумерацию
	fresh := NewRouter(f.registry, f.index, f.st, DefaultRouterConfig(), testLogger())

	sig := testSignal()
	sig.Symbol = "USDJPY"

	result, err := fresh.ReceiveSignal(context.Background(), "master-1", sig)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.SequenceNumber)
}

func TestRouter_DuplicateWithinWindow(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())
	_, sender := f.addSlave(t, "slave-1", 2, 1.0)

	first, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)

	// Повтор - идемпотентный успех с прежним результатом, без новой рассылки
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.SignalID, second.SignalID)
	assert.Equal(t, first.SequenceNumber, second.SequenceNumber)

	assert.Len(t, sender.messages(), 1)

	seq, err := f.st.LastSequenceNumber(context.Background(), "master-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestRouter_DuplicateExpiresAfterWindow(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.DedupWindow = 20 * time.Millisecond

	f := newRouterFixture(t, cfg)
	f.addSlave(t, "slave-1", 2, 1.0)

	first, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	second, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)

	assert.False(t, second.Duplicate)
	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
}

func TestRouter_FailedDeliveryIsRecordedNotPropagated(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())

	_, healthy := f.addSlave(t, "slave-ok", 2, 1.0)
	_, broken := f.addSlave(t, "slave-broken", 3, 1.0)
	broken.failSend = true

	result, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Subscribers)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)

	assert.Len(t, healthy.messages(), 1)

	deliveries, err := f.st.ListDeliveriesBySignal(context.Background(), result.SignalID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)

	byAccount := make(map[string]models.DeliveryStatus)
	for _, d := range deliveries {
		byAccount[d.SlaveAccountID] = d.Status
	}

	assert.Equal(t, models.DeliverySent, byAccount["slave-ok"])
	assert.Equal(t, models.DeliveryFailed, byAccount["slave-broken"])
}

func TestRouter_SlowDeliveryDoesNotBlockOthers(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.DeliveryTimeout = 30 * time.Millisecond

	f := newRouterFixture(t, cfg)

	_, fast := f.addSlave(t, "slave-fast", 2, 1.0)
	_, slow := f.addSlave(t, "slave-slow", 3, 1.0)
	slow.delay = time.Second

	result, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, fast.messages(), 1)
	assert.Empty(t, slow.messages())
}

func TestRouter_NoSubscribers(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())

	result, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)

	// Сигнал все равно записан и получил номер
	assert.Equal(t, int64(1), result.SequenceNumber)
	assert.Equal(t, 0, result.Subscribers)
	assert.Equal(t, 0, result.Delivered)
}

func TestRouter_ValidationErrors(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())

	cases := []struct {
		name   string
		mutate func(*RawSignal)
	}{
		{"empty symbol", func(s *RawSignal) { s.Symbol = "" }},
		{"zero volume", func(s *RawSignal) { s.Volume = 0 }},
		{"negative volume", func(s *RawSignal) { s.Volume = -1 }},
		{"unknown order type", func(s *RawSignal) { s.OrderType = "HOLD" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := testSignal()
			tc.mutate(&sig)

			_, err := f.router.ReceiveSignal(context.Background(), "master-1", sig)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRouter_OverCapacity(t *testing.T) {
	f := newRouterFixture(t, DefaultRouterConfig())
	f.addSlave(t, "slave-1", 2, 1.0)

	// Любой прием превышает потолок
	f.router.cfg.MaxInflight = 0

	_, err := f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.ErrorIs(t, err, ErrOverCapacity)

	// После снятия давления сигналы снова принимаются
	f.router.cfg.MaxInflight = 256

	_, err = f.router.ReceiveSignal(context.Background(), "master-1", testSignal())
	require.NoError(t, err)
}
