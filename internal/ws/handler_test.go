package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"copyrelay/internal/auth"
	"copyrelay/internal/models"
	"copyrelay/internal/protocol"
	"copyrelay/internal/relay"
	"copyrelay/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	st       *storage.Storage
	registry *relay.Registry
	index    *relay.Index
	engine   *relay.Engine
	server   *httptest.Server
	authSvc  *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := testLogger()

	st, err := storage.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authSvc := auth.NewService("test-secret", time.Hour)
	validator := auth.NewTerminalValidator(st, logger)
	registry := relay.NewRegistry(st, validator, logger)
	index := relay.NewIndex(st, registry, logger)
	router := relay.NewRouter(registry, index, st, relay.DefaultRouterConfig(), logger)
	engine := relay.NewEngine(st, logger)

	handler := NewHandler(registry, router, engine, st, logger)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &fixture{
		st:       st,
		registry: registry,
		index:    index,
		engine:   engine,
		server:   server,
		authSvc:  authSvc,
	}
}

func (f *fixture) provision(t *testing.T, accountID string, accountType models.AccountType, userID int64, secret string) {
	t.Helper()

	hash, err := f.authSvc.HashSecret(secret)
	require.NoError(t, err)

	require.NoError(t, f.st.CreateAccountProfile(context.Background(), models.AccountProfile{
		AccountID:  accountID,
		UserID:     userID,
		Type:       accountType,
		Broker:     "test",
		SecretHash: hash,
		CreatedAt:  time.Now(),
	}))
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

// connect открывает соединение и проходит AUTHENTICATE, ожидая ACK
func (f *fixture) connect(t *testing.T, accountID string, accountType models.AccountType, secret string) *websocket.Conn {
	t.Helper()

	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":        protocol.TypeAuthenticate,
		"accountId":   accountID,
		"accountType": string(accountType),
		"credentials": secret,
	}))

	reply := readMessage(t, conn)
	require.Equal(t, protocol.TypeAck, reply["type"], "unexpected reply: %v", reply)

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func TestHandler_RejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "master-1", models.AccountTypeMaster, 1, "right")

	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":        protocol.TypeAuthenticate,
		"accountId":   "master-1",
		"accountType": "master",
		"credentials": "wrong",
	}))

	reply := readMessage(t, conn)
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, protocol.CodeAuthFailed, reply["code"])
}

func TestHandler_RejectsNonAuthFirstMessage(t *testing.T) {
	f := newFixture(t)

	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      protocol.TypeAccountHeartbeat,
		"accountId": "master-1",
	}))

	reply := readMessage(t, conn)
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, protocol.CodeAuthFailed, reply["code"])
}

func TestHandler_SignalEndToEnd(t *testing.T) {
	f := newFixture(t)

	f.provision(t, "master-1", models.AccountTypeMaster, 1, "master-secret")
	f.provision(t, "slave-1", models.AccountTypeSlave, 2, "slave-secret")

	subID, err := f.index.Subscribe(context.Background(), "master-1", "slave-1", relay.SubscriptionConfig{
		SubscriberUserID: 2,
		FeeBps:           1000,
		LotMultiplier:    2.0,
	})
	require.NoError(t, err)

	master := f.connect(t, "master-1", models.AccountTypeMaster, "master-secret")
	slave := f.connect(t, "slave-1", models.AccountTypeSlave, "slave-secret")

	require.NoError(t, master.WriteJSON(map[string]any{
		"type":            protocol.TypeNewMasterSignal,
		"masterAccountId": "master-1",
		"symbol":          "EURUSD",
		"orderType":       "BUY",
		"volume":          0.5,
		"openPrice":       1.085,
		"stopLoss":        1.08,
		"takeProfit":      1.095,
	}))

	// Master получает синхронный результат приема
	accepted := readMessage(t, master)
	require.Equal(t, protocol.TypeSignalAccepted, accepted["type"], "unexpected reply: %v", accepted)
	assert.Equal(t, float64(1), accepted["sequenceNumber"])
	assert.Equal(t, float64(1), accepted["subscribers"])

	// Slave получает сигнал с умноженным объемом
	delivered := readMessage(t, slave)
	require.Equal(t, protocol.TypeSignalDelivered, delivered["type"])
	assert.Equal(t, "master-1", delivered["masterAccountId"])
	assert.Equal(t, "EURUSD", delivered["symbol"])
	assert.InDelta(t, 1.0, delivered["volume"].(float64), 1e-9)

	signalID := delivered["signalId"].(string)

	// Slave отчитывается об исполненной сделке
	require.NoError(t, slave.WriteJSON(map[string]any{
		"type":        protocol.TypeTradeResult,
		"signalId":    signalID,
		"tradeId":     "trade-1",
		"grossAmount": "100.00",
	}))

	ack := readMessage(t, slave)
	require.Equal(t, protocol.TypeAck, ack["type"], "unexpected reply: %v", ack)
	assert.Equal(t, protocol.TypeTradeResult, ack["of"])

	entry, err := f.st.GetCommissionEntryByTrade(context.Background(), subID, "trade-1")
	require.NoError(t, err)
	assert.True(t, entry.PlatformFee.Equal(decimal.NewFromInt(10)), "fee = %s", entry.PlatformFee)
}

func TestHandler_SlaveCannotPublishSignals(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "slave-1", models.AccountTypeSlave, 1, "secret")

	slave := f.connect(t, "slave-1", models.AccountTypeSlave, "secret")

	require.NoError(t, slave.WriteJSON(map[string]any{
		"type":            protocol.TypeNewMasterSignal,
		"masterAccountId": "slave-1",
		"symbol":          "EURUSD",
		"orderType":       "BUY",
		"volume":          1.0,
	}))

	reply := readMessage(t, slave)
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, protocol.CodeForbidden, reply["code"])
}

func TestHandler_MasterCannotPublishForOtherMaster(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "master-1", models.AccountTypeMaster, 1, "secret")

	master := f.connect(t, "master-1", models.AccountTypeMaster, "secret")

	require.NoError(t, master.WriteJSON(map[string]any{
		"type":            protocol.TypeNewMasterSignal,
		"masterAccountId": "master-2",
		"symbol":          "EURUSD",
		"orderType":       "BUY",
		"volume":          1.0,
	}))

	reply := readMessage(t, master)
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, protocol.CodeForbidden, reply["code"])
}

func TestHandler_HeartbeatForForeignAccount(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "master-1", models.AccountTypeMaster, 1, "secret")

	master := f.connect(t, "master-1", models.AccountTypeMaster, "secret")

	require.NoError(t, master.WriteJSON(map[string]any{
		"type":      protocol.TypeAccountHeartbeat,
		"accountId": "someone-else",
		"balance":   100,
	}))

	reply := readMessage(t, master)
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, protocol.CodeForbidden, reply["code"])
}

func TestHandler_MalformedMessage(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "master-1", models.AccountTypeMaster, 1, "secret")

	master := f.connect(t, "master-1", models.AccountTypeMaster, "secret")

	require.NoError(t, master.WriteMessage(websocket.TextMessage, []byte(`{"type":"NO_SUCH_TYPE"}`)))

	reply := readMessage(t, master)
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, protocol.CodeValidation, reply["code"])
}

func TestHandler_DisconnectMarksOffline(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "master-1", models.AccountTypeMaster, 1, "secret")

	master := f.connect(t, "master-1", models.AccountTypeMaster, "secret")
	require.NoError(t, master.Close())

	// Закрытие соединения асинхронно доходит до реестра
	require.Eventually(t, func() bool {
		_, registered := f.registry.Lookup("master-1")
		return !registered
	}, 3*time.Second, 20*time.Millisecond)

	acc, err := f.st.GetAccount(context.Background(), "master-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, acc.Status)
}

func TestHandler_ReconnectKeepsNewSession(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "master-1", models.AccountTypeMaster, 1, "secret")

	first := f.connect(t, "master-1", models.AccountTypeMaster, "secret")
	second := f.connect(t, "master-1", models.AccountTypeMaster, "secret")

	// Реестр закрывает вытесненное соединение
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	// Обработчик старого соединения завершает свой выход
	time.Sleep(100 * time.Millisecond)

	// Новая сессия остается зарегистрированной и connected
	_, registered := f.registry.Lookup("master-1")
	require.True(t, registered)

	status, ok := f.registry.Status("master-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusConnected, status)

	acc, err := f.st.GetAccount(context.Background(), "master-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, acc.Status)

	// И продолжает обслуживаться: heartbeat и публикация проходят
	require.NoError(t, second.WriteJSON(map[string]any{
		"type":      protocol.TypeAccountHeartbeat,
		"accountId": "master-1",
		"balance":   100,
	}))

	require.NoError(t, second.WriteJSON(map[string]any{
		"type":            protocol.TypeNewMasterSignal,
		"masterAccountId": "master-1",
		"symbol":          "EURUSD",
		"orderType":       "BUY",
		"volume":          1.0,
	}))

	accepted := readMessage(t, second)
	require.Equal(t, protocol.TypeSignalAccepted, accepted["type"], "unexpected reply: %v", accepted)
}
