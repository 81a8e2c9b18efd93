package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/protocol"
	"copyrelay/internal/relay"
	"copyrelay/internal/storage"

	"github.com/gorilla/websocket"
)

const (
	authTimeout = 10 * time.Second
	readTimeout = 120 * time.Second
)

// TradeStore - чтение сигналов и подписок для корреляции TRADE_RESULT
type TradeStore interface {
	GetSignal(ctx context.Context, id string) (models.Signal, error)
	GetSubscriptionByPair(ctx context.Context, masterID, slaveID string) (*models.Subscription, error)
}

// Handler обслуживает WebSocket соединения торговых терминалов
type Handler struct {
	registry *relay.Registry
	router   *relay.Router
	engine   *relay.Engine
	store    TradeStore
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler создает WebSocket обработчик
func NewHandler(registry *relay.Registry, router *relay.Router, engine *relay.Engine, store TradeStore, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		router:   router,
		engine:   engine,
		store:    store,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP - точка входа терминалов: GET /ws/copy-trading
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	sess := newSession(conn, h.logger)

	handle, err := h.authenticate(r.Context(), conn, sess)
	if err != nil {
		h.sendError(sess, err)
		sess.Close("authentication failed")

		return
	}

	h.sendAck(sess, protocol.TypeAuthenticate)

	h.logger.Info("🔌 Terminal connected",
		slog.String("account", handle.AccountID),
		slog.String("type", string(handle.AccountType)))

	h.readLoop(conn, sess, handle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Адресное закрытие: сессия, вытесненная переподключением, не
	// снимает с регистрации сменившую ее сессию
	if err := h.registry.DisconnectSession(ctx, handle.AccountID, sess, "connection closed"); err != nil {
		h.logger.Error("Disconnect error", slog.String("account", handle.AccountID), slog.Any("error", err))
	}

	sess.Close("connection closed")
}

// authenticate читает первое сообщение соединения. Все, кроме
// валидного AUTHENTICATE, закрывает соединение.
func (h *Handler) authenticate(ctx context.Context, conn *websocket.Conn, sess *session) (*relay.SessionHandle, error) {
	conn.SetReadDeadline(time.Now().Add(authTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, relay.ErrAuth
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, relay.ErrAuth
	}

	auth, ok := msg.(protocol.Authenticate)
	if !ok {
		return nil, relay.ErrAuth
	}

	accountType := models.AccountType(auth.AccountType)
	if !accountType.Valid() {
		return nil, relay.ErrAuth
	}

	return h.registry.Register(ctx, auth.AccountID, accountType, auth.Credentials, sess)
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *session, handle *relay.SessionHandle) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("WebSocket read error",
					slog.String("account", handle.AccountID), slog.Any("error", err))
			}

			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := protocol.Decode(data)
		if err != nil {
			h.logger.Debug("Malformed message",
				slog.String("account", handle.AccountID), slog.Any("error", err))
			h.send(sess, protocol.NewError(protocol.CodeValidation, err.Error()))

			continue
		}

		h.dispatch(sess, handle, msg)
	}
}

// dispatch обрабатывает одно сообщение аутентифицированного терминала
func (h *Handler) dispatch(sess *session, handle *relay.SessionHandle, msg protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch m := msg.(type) {
	case protocol.Authenticate:
		h.send(sess, protocol.NewError(protocol.CodeValidation, "already authenticated"))

	case protocol.AccountHeartbeat:
		// Терминал отчитывается только за свой аккаунт
		if m.AccountID != handle.AccountID {
			h.send(sess, protocol.NewError(protocol.CodeForbidden, "heartbeat for foreign account"))
			return
		}

		err := h.registry.Heartbeat(ctx, handle.AccountID, relay.HeartbeatMetrics{
			Balance:            m.Balance,
			Equity:             m.Equity,
			OpenPositionsCount: m.OpenPositionsCount,
		})
		if err != nil {
			h.sendError(sess, err)
		}

	case protocol.NewMasterSignal:
		h.handleSignal(ctx, sess, handle, m)

	case protocol.TradeResult:
		h.handleTradeResult(ctx, sess, handle, m)
	}
}

func (h *Handler) handleSignal(ctx context.Context, sess *session, handle *relay.SessionHandle, m protocol.NewMasterSignal) {
	if handle.AccountType != models.AccountTypeMaster {
		h.send(sess, protocol.NewError(protocol.CodeForbidden, "only master accounts publish signals"))
		return
	}

	if m.MasterAccountID != handle.AccountID {
		h.send(sess, protocol.NewError(protocol.CodeForbidden, "signal for foreign account"))
		return
	}

	result, err := h.router.ReceiveSignal(ctx, handle.AccountID, relay.RawSignal{
		Symbol:     m.Symbol,
		OrderType:  models.OrderType(m.OrderType),
		Volume:     m.Volume,
		OpenPrice:  m.OpenPrice,
		StopLoss:   m.StopLoss,
		TakeProfit: m.TakeProfit,
	})
	if err != nil {
		h.sendError(sess, err)
		return
	}

	h.send(sess, protocol.NewSignalAccepted(result.SignalID, result.SequenceNumber, result.Subscribers, result.Duplicate))
}

// handleTradeResult коррелирует отчет slave с сигналом и подпиской
// и передает его в движок комиссий
func (h *Handler) handleTradeResult(ctx context.Context, sess *session, handle *relay.SessionHandle, m protocol.TradeResult) {
	if handle.AccountType != models.AccountTypeSlave {
		h.send(sess, protocol.NewError(protocol.CodeForbidden, "only slave accounts report trades"))
		return
	}

	sig, err := h.store.GetSignal(ctx, m.SignalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.send(sess, protocol.NewError(protocol.CodeValidation, "unknown signal"))
		} else {
			h.sendError(sess, err)
		}

		return
	}

	sub, err := h.store.GetSubscriptionByPair(ctx, sig.MasterAccountID, handle.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.send(sess, protocol.NewError(protocol.CodeForbidden, "no subscription for this signal"))
		} else {
			h.sendError(sess, err)
		}

		return
	}

	if _, err := h.engine.RecordTradeResult(ctx, sub.ID, m.TradeID, m.GrossAmount); err != nil {
		h.sendError(sess, err)
		return
	}

	h.sendAck(sess, protocol.TypeTradeResult)
}

func (h *Handler) send(sess *session, msg any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sess.Send(ctx, msg); err != nil {
		h.logger.Debug("WebSocket send error", slog.Any("error", err))
	}
}

func (h *Handler) sendAck(sess *session, of string) {
	h.send(sess, protocol.NewAck(of))
}

// sendError переводит доменную ошибку в ERROR сообщение протокола
func (h *Handler) sendError(sess *session, err error) {
	code := protocol.CodeInternal

	switch {
	case errors.Is(err, relay.ErrAuth):
		code = protocol.CodeAuthFailed
	case errors.Is(err, relay.ErrUnknownAccount):
		code = protocol.CodeUnknownAccount
	case errors.Is(err, relay.ErrValidation):
		code = protocol.CodeValidation
	case errors.Is(err, relay.ErrDuplicateTrade):
		code = protocol.CodeDuplicateTrade
	case errors.Is(err, relay.ErrIllegalState):
		code = protocol.CodeValidation
	case errors.Is(err, relay.ErrOverCapacity):
		code = protocol.CodeOverCapacity
	}

	if code == protocol.CodeInternal {
		h.logger.Error("Internal error", slog.Any("error", err))
		h.send(sess, protocol.NewError(code, "internal error"))

		return
	}

	h.send(sess, protocol.NewError(code, err.Error()))
}
