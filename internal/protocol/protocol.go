// Package protocol описывает JSON конверт сообщений WebSocket канала.
// Каждое сообщение - объект с дискриминатором type; входящие
// декодируются один раз на границе в закрытое множество типов.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Дискриминаторы сообщений
const (
	TypeAuthenticate     = "AUTHENTICATE"
	TypeAccountHeartbeat = "ACCOUNT_HEARTBEAT"
	TypeNewMasterSignal  = "NEW_MASTER_SIGNAL"
	TypeTradeResult      = "TRADE_RESULT"

	TypeSignalDelivered = "SIGNAL_DELIVERED"
	TypePresenceChanged = "PRESENCE_CHANGED"
	TypeSignalAccepted  = "SIGNAL_ACCEPTED"
	TypeAck             = "ACK"
	TypeError           = "ERROR"
)

// Message - закрытое множество входящих сообщений (client -> server)
type Message interface {
	isMessage()
}

// Authenticate - первое сообщение соединения
type Authenticate struct {
	AccountID   string `json:"accountId"`
	AccountType string `json:"accountType"`
	Credentials string `json:"credentials"`
}

// AccountHeartbeat - периодический отчет живости и баланса
type AccountHeartbeat struct {
	AccountID          string  `json:"accountId"`
	Balance            float64 `json:"balance"`
	Equity             float64 `json:"equity"`
	OpenPositionsCount int     `json:"openPositionsCount"`
}

// NewMasterSignal - торговая инструкция от master терминала
type NewMasterSignal struct {
	MasterAccountID string  `json:"masterAccountId"`
	Symbol          string  `json:"symbol"`
	OrderType       string  `json:"orderType"`
	Volume          float64 `json:"volume"`
	OpenPrice       float64 `json:"openPrice"`
	StopLoss        float64 `json:"stopLoss"`
	TakeProfit      float64 `json:"takeProfit"`
}

// TradeResult - отчет slave терминала об исполненной зеркальной сделке,
// питает леджер комиссий
type TradeResult struct {
	SignalID    string          `json:"signalId"`
	TradeID     string          `json:"tradeId"`
	GrossAmount decimal.Decimal `json:"grossAmount"`
}

func (Authenticate) isMessage()     {}
func (AccountHeartbeat) isMessage() {}
func (NewMasterSignal) isMessage()  {}
func (TradeResult) isMessage()      {}

// envelope используется только для чтения дискриминатора
type envelope struct {
	Type string `json:"type"`
}

// Decode разбирает входящее сообщение по дискриминатору.
// Неизвестный type - ошибка, динамических веток по строкам дальше нет.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch env.Type {
	case TypeAuthenticate:
		var msg Authenticate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		return msg, nil

	case TypeAccountHeartbeat:
		var msg AccountHeartbeat
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		return msg, nil

	case TypeNewMasterSignal:
		var msg NewMasterSignal
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		return msg, nil

	case TypeTradeResult:
		var msg TradeResult
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		return msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %q", env.Type)
	}
}

// --- Исходящие сообщения (server -> client) ---

// SignalDelivered - сигнал, доставляемый slave терминалу.
// Volume уже умножен на lotMultiplier подписки.
type SignalDelivered struct {
	Type            string  `json:"type"`
	SignalID        string  `json:"signalId"`
	MasterAccountID string  `json:"masterAccountId"`
	Symbol          string  `json:"symbol"`
	OrderType       string  `json:"orderType"`
	Volume          float64 `json:"volume"`
	SequenceNumber  int64   `json:"sequenceNumber"`
}

// NewSignalDelivered собирает SIGNAL_DELIVERED
func NewSignalDelivered(signalID, masterID, symbol, orderType string, volume float64, seq int64) SignalDelivered {
	return SignalDelivered{
		Type:            TypeSignalDelivered,
		SignalID:        signalID,
		MasterAccountID: masterID,
		Symbol:          symbol,
		OrderType:       orderType,
		Volume:          volume,
		SequenceNumber:  seq,
	}
}

// PresenceChanged - уведомление подписчиков об изменении присутствия
type PresenceChanged struct {
	Type      string `json:"type"`
	AccountID string `json:"accountId"`
	Status    string `json:"status"`
}

// NewPresenceChanged собирает PRESENCE_CHANGED
func NewPresenceChanged(accountID, status string) PresenceChanged {
	return PresenceChanged{
		Type:      TypePresenceChanged,
		AccountID: accountID,
		Status:    status,
	}
}

// SignalAccepted - синхронный ответ master на NEW_MASTER_SIGNAL
type SignalAccepted struct {
	Type           string `json:"type"`
	SignalID       string `json:"signalId"`
	SequenceNumber int64  `json:"sequenceNumber"`
	Subscribers    int    `json:"subscribers"`
	Duplicate      bool   `json:"duplicate"`
}

// NewSignalAccepted собирает SIGNAL_ACCEPTED
func NewSignalAccepted(signalID string, seq int64, subscribers int, duplicate bool) SignalAccepted {
	return SignalAccepted{
		Type:           TypeSignalAccepted,
		SignalID:       signalID,
		SequenceNumber: seq,
		Subscribers:    subscribers,
		Duplicate:      duplicate,
	}
}

// Ack - подтверждение входящего сообщения
type Ack struct {
	Type string `json:"type"`
	Of   string `json:"of"`
}

// NewAck собирает ACK на сообщение типа of
func NewAck(of string) Ack {
	return Ack{Type: TypeAck, Of: of}
}

// ErrorMessage - синхронная ошибка в ответ отправителю.
// Терминал видит только результат собственной отправки, детали
// доставки другим получателям сюда не попадают.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Коды ошибок протокола
const (
	CodeAuthFailed       = "auth_failed"
	CodeNotAuthenticated = "not_authenticated"
	CodeForbidden        = "forbidden"
	CodeValidation       = "validation_failed"
	CodeOverCapacity     = "over_capacity"
	CodeDuplicateTrade   = "duplicate_trade"
	CodeUnknownAccount   = "unknown_account"
	CodeInternal         = "internal_error"
)

// NewError собирает ERROR
func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}
