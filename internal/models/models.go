package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType - тип торгового аккаунта
type AccountType string

const (
	AccountTypeMaster AccountType = "master"
	AccountTypeSlave  AccountType = "slave"
)

// Valid проверяет, что тип аккаунта известен
func (t AccountType) Valid() bool {
	return t == AccountTypeMaster || t == AccountTypeSlave
}

// AccountStatus - статус присутствия терминала
type AccountStatus string

const (
	StatusConnected AccountStatus = "connected"
	StatusStale     AccountStatus = "stale"
	StatusOffline   AccountStatus = "offline"
)

// OrderType - тип торговой операции в сигнале
type OrderType string

const (
	OrderBuy   OrderType = "BUY"
	OrderSell  OrderType = "SELL"
	OrderClose OrderType = "CLOSE"
)

// Valid проверяет, что тип ордера известен
func (t OrderType) Valid() bool {
	switch t {
	case OrderBuy, OrderSell, OrderClose:
		return true
	}

	return false
}

// Account представляет торговый аккаунт терминала.
// Создается при первом успешном AUTHENTICATE и никогда не удаляется,
// только деактивируется. Статус меняют только Connection Registry и
// Heartbeat Monitor.
type Account struct {
	ID              string        `json:"id"`
	Type            AccountType   `json:"type"`
	UserID          int64         `json:"user_id"`
	Broker          string        `json:"broker"`
	Status          AccountStatus `json:"status"`
	LastHeartbeatAt time.Time     `json:"last_heartbeat_at"`
	Balance         float64       `json:"balance"` // Последний снимок из heartbeat
	Equity          float64       `json:"equity"`
	Deactivated     bool          `json:"deactivated"`
	CreatedAt       time.Time     `json:"created_at"`
}

// AccountProfile - провизия аккаунта: владелец, тип, брокер, хеш секрета.
// Создается через REST API до первого подключения терминала.
type AccountProfile struct {
	AccountID  string      `json:"account_id"`
	UserID     int64       `json:"user_id"`
	Type       AccountType `json:"type"`
	Broker     string      `json:"broker"`
	SecretHash string      `json:"-"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Subscription - подписка slave аккаунта на сигналы master аккаунта
type Subscription struct {
	ID               string    `json:"id"`
	MasterAccountID  string    `json:"master_account_id"`
	SlaveAccountID   string    `json:"slave_account_id"`
	SubscriberUserID int64     `json:"subscriber_user_id"`
	FeeBps           int64     `json:"fee_bps"`
	LotMultiplier    float64   `json:"lot_multiplier"`
	Enabled          bool      `json:"enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// Signal - торговая инструкция от master. Неизменяем после записи.
// SequenceNumber строго возрастает в рамках одного master.
type Signal struct {
	ID              string    `json:"id"`
	MasterAccountID string    `json:"master_account_id"`
	Symbol          string    `json:"symbol"`
	OrderType       OrderType `json:"order_type"`
	Volume          float64   `json:"volume"`
	OpenPrice       float64   `json:"open_price"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit      float64   `json:"take_profit"`
	SequenceNumber  int64     `json:"sequence_number"`
	CreatedAt       time.Time `json:"created_at"`
}

// DeliveryStatus - результат попытки доставки сигнала slave аккаунту
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery - единственная попытка доставки (signal, slave).
// Повторных попыток нет, поэтому других статусов не существует.
type Delivery struct {
	SignalID       string         `json:"signal_id"`
	SlaveAccountID string         `json:"slave_account_id"`
	Status         DeliveryStatus `json:"status"`
	DeliveredAt    time.Time      `json:"delivered_at"`
}

// CommissionStatus - статус записи комиссии
type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
)

// CommissionEntry - запись в леджере комиссий. Уникальна по
// (subscription, trade), переходит pending -> paid ровно один раз.
type CommissionEntry struct {
	ID               string           `json:"id"`
	SubscriptionID   string           `json:"subscription_id"`
	TradeID          string           `json:"trade_id"`
	Amount           decimal.Decimal  `json:"amount"`
	PlatformFee      decimal.Decimal  `json:"platform_fee"`
	ProviderEarnings decimal.Decimal  `json:"provider_earnings"`
	Status           CommissionStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
}

// EarningsSummary - сводка заработка провайдера сигналов.
// Считается суммированием записей леджера, отдельных счетчиков нет.
type EarningsSummary struct {
	TotalEarnings         decimal.Decimal `json:"total_earnings"`
	PendingEarnings       decimal.Decimal `json:"pending_earnings"`
	PaidEarnings          decimal.Decimal `json:"paid_earnings"`
	ActiveSubscriberCount int             `json:"active_subscriber_count"`
}

// User - пользователь веб-приложения (владелец аккаунтов)
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
