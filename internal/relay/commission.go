package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionStore - интерфейс хранилища комиссий
type CommissionStore interface {
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	CreateCommissionEntry(ctx context.Context, entry models.CommissionEntry) error
	GetCommissionEntry(ctx context.Context, id string) (*models.CommissionEntry, error)
	GetCommissionEntryByTrade(ctx context.Context, subscriptionID, tradeID string) (*models.CommissionEntry, error)
	MarkCommissionPaid(ctx context.Context, id string, paidAt time.Time) error
	AggregateProviderEarnings(ctx context.Context, providerUserID int64) (models.EarningsSummary, error)
}

var basisPointDivisor = decimal.NewFromInt(10000)

// EventFunc вызывается после записи и после выплаты комиссии
type EventFunc func(title, details string)

// Engine считает и учитывает комиссии со скопированных сделок.
// Вся арифметика на decimal, float для денег не используется.
type Engine struct {
	store   CommissionStore
	logger  *slog.Logger
	onEvent EventFunc
}

// NewEngine создает движок комиссий
func NewEngine(store CommissionStore, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// SetEventHandler устанавливает обработчик событий леджера
func (e *Engine) SetEventHandler(fn EventFunc) {
	e.onEvent = fn
}

func (e *Engine) emit(title, details string) {
	if e.onEvent != nil {
		e.onEvent(title, details)
	}
}

// RecordTradeResult - учет результата скопированной сделки.
// tradeID уникален внутри подписки: повторный отчет по той же сделке
// отклоняется, двойного начисления комиссии не бывает.
//
// Разбиение: platformFee = gross * feeBps / 10000, округление до
// 2 знаков half-up. providerEarnings = gross - platformFee, сумма
// частей всегда равна gross.
func (e *Engine) RecordTradeResult(ctx context.Context, subscriptionID, tradeID string, gross decimal.Decimal) (models.CommissionEntry, error) {
	if tradeID == "" {
		return models.CommissionEntry{}, fmt.Errorf("%w: empty trade id", ErrValidation)
	}

	if gross.IsNegative() {
		return models.CommissionEntry{}, fmt.Errorf("%w: gross amount must not be negative", ErrValidation)
	}

	sub, err := e.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.CommissionEntry{}, fmt.Errorf("%w: subscription %s", ErrUnknownAccount, subscriptionID)
		}

		return models.CommissionEntry{}, fmt.Errorf("failed to load subscription: %w", err)
	}

	if _, err := e.store.GetCommissionEntryByTrade(ctx, subscriptionID, tradeID); err == nil {
		return models.CommissionEntry{}, fmt.Errorf("%w: trade %s already recorded", ErrDuplicateTrade, tradeID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.CommissionEntry{}, fmt.Errorf("failed to check trade uniqueness: %w", err)
	}

	feeRate := decimal.NewFromInt(sub.FeeBps).Div(basisPointDivisor)
	platformFee := gross.Mul(feeRate).Round(2)
	providerEarnings := gross.Sub(platformFee)

	entry := models.CommissionEntry{
		ID:               uuid.NewString(),
		SubscriptionID:   subscriptionID,
		TradeID:          tradeID,
		Amount:           gross,
		PlatformFee:      platformFee,
		ProviderEarnings: providerEarnings,
		Status:           models.CommissionPending,
		CreatedAt:        time.Now(),
	}

	if err := e.store.CreateCommissionEntry(ctx, entry); err != nil {
		// Гонка двух соединений: вставку выиграл параллельный отчет
		// по той же сделке, UNIQUE(subscription_id, trade_id) устоял
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.CommissionEntry{}, fmt.Errorf("%w: trade %s already recorded", ErrDuplicateTrade, tradeID)
		}

		return models.CommissionEntry{}, fmt.Errorf("failed to persist commission entry: %w", err)
	}

	e.logger.Info("Commission recorded",
		slog.String("subscription", subscriptionID),
		slog.String("trade", tradeID),
		slog.String("gross", gross.String()),
		slog.String("platform_fee", platformFee.String()),
		slog.String("provider_earnings", providerEarnings.String()))

	e.emit("Commission recorded", "trade "+tradeID+": fee "+platformFee.String()+", earnings "+providerEarnings.String())

	return entry, nil
}

// MarkPaid переводит запись комиссии из pending в paid.
// Переход выполняется ровно один раз, повторная попытка - ошибка.
func (e *Engine) MarkPaid(ctx context.Context, entryID string) (models.CommissionEntry, error) {
	entry, err := e.store.GetCommissionEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.CommissionEntry{}, fmt.Errorf("%w: commission entry %s", ErrIllegalState, entryID)
		}

		return models.CommissionEntry{}, fmt.Errorf("failed to load commission entry: %w", err)
	}

	if entry.Status == models.CommissionPaid {
		return models.CommissionEntry{}, fmt.Errorf("%w: commission entry %s already paid", ErrIllegalState, entryID)
	}

	paidAt := time.Now()

	if err := e.store.MarkCommissionPaid(ctx, entryID, paidAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Гонка с параллельной выплатой: выиграл кто-то другой
			return models.CommissionEntry{}, fmt.Errorf("%w: commission entry %s already paid", ErrIllegalState, entryID)
		}

		return models.CommissionEntry{}, fmt.Errorf("failed to mark commission paid: %w", err)
	}

	entry.Status = models.CommissionPaid
	entry.PaidAt = &paidAt

	e.logger.Info("Commission paid", slog.String("entry", entryID))

	e.emit("Commission paid", "entry "+entryID+": "+entry.ProviderEarnings.String())

	return *entry, nil
}

// Earnings - агрегированная сводка заработка провайдера сигналов
func (e *Engine) Earnings(ctx context.Context, providerUserID int64) (models.EarningsSummary, error) {
	summary, err := e.store.AggregateProviderEarnings(ctx, providerUserID)
	if err != nil {
		return models.EarningsSummary{}, fmt.Errorf("failed to aggregate earnings: %w", err)
	}

	return summary, nil
}
