package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/storage"
)

// AccountStore - интерфейс хранилища аккаунтов для реестра
type AccountStore interface {
	UpsertAccount(ctx context.Context, acc models.Account) error
	GetAccountProfile(ctx context.Context, accountID string) (*models.AccountProfile, error)
	UpdateAccountStatus(ctx context.Context, accountID string, status models.AccountStatus) error
	UpdateAccountHeartbeat(ctx context.Context, accountID string, at time.Time, balance, equity float64) error
}

// CredentialValidator проверяет учетные данные терминала.
// Политика аутентификации живет снаружи, реестр знает только bool.
type CredentialValidator interface {
	Validate(ctx context.Context, accountID, credentials string) bool
}

// Sender - способ доставить сообщение живому терминалу.
// Реализуется WebSocket сессией.
type Sender interface {
	Send(ctx context.Context, msg any) error
	Close(reason string)
}

// HeartbeatMetrics - метрики терминала из ACCOUNT_HEARTBEAT
type HeartbeatMetrics struct {
	Balance            float64
	Equity             float64
	OpenPositionsCount int
}

// PresenceFunc вызывается при каждом изменении статуса присутствия
type PresenceFunc func(accountID string, accountType models.AccountType, status models.AccountStatus)

// SessionHandle - ссылка на живую сессию терминала
type SessionHandle struct {
	AccountID   string
	AccountType models.AccountType
	UserID      int64
	sender      Sender
}

// Deliver отправляет сообщение терминалу этой сессии
func (h *SessionHandle) Deliver(ctx context.Context, msg any) error {
	return h.sender.Send(ctx, msg)
}

// accountEntry - состояние одного аккаунта в реестре.
// Мутации одного аккаунта сериализуются через mu, разные аккаунты
// друг друга не блокируют.
type accountEntry struct {
	mu            sync.Mutex
	accountID     string
	accountType   models.AccountType
	userID        int64
	status        models.AccountStatus
	lastHeartbeat time.Time
	sender        Sender
}

// Registry - единственный источник правды о том, достижим ли терминал
// аккаунта и как отправить ему сообщение. Создается при старте сервиса
// и передается в Router/Monitor явно.
type Registry struct {
	store      AccountStore
	validator  CredentialValidator
	logger     *slog.Logger
	onPresence PresenceFunc

	mu      sync.RWMutex
	entries map[string]*accountEntry
}

// NewRegistry создает реестр соединений
func NewRegistry(store AccountStore, validator CredentialValidator, logger *slog.Logger) *Registry {
	return &Registry{
		store:     store,
		validator: validator,
		logger:    logger,
		entries:   make(map[string]*accountEntry),
	}
}

// SetPresenceHandler устанавливает обработчик изменений присутствия.
// Вызывать до начала приема соединений.
func (r *Registry) SetPresenceHandler(fn PresenceFunc) {
	r.onPresence = fn
}

func (r *Registry) emitPresence(accountID string, accountType models.AccountType, status models.AccountStatus) {
	if r.onPresence != nil {
		r.onPresence(accountID, accountType, status)
	}
}

// Register аутентифицирует терминал и регистрирует живую сессию.
// При неверных учетных данных возвращает ErrAuth, аккаунт не создается.
// Успех переводит аккаунт в connected из любого состояния.
func (r *Registry) Register(ctx context.Context, accountID string, accountType models.AccountType, credentials string, sender Sender) (*SessionHandle, error) {
	if accountID == "" || !accountType.Valid() {
		return nil, fmt.Errorf("%w: bad account id or type", ErrAuth)
	}

	if !r.validator.Validate(ctx, accountID, credentials) {
		r.logger.Warn("Authentication rejected", slog.String("account", accountID))
		return nil, ErrAuth
	}

	profile, err := r.store.GetAccountProfile(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAuth
		}

		return nil, fmt.Errorf("failed to load account profile: %w", err)
	}

	// Учетные данные master не дают подключиться как slave и наоборот
	if profile.Type != accountType {
		r.logger.Warn("Account type mismatch on authenticate",
			slog.String("account", accountID),
			slog.String("claimed", string(accountType)),
			slog.String("provisioned", string(profile.Type)))

		return nil, ErrAuth
	}

	now := time.Now()

	// Аккаунт создается при первом AUTHENTICATE и никогда не удаляется
	if err := r.store.UpsertAccount(ctx, models.Account{
		ID:              accountID,
		UserID:          profile.UserID,
		Type:            accountType,
		Broker:          profile.Broker,
		Status:          models.StatusConnected,
		LastHeartbeatAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist account: %w", err)
	}

	// Поиск записи и подмена сессии - одна операция под r.mu, иначе
	// гонка с disconnect может оставить сессию на снятой записи
	r.mu.Lock()
	entry, ok := r.entries[accountID]
	if !ok {
		entry = &accountEntry{
			accountID:   accountID,
			accountType: accountType,
			userID:      profile.UserID,
		}
		r.entries[accountID] = entry
	}

	entry.mu.Lock()
	previous := entry.sender
	entry.status = models.StatusConnected
	entry.lastHeartbeat = now
	entry.sender = sender
	entry.mu.Unlock()
	r.mu.Unlock()

	// Переподключение вытесняет старую сессию того же аккаунта
	if previous != nil && previous != sender {
		previous.Close("replaced by new connection")
	}

	r.logger.Info("✅ Terminal registered",
		slog.String("account", accountID),
		slog.String("type", string(accountType)))

	r.emitPresence(accountID, accountType, models.StatusConnected)

	return &SessionHandle{
		AccountID:   accountID,
		AccountType: accountType,
		UserID:      profile.UserID,
		sender:      sender,
	}, nil
}

// Heartbeat обновляет отметку живости и снимок баланса.
// Возвращает ErrUnknownAccount если аккаунт не зарегистрирован.
// Stale аккаунт возвращается в connected.
func (r *Registry) Heartbeat(ctx context.Context, accountID string, metrics HeartbeatMetrics) error {
	r.mu.RLock()
	entry, ok := r.entries[accountID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	now := time.Now()

	entry.mu.Lock()
	wasStale := entry.status == models.StatusStale
	entry.status = models.StatusConnected
	entry.lastHeartbeat = now
	accountType := entry.accountType
	entry.mu.Unlock()

	if err := r.store.UpdateAccountHeartbeat(ctx, accountID, now, metrics.Balance, metrics.Equity); err != nil {
		return fmt.Errorf("failed to persist heartbeat: %w", err)
	}

	if wasStale {
		r.logger.Info("Terminal recovered from stale", slog.String("account", accountID))
		r.emitPresence(accountID, accountType, models.StatusConnected)
	}

	return nil
}

// Lookup возвращает сессию аккаунта, если терминал зарегистрирован
func (r *Registry) Lookup(accountID string) (*SessionHandle, bool) {
	r.mu.RLock()
	entry, ok := r.entries[accountID]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.sender == nil {
		return nil, false
	}

	return &SessionHandle{
		AccountID:   entry.accountID,
		AccountType: entry.accountType,
		UserID:      entry.userID,
		sender:      entry.sender,
	}, true
}

// Status возвращает текущий статус присутствия аккаунта
func (r *Registry) Status(accountID string) (models.AccountStatus, bool) {
	r.mu.RLock()
	entry, ok := r.entries[accountID]
	r.mu.RUnlock()

	if !ok {
		return models.StatusOffline, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.status, true
}

// Disconnect - явное закрытие: аккаунт сразу переходит в offline
// и снимается с регистрации
func (r *Registry) Disconnect(ctx context.Context, accountID, reason string) error {
	return r.disconnect(ctx, accountID, reason, nil)
}

// DisconnectSession снимает аккаунт с регистрации, только если sender
// все еще его текущая сессия. Сессия, вытесненная переподключением
// или уже снятая монитором, ничего не делает: ее закрытие не должно
// ронять новую сессию того же аккаунта.
func (r *Registry) DisconnectSession(ctx context.Context, accountID string, sender Sender, reason string) error {
	return r.disconnect(ctx, accountID, reason, sender)
}

// disconnect выполняет снятие с регистрации. При only != nil запись
// снимается, только если ее сессия - именно only. Проверка сессии и
// удаление из map держат r.mu, Register не может вклиниться между ними.
func (r *Registry) disconnect(ctx context.Context, accountID, reason string, only Sender) error {
	r.mu.Lock()
	entry, ok := r.entries[accountID]
	if !ok {
		r.mu.Unlock()

		// Для адресного закрытия отсутствие записи - ожидаемый исход:
		// монитор уже снял аккаунт по таймауту heartbeat
		if only != nil {
			return nil
		}

		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	entry.mu.Lock()
	if only != nil && entry.sender != only {
		entry.mu.Unlock()
		r.mu.Unlock()

		return nil
	}

	delete(r.entries, accountID)
	r.mu.Unlock()

	entry.status = models.StatusOffline
	sender := entry.sender
	entry.sender = nil
	accountType := entry.accountType
	entry.mu.Unlock()

	if sender != nil {
		sender.Close(reason)
	}

	if err := r.store.UpdateAccountStatus(ctx, accountID, models.StatusOffline); err != nil {
		r.logger.Error("Failed to persist offline status",
			slog.String("account", accountID),
			slog.Any("error", err))
	}

	r.logger.Info("Terminal disconnected",
		slog.String("account", accountID),
		slog.String("reason", reason))

	r.emitPresence(accountID, accountType, models.StatusOffline)

	return nil
}

// SnapshotIDs возвращает снимок id зарегистрированных аккаунтов.
// Монитор оценивает живость по снимку, не держа блокировку реестра.
func (r *Registry) SnapshotIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}

	return ids
}

// EvaluateLiveness проверяет один аккаунт на устаревание heartbeat.
// connected -> stale после staleAfter, stale -> offline после еще
// offlineAfter. Переход в offline снимает аккаунт с регистрации.
func (r *Registry) EvaluateLiveness(ctx context.Context, accountID string, now time.Time, staleAfter, offlineAfter time.Duration) {
	r.mu.RLock()
	entry, ok := r.entries[accountID]
	r.mu.RUnlock()

	if !ok {
		return
	}

	entry.mu.Lock()
	silence := now.Sub(entry.lastHeartbeat)

	switch {
	case entry.status == models.StatusConnected && silence > staleAfter:
		entry.status = models.StatusStale
		accountType := entry.accountType
		entry.mu.Unlock()

		if err := r.store.UpdateAccountStatus(ctx, accountID, models.StatusStale); err != nil {
			r.logger.Error("Failed to persist stale status",
				slog.String("account", accountID),
				slog.Any("error", err))
		}

		r.logger.Warn("⚠️ Terminal went stale",
			slog.String("account", accountID),
			slog.Duration("silence", silence))

		r.emitPresence(accountID, accountType, models.StatusStale)

	case entry.status == models.StatusStale && silence > staleAfter+offlineAfter:
		entry.mu.Unlock()

		// Дальше обычный путь явного закрытия
		_ = r.Disconnect(ctx, accountID, "heartbeat timeout")

	default:
		entry.mu.Unlock()
	}
}
