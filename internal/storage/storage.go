package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"copyrelay/internal/models"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// ErrNotFound возвращается когда запись отсутствует в БД
var ErrNotFound = errors.New("not found")

// Storage управляет базой данных релея
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// New создает новый экземпляр Storage
func New(dbPath string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// sqlite: один writer, последовательный доступ
	db.SetMaxOpenConns(1)

	storage := &Storage{
		db:     db,
		logger: logger,
	}

	if err := storage.init(); err != nil {
		return nil, err
	}

	return storage, nil
}

// init инициализирует таблицы БД
func (s *Storage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS account_profiles (
			account_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			broker TEXT NOT NULL DEFAULT '',
			secret_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_user ON account_profiles(user_id);

		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			broker TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			last_heartbeat_at DATETIME,
			balance REAL DEFAULT 0,
			equity REAL DEFAULT 0,
			deactivated INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			master_account_id TEXT NOT NULL,
			slave_account_id TEXT NOT NULL,
			subscriber_user_id INTEGER NOT NULL,
			fee_bps INTEGER NOT NULL,
			lot_multiplier REAL NOT NULL DEFAULT 1.0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_master ON subscriptions(master_account_id);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(subscriber_user_id);

		CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			master_account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			order_type TEXT NOT NULL,
			volume REAL NOT NULL,
			open_price REAL DEFAULT 0,
			stop_loss REAL DEFAULT 0,
			take_profit REAL DEFAULT 0,
			sequence_number INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(master_account_id, sequence_number)
		);

		CREATE INDEX IF NOT EXISTS idx_signals_master ON signals(master_account_id, sequence_number DESC);

		CREATE TABLE IF NOT EXISTS deliveries (
			signal_id TEXT NOT NULL,
			slave_account_id TEXT NOT NULL,
			status TEXT NOT NULL,
			delivered_at DATETIME NOT NULL,
			PRIMARY KEY(signal_id, slave_account_id)
		);

		CREATE TABLE IF NOT EXISTS commission_entries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			platform_fee TEXT NOT NULL,
			provider_earnings TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			paid_at DATETIME,
			UNIQUE(subscription_id, trade_id)
		);

		CREATE INDEX IF NOT EXISTS idx_commissions_subscription ON commission_entries(subscription_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	s.logger.Info("✅ Database initialized")

	return nil
}

// Close закрывает соединение с БД
func (s *Storage) Close() error {
	return s.db.Close()
}

// --- Users ---

// CreateUser создает пользователя веб-приложения
func (s *Storage) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	return res.LastInsertId()
}

// GetUserByUsername возвращает пользователя по имени
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User

	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// --- Account profiles (провизия учетных данных) ---

// CreateAccountProfile сохраняет провизию аккаунта
func (s *Storage) CreateAccountProfile(ctx context.Context, p models.AccountProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_profiles (account_id, user_id, type, broker, secret_hash)
		VALUES (?, ?, ?, ?, ?)
	`, p.AccountID, p.UserID, string(p.Type), p.Broker, p.SecretHash)
	if err != nil {
		return fmt.Errorf("failed to create account profile: %w", err)
	}

	return nil
}

// GetAccountProfile возвращает провизию аккаунта
func (s *Storage) GetAccountProfile(ctx context.Context, accountID string) (*models.AccountProfile, error) {
	var p models.AccountProfile
	var typ string

	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, user_id, type, broker, secret_hash, created_at
		FROM account_profiles WHERE account_id = ?
	`, accountID).Scan(&p.AccountID, &p.UserID, &typ, &p.Broker, &p.SecretHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Type = models.AccountType(typ)

	return &p, nil
}

// --- Accounts (presence) ---

// UpsertAccount создает запись аккаунта или обновляет статус существующей.
// Вызывается Connection Registry при успешном AUTHENTICATE.
func (s *Storage) UpsertAccount(ctx context.Context, acc models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, type, broker, status, last_heartbeat_at, balance, equity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_heartbeat_at = excluded.last_heartbeat_at
	`, acc.ID, acc.UserID, string(acc.Type), acc.Broker, string(acc.Status),
		acc.LastHeartbeatAt, acc.Balance, acc.Equity)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	return nil
}

// GetAccount возвращает аккаунт по id
func (s *Storage) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var acc models.Account
	var typ, status string
	var lastHB sql.NullTime
	var deactivated int

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, broker, status, last_heartbeat_at,
		       balance, equity, deactivated, created_at
		FROM accounts WHERE id = ?
	`, accountID).Scan(&acc.ID, &acc.UserID, &typ, &acc.Broker, &status,
		&lastHB, &acc.Balance, &acc.Equity, &deactivated, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	acc.Type = models.AccountType(typ)
	acc.Status = models.AccountStatus(status)
	acc.Deactivated = deactivated == 1
	if lastHB.Valid {
		acc.LastHeartbeatAt = lastHB.Time
	}

	return &acc, nil
}

// UpdateAccountStatus обновляет статус присутствия аккаунта
func (s *Storage) UpdateAccountStatus(ctx context.Context, accountID string, status models.AccountStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = ? WHERE id = ?`, string(status), accountID)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}

	return nil
}

// UpdateAccountHeartbeat обновляет отметку heartbeat и снимок баланса
func (s *Storage) UpdateAccountHeartbeat(ctx context.Context, accountID string, at time.Time, balance, equity float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = ?, last_heartbeat_at = ?, balance = ?, equity = ?
		WHERE id = ?
	`, string(models.StatusConnected), at, balance, equity, accountID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	return nil
}

// DeactivateAccount помечает аккаунт деактивированным (записи не удаляются)
func (s *Storage) DeactivateAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET deactivated = 1 WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}

	return nil
}

// ListAccountsByUser возвращает аккаунты пользователя
func (s *Storage) ListAccountsByUser(ctx context.Context, userID int64) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, broker, status, last_heartbeat_at,
		       balance, equity, deactivated, created_at
		FROM accounts WHERE user_id = ? ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var acc models.Account
		var typ, status string
		var lastHB sql.NullTime
		var deactivated int

		if err := rows.Scan(&acc.ID, &acc.UserID, &typ, &acc.Broker, &status,
			&lastHB, &acc.Balance, &acc.Equity, &deactivated, &acc.CreatedAt); err != nil {
			return nil, err
		}

		acc.Type = models.AccountType(typ)
		acc.Status = models.AccountStatus(status)
		acc.Deactivated = deactivated == 1
		if lastHB.Valid {
			acc.LastHeartbeatAt = lastHB.Time
		}

		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

// --- Subscriptions ---

// CreateSubscription сохраняет подписку
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, master_account_id, slave_account_id, subscriber_user_id, fee_bps, lot_multiplier, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.MasterAccountID, sub.SlaveAccountID, sub.SubscriberUserID,
		sub.FeeBps, sub.LotMultiplier, boolToInt(sub.Enabled), sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// GetSubscription возвращает подписку по id
func (s *Storage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, master_account_id, slave_account_id, subscriber_user_id,
		       fee_bps, lot_multiplier, enabled, created_at
		FROM subscriptions WHERE id = ?
	`, id)

	return scanSubscription(row)
}

// GetSubscriptionByPair возвращает подписку по паре (master, slave)
func (s *Storage) GetSubscriptionByPair(ctx context.Context, masterID, slaveID string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, master_account_id, slave_account_id, subscriber_user_id,
		       fee_bps, lot_multiplier, enabled, created_at
		FROM subscriptions WHERE master_account_id = ? AND slave_account_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, masterID, slaveID)

	return scanSubscription(row)
}

// DeleteSubscription удаляет подписку
func (s *Storage) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SetSubscriptionEnabled включает/выключает подписку
func (s *Storage) SetSubscriptionEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return err
	}

	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListSubscriptionsByMaster возвращает подписки master аккаунта в порядке создания
func (s *Storage) ListSubscriptionsByMaster(ctx context.Context, masterID string) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, master_account_id, slave_account_id, subscriber_user_id,
		       fee_bps, lot_multiplier, enabled, created_at
		FROM subscriptions WHERE master_account_id = ?
		ORDER BY created_at, id
	`, masterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListSubscriptions возвращает все подписки (для загрузки индекса при старте)
func (s *Storage) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, master_account_id, slave_account_id, subscriber_user_id,
		       fee_bps, lot_multiplier, enabled, created_at
		FROM subscriptions ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var enabled int

	err := row.Scan(&sub.ID, &sub.MasterAccountID, &sub.SlaveAccountID,
		&sub.SubscriberUserID, &sub.FeeBps, &sub.LotMultiplier, &enabled, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.Enabled = enabled == 1

	return &sub, nil
}

func collectSubscriptions(rows *sql.Rows) ([]models.Subscription, error) {
	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

// --- Signals ---

// CreateSignal сохраняет сигнал. Нарушение уникальности
// (master, sequence_number) возвращается как ошибка.
func (s *Storage) CreateSignal(ctx context.Context, sig models.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, master_account_id, symbol, order_type, volume, open_price, stop_loss, take_profit, sequence_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.MasterAccountID, sig.Symbol, string(sig.OrderType), sig.Volume,
		sig.OpenPrice, sig.StopLoss, sig.TakeProfit, sig.SequenceNumber, sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}

	return nil
}

// GetSignal возвращает сигнал по id
func (s *Storage) GetSignal(ctx context.Context, id string) (models.Signal, error) {
	var sig models.Signal
	var orderType string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, master_account_id, symbol, order_type, volume, open_price,
		       stop_loss, take_profit, sequence_number, created_at
		FROM signals WHERE id = ?
	`, id).Scan(&sig.ID, &sig.MasterAccountID, &sig.Symbol, &orderType,
		&sig.Volume, &sig.OpenPrice, &sig.StopLoss, &sig.TakeProfit,
		&sig.SequenceNumber, &sig.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Signal{}, ErrNotFound
		}

		return models.Signal{}, err
	}

	sig.OrderType = models.OrderType(orderType)

	return sig, nil
}

// LastSequenceNumber возвращает последний принятый sequence number для master
func (s *Storage) LastSequenceNumber(ctx context.Context, masterID string) (int64, error) {
	var seq sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence_number) FROM signals WHERE master_account_id = ?`,
		masterID).Scan(&seq)
	if err != nil {
		return 0, err
	}

	return seq.Int64, nil
}

// ListSignalsByMaster возвращает последние сигналы master аккаунта
func (s *Storage) ListSignalsByMaster(ctx context.Context, masterID string, limit int) ([]models.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, master_account_id, symbol, order_type, volume, open_price,
		       stop_loss, take_profit, sequence_number, created_at
		FROM signals WHERE master_account_id = ?
		ORDER BY sequence_number DESC LIMIT ?
	`, masterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var orderType string

		if err := rows.Scan(&sig.ID, &sig.MasterAccountID, &sig.Symbol, &orderType,
			&sig.Volume, &sig.OpenPrice, &sig.StopLoss, &sig.TakeProfit,
			&sig.SequenceNumber, &sig.CreatedAt); err != nil {
			return nil, err
		}

		sig.OrderType = models.OrderType(orderType)
		signals = append(signals, sig)
	}

	return signals, rows.Err()
}

// --- Deliveries ---

// CreateDelivery записывает результат попытки доставки.
// Пара (signal, slave) уникальна - повторная запись это ошибка.
func (s *Storage) CreateDelivery(ctx context.Context, d models.Delivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (signal_id, slave_account_id, status, delivered_at)
		VALUES (?, ?, ?, ?)
	`, d.SignalID, d.SlaveAccountID, string(d.Status), d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}

	return nil
}

// ListDeliveriesBySignal возвращает доставки сигнала
func (s *Storage) ListDeliveriesBySignal(ctx context.Context, signalID string) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, slave_account_id, status, delivered_at
		FROM deliveries WHERE signal_id = ? ORDER BY slave_account_id
	`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		var d models.Delivery
		var status string

		if err := rows.Scan(&d.SignalID, &d.SlaveAccountID, &status, &d.DeliveredAt); err != nil {
			return nil, err
		}

		d.Status = models.DeliveryStatus(status)
		deliveries = append(deliveries, d)
	}

	return deliveries, rows.Err()
}

// --- Commission ledger ---

// CreateCommissionEntry сохраняет запись комиссии
func (s *Storage) CreateCommissionEntry(ctx context.Context, e models.CommissionEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_entries (id, subscription_id, trade_id, amount, platform_fee, provider_earnings, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SubscriptionID, e.TradeID, e.Amount.String(), e.PlatformFee.String(),
		e.ProviderEarnings.String(), string(e.Status), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create commission entry: %w", err)
	}

	return nil
}

// GetCommissionEntry возвращает запись комиссии по id
func (s *Storage) GetCommissionEntry(ctx context.Context, id string) (*models.CommissionEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subscription_id, trade_id, amount, platform_fee,
		       provider_earnings, status, created_at, paid_at
		FROM commission_entries WHERE id = ?
	`, id)

	return scanCommissionEntry(row)
}

// GetCommissionEntryByTrade возвращает запись по паре (subscription, trade)
func (s *Storage) GetCommissionEntryByTrade(ctx context.Context, subscriptionID, tradeID string) (*models.CommissionEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subscription_id, trade_id, amount, platform_fee,
		       provider_earnings, status, created_at, paid_at
		FROM commission_entries WHERE subscription_id = ? AND trade_id = ?
	`, subscriptionID, tradeID)

	return scanCommissionEntry(row)
}

// MarkCommissionPaid переводит запись pending -> paid.
// Возвращает ErrNotFound если запись не в состоянии pending.
func (s *Storage) MarkCommissionPaid(ctx context.Context, id string, paidAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE commission_entries SET status = ?, paid_at = ?
		WHERE id = ? AND status = ?
	`, string(models.CommissionPaid), paidAt, id, string(models.CommissionPending))
	if err != nil {
		return err
	}

	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	return nil
}

// AggregateProviderEarnings суммирует леджер по master аккаунтам провайдера.
// Всегда считается от записей, без отдельных счетчиков.
func (s *Storage) AggregateProviderEarnings(ctx context.Context, providerUserID int64) (models.EarningsSummary, error) {
	summary := models.EarningsSummary{
		TotalEarnings:   decimal.Zero,
		PendingEarnings: decimal.Zero,
		PaidEarnings:    decimal.Zero,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.provider_earnings, e.status
		FROM commission_entries e
		JOIN subscriptions sub ON sub.id = e.subscription_id
		JOIN account_profiles p ON p.account_id = sub.master_account_id
		WHERE p.user_id = ?
	`, providerUserID)
	if err != nil {
		return summary, err
	}
	defer rows.Close()

	for rows.Next() {
		var earnings, status string

		if err := rows.Scan(&earnings, &status); err != nil {
			return summary, err
		}

		amount, err := decimal.NewFromString(earnings)
		if err != nil {
			return summary, fmt.Errorf("corrupt ledger amount: %w", err)
		}

		summary.TotalEarnings = summary.TotalEarnings.Add(amount)
		if models.CommissionStatus(status) == models.CommissionPaid {
			summary.PaidEarnings = summary.PaidEarnings.Add(amount)
		} else {
			summary.PendingEarnings = summary.PendingEarnings.Add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT sub.id)
		FROM subscriptions sub
		JOIN account_profiles p ON p.account_id = sub.master_account_id
		WHERE p.user_id = ? AND sub.enabled = 1
	`, providerUserID).Scan(&summary.ActiveSubscriberCount)
	if err != nil {
		return summary, err
	}

	return summary, nil
}

func scanCommissionEntry(row rowScanner) (*models.CommissionEntry, error) {
	var e models.CommissionEntry
	var amount, fee, earnings, status string
	var paidAt sql.NullTime

	err := row.Scan(&e.ID, &e.SubscriptionID, &e.TradeID, &amount, &fee,
		&earnings, &status, &e.CreatedAt, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt ledger amount: %w", err)
	}
	if e.PlatformFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("corrupt ledger amount: %w", err)
	}
	if e.ProviderEarnings, err = decimal.NewFromString(earnings); err != nil {
		return nil, fmt.Errorf("corrupt ledger amount: %w", err)
	}

	e.Status = models.CommissionStatus(status)
	if paidAt.Valid {
		e.PaidAt = &paidAt.Time
	}

	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
