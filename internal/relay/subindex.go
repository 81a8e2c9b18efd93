package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/storage"

	"github.com/google/uuid"
)

// SubscriptionStore - интерфейс хранилища подписок для индекса
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	SetSubscriptionEnabled(ctx context.Context, id string, enabled bool) error
	ListSubscriptionsByMaster(ctx context.Context, masterID string) ([]models.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
	GetAccountProfile(ctx context.Context, accountID string) (*models.AccountProfile, error)
}

// PresenceSource - статус присутствия аккаунта (реализуется реестром)
type PresenceSource interface {
	Status(accountID string) (models.AccountStatus, bool)
}

// Subscriber - разрешенный получатель сигналов master аккаунта
type Subscriber struct {
	SubscriptionID string
	SlaveAccountID string
	LotMultiplier  float64
}

// SubscriptionConfig - параметры создаваемой подписки
type SubscriptionConfig struct {
	SubscriberUserID int64
	FeeBps           int64
	LotMultiplier    float64
}

// masterSubs держит неизменяемый снимок подписок одного master.
// Писатели подменяют снимок целиком, читатели никогда не видят
// частично обновленный список.
type masterSubs struct {
	// wmu сериализует пересборку: чтение из хранилища и подмена
	// снимка должны быть одной операцией относительно других писателей
	wmu      sync.Mutex
	snapshot atomic.Pointer[[]models.Subscription]
}

// Index отвечает на вопрос "кто сейчас слушает master M".
// Читается намного чаще, чем пишется: чтения идут по атомарному
// снимку без блокировок, записи пересобирают снимок под mu.
type Index struct {
	store    SubscriptionStore
	presence PresenceSource
	logger   *slog.Logger

	mu      sync.RWMutex // охраняет только структуру map
	masters map[string]*masterSubs
}

// NewIndex создает индекс подписок
func NewIndex(store SubscriptionStore, presence PresenceSource, logger *slog.Logger) *Index {
	return &Index{
		store:    store,
		presence: presence,
		logger:   logger,
		masters:  make(map[string]*masterSubs),
	}
}

// Load загружает все подписки из хранилища при старте сервиса
func (i *Index) Load(ctx context.Context) error {
	subs, err := i.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	grouped := make(map[string][]models.Subscription)
	for _, sub := range subs {
		grouped[sub.MasterAccountID] = append(grouped[sub.MasterAccountID], sub)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for masterID, list := range grouped {
		ms := &masterSubs{}
		snapshot := list
		ms.snapshot.Store(&snapshot)
		i.masters[masterID] = ms
	}

	i.logger.Info("✅ Subscription index loaded",
		slog.Int("masters", len(grouped)),
		slog.Int("subscriptions", len(subs)))

	return nil
}

// Subscribe создает подписку slave на master.
// Master должен быть известен (спровизирован), иначе ErrUnknownAccount.
// Slave может держать подписки на несколько master одновременно.
func (i *Index) Subscribe(ctx context.Context, masterID, slaveID string, cfg SubscriptionConfig) (string, error) {
	profile, err := i.store.GetAccountProfile(ctx, masterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: master %s", ErrUnknownAccount, masterID)
		}

		return "", err
	}

	if profile.Type != models.AccountTypeMaster {
		return "", fmt.Errorf("%w: %s is not a master account", ErrUnknownAccount, masterID)
	}

	multiplier := cfg.LotMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}

	sub := models.Subscription{
		ID:               uuid.NewString(),
		MasterAccountID:  masterID,
		SlaveAccountID:   slaveID,
		SubscriberUserID: cfg.SubscriberUserID,
		FeeBps:           cfg.FeeBps,
		LotMultiplier:    multiplier,
		Enabled:          true,
		CreatedAt:        time.Now(),
	}

	if err := i.store.CreateSubscription(ctx, sub); err != nil {
		return "", err
	}

	if err := i.refresh(ctx, masterID); err != nil {
		return "", err
	}

	i.logger.Info("Subscription created",
		slog.String("subscription", sub.ID),
		slog.String("master", masterID),
		slog.String("slave", slaveID))

	return sub.ID, nil
}

// Unsubscribe удаляет подписку
func (i *Index) Unsubscribe(ctx context.Context, subscriptionID string) error {
	sub, err := i.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	if err := i.store.DeleteSubscription(ctx, subscriptionID); err != nil {
		return err
	}

	i.logger.Info("Subscription removed", slog.String("subscription", subscriptionID))

	return i.refresh(ctx, sub.MasterAccountID)
}

// SetEnabled включает или выключает подписку
func (i *Index) SetEnabled(ctx context.Context, subscriptionID string, enabled bool) error {
	sub, err := i.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	if err := i.store.SetSubscriptionEnabled(ctx, subscriptionID, enabled); err != nil {
		return err
	}

	i.logger.Info("Subscription toggled",
		slog.String("subscription", subscriptionID),
		slog.Bool("enabled", enabled))

	return i.refresh(ctx, sub.MasterAccountID)
}

// ResolveSubscribers возвращает включенные подписки master, чьи slave
// сейчас connected, в порядке создания подписки. Читает атомарный
// снимок и не блокируется на писателях.
func (i *Index) ResolveSubscribers(masterID string) []Subscriber {
	i.mu.RLock()
	ms, ok := i.masters[masterID]
	i.mu.RUnlock()

	if !ok {
		return nil
	}

	snapshot := ms.snapshot.Load()
	if snapshot == nil {
		return nil
	}

	subscribers := make([]Subscriber, 0, len(*snapshot))
	for _, sub := range *snapshot {
		if !sub.Enabled {
			continue
		}

		status, registered := i.presence.Status(sub.SlaveAccountID)
		if !registered || status != models.StatusConnected {
			continue
		}

		subscribers = append(subscribers, Subscriber{
			SubscriptionID: sub.ID,
			SlaveAccountID: sub.SlaveAccountID,
			LotMultiplier:  sub.LotMultiplier,
		})
	}

	return subscribers
}

// refresh пересобирает снимок подписок одного master из хранилища
// и атомарно подменяет его
func (i *Index) refresh(ctx context.Context, masterID string) error {
	i.mu.Lock()
	ms, ok := i.masters[masterID]
	if !ok {
		ms = &masterSubs{}
		i.masters[masterID] = ms
	}
	i.mu.Unlock()

	// Снимок, собранный по устаревшему чтению, не должен затереть
	// более позднюю запись параллельного писателя
	ms.wmu.Lock()
	defer ms.wmu.Unlock()

	subs, err := i.store.ListSubscriptionsByMaster(ctx, masterID)
	if err != nil {
		return fmt.Errorf("failed to rebuild index for master %s: %w", masterID, err)
	}

	ms.snapshot.Store(&subs)

	return nil
}
