package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/protocol"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// SignalStore - интерфейс хранилища сигналов и доставок для роутера
type SignalStore interface {
	CreateSignal(ctx context.Context, sig models.Signal) error
	LastSequenceNumber(ctx context.Context, masterID string) (int64, error)
	CreateDelivery(ctx context.Context, d models.Delivery) error
}

// RawSignal - сигнал в том виде, в каком его прислал master
type RawSignal struct {
	Symbol     string
	OrderType  models.OrderType
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
}

// RouterResult - результат приема сигнала. Master видит только его,
// никогда не детали доставки отдельным slave.
type RouterResult struct {
	SignalID       string
	SequenceNumber int64
	Duplicate      bool
	Subscribers    int
	Delivered      int
	Failed         int
}

// RouterConfig - настройки роутера
type RouterConfig struct {
	DedupWindow     time.Duration // Окно дедупликации повторных отправок
	DeliveryTimeout time.Duration // Дедлайн одной доставки
	FanoutWorkers   int64         // Потолок одновременных доставок
	MaxInflight     int64         // Потолок одновременных рассылок
}

// DefaultRouterConfig возвращает настройки по умолчанию
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		DedupWindow:     5 * time.Second,
		DeliveryTimeout: 2 * time.Second,
		FanoutWorkers:   32,
		MaxInflight:     256,
	}
}

type dedupEntry struct {
	result     RouterResult
	acceptedAt time.Time
}

// masterState - состояние одного master в роутере. Прием сигналов
// одного master сериализуется через mu: это дает строгий порядок
// sequence number и порядок доставки каждому slave. Разные master
// обрабатываются независимо.
type masterState struct {
	mu        sync.Mutex
	seqLoaded bool
	lastSeq   int64
	recent    map[string]dedupEntry
}

// Router принимает сигналы master терминалов и рассылает их
// подписчикам. Доставка best-effort, at-most-once: устаревшая
// торговая инструкция, исполненная с опозданием, хуже потерянной.
type Router struct {
	registry *Registry
	index    *Index
	store    SignalStore
	logger   *slog.Logger
	cfg      RouterConfig

	sem      *semaphore.Weighted
	inflight atomic.Int64

	mu      sync.Mutex
	masters map[string]*masterState
}

// NewRouter создает роутер сигналов
func NewRouter(registry *Registry, index *Index, store SignalStore, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 2 * time.Second
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = 32
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 256
	}

	return &Router{
		registry: registry,
		index:    index,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.FanoutWorkers),
		masters:  make(map[string]*masterState),
	}
}

// ReceiveSignal - прием и рассылка сигнала master аккаунта.
//
// Порядок шагов фиксирован: валидация -> дедупликация -> присвоение
// sequence number -> запись в БД -> рассылка. Ошибка записи отменяет
// всю операцию, недолговечный сигнал не рассылается.
func (r *Router) ReceiveSignal(ctx context.Context, masterID string, raw RawSignal) (RouterResult, error) {
	if err := validateSignal(raw); err != nil {
		return RouterResult{}, err
	}

	// Backpressure: под потолком нагрузки сигналы отклоняются,
	// очереди без ограничения нет - свежесть важнее полноты
	if r.inflight.Add(1) > r.cfg.MaxInflight {
		r.inflight.Add(-1)
		r.logger.Warn("Signal rejected: relay over capacity", slog.String("master", masterID))

		return RouterResult{}, ErrOverCapacity
	}
	defer r.inflight.Add(-1)

	st := r.masterState(masterID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.seqLoaded {
		last, err := r.store.LastSequenceNumber(ctx, masterID)
		if err != nil {
			return RouterResult{}, fmt.Errorf("failed to load last sequence number: %w", err)
		}

		st.lastSeq = last
		st.seqLoaded = true
	}

	// Повторная отправка того же сигнала внутри окна - идемпотентный
	// успех с прежним результатом, не ошибка
	now := time.Now()
	fp := fingerprint(raw)
	st.pruneDedup(now, r.cfg.DedupWindow)

	if prior, ok := st.recent[fp]; ok {
		r.logger.Debug("Duplicate signal within dedup window",
			slog.String("master", masterID),
			slog.Int64("sequence", prior.result.SequenceNumber))

		result := prior.result
		result.Duplicate = true

		return result, nil
	}

	sig := models.Signal{
		ID:              uuid.NewString(),
		MasterAccountID: masterID,
		Symbol:          raw.Symbol,
		OrderType:       raw.OrderType,
		Volume:          raw.Volume,
		OpenPrice:       raw.OpenPrice,
		StopLoss:        raw.StopLoss,
		TakeProfit:      raw.TakeProfit,
		SequenceNumber:  st.lastSeq + 1,
		CreatedAt:       now,
	}

	// Долговечность раньше рассылки
	if err := r.store.CreateSignal(ctx, sig); err != nil {
		return RouterResult{}, fmt.Errorf("failed to persist signal: %w", err)
	}

	st.lastSeq = sig.SequenceNumber

	subscribers := r.index.ResolveSubscribers(masterID)

	result := RouterResult{
		SignalID:       sig.ID,
		SequenceNumber: sig.SequenceNumber,
		Subscribers:    len(subscribers),
	}

	delivered, failed := r.fanOut(ctx, sig, subscribers)
	result.Delivered = delivered
	result.Failed = failed

	st.recent[fp] = dedupEntry{result: result, acceptedAt: now}

	r.logger.Info("Signal routed",
		slog.String("master", masterID),
		slog.String("signal", sig.ID),
		slog.Int64("sequence", sig.SequenceNumber),
		slog.String("symbol", sig.Symbol),
		slog.Int("subscribers", len(subscribers)),
		slog.Int("delivered", delivered),
		slog.Int("failed", failed))

	return result, nil
}

// fanOut рассылает сигнал всем получателям конкурентно, с независимым
// дедлайном на каждого. Медленный или недоступный slave не задерживает
// доставку остальным. Каждая попытка дает ровно одну запись Delivery.
func (r *Router) fanOut(ctx context.Context, sig models.Signal, subscribers []Subscriber) (delivered, failed int) {
	if len(subscribers) == 0 {
		return 0, 0
	}

	var wg sync.WaitGroup
	var okCount, failCount atomic.Int64

	for _, sub := range subscribers {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			// Контекст отменен: оставшиеся получатели не доставлены
			r.recordDelivery(sig, sub, models.DeliveryFailed)
			failCount.Add(1)

			continue
		}

		wg.Add(1)

		go func(sub Subscriber) {
			defer wg.Done()
			defer r.sem.Release(1)

			if r.deliver(ctx, sig, sub) {
				okCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(sub)
	}

	wg.Wait()

	return int(okCount.Load()), int(failCount.Load())
}

// deliver - одна попытка доставки. Отмена по дедлайну записывается
// как failed и никогда не повторяется.
func (r *Router) deliver(ctx context.Context, sig models.Signal, sub Subscriber) bool {
	dctx, cancel := context.WithTimeout(ctx, r.cfg.DeliveryTimeout)
	defer cancel()

	status := models.DeliveryFailed

	handle, ok := r.registry.Lookup(sub.SlaveAccountID)
	if ok {
		msg := protocol.NewSignalDelivered(
			sig.ID,
			sig.MasterAccountID,
			sig.Symbol,
			string(sig.OrderType),
			sig.Volume*sub.LotMultiplier,
			sig.SequenceNumber,
		)

		if err := handle.Deliver(dctx, msg); err != nil {
			r.logger.Warn("Delivery failed",
				slog.String("signal", sig.ID),
				slog.String("slave", sub.SlaveAccountID),
				slog.Any("error", err))
		} else {
			status = models.DeliverySent
		}
	} else {
		r.logger.Debug("Slave not reachable at dispatch",
			slog.String("signal", sig.ID),
			slog.String("slave", sub.SlaveAccountID))
	}

	r.recordDelivery(sig, sub, status)

	return status == models.DeliverySent
}

func (r *Router) recordDelivery(sig models.Signal, sub Subscriber, status models.DeliveryStatus) {
	// Запись результата не зависит от дедлайна доставки
	err := r.store.CreateDelivery(context.Background(), models.Delivery{
		SignalID:       sig.ID,
		SlaveAccountID: sub.SlaveAccountID,
		Status:         status,
		DeliveredAt:    time.Now(),
	})
	if err != nil {
		r.logger.Error("Failed to record delivery",
			slog.String("signal", sig.ID),
			slog.String("slave", sub.SlaveAccountID),
			slog.Any("error", err))
	}
}

func (r *Router) masterState(masterID string) *masterState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.masters[masterID]
	if !ok {
		st = &masterState{recent: make(map[string]dedupEntry)}
		r.masters[masterID] = st
	}

	return st
}

func (st *masterState) pruneDedup(now time.Time, window time.Duration) {
	for fp, entry := range st.recent {
		if now.Sub(entry.acceptedAt) > window {
			delete(st.recent, fp)
		}
	}
}

func validateSignal(raw RawSignal) error {
	if strings.TrimSpace(raw.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrValidation)
	}

	if raw.Volume <= 0 {
		return fmt.Errorf("%w: volume must be positive", ErrValidation)
	}

	if !raw.OrderType.Valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrValidation, raw.OrderType)
	}

	return nil
}

// fingerprint - идентичность сигнала для окна дедупликации.
// Повтор с теми же полями внутри окна считается той же отправкой.
func fingerprint(raw RawSignal) string {
	return strings.Join([]string{
		raw.Symbol,
		string(raw.OrderType),
		strconv.FormatFloat(raw.Volume, 'f', -1, 64),
		strconv.FormatFloat(raw.OpenPrice, 'f', -1, 64),
		strconv.FormatFloat(raw.StopLoss, 'f', -1, 64),
		strconv.FormatFloat(raw.TakeProfit, 'f', -1, 64),
	}, "|")
}
