package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MonitorConfig - настройки монитора heartbeat
type MonitorConfig struct {
	Interval     time.Duration // Период обхода реестра
	StaleAfter   time.Duration // Тишина до перехода connected -> stale
	OfflineAfter time.Duration // Тишина после stale до принудительного offline
}

// DefaultMonitorConfig возвращает настройки по умолчанию
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:     30 * time.Second,
		StaleAfter:   90 * time.Second,
		OfflineAfter: 90 * time.Second,
	}
}

// Monitor периодически обходит реестр и понижает аккаунты, которые
// перестали присылать heartbeat. Обход - единственный источник
// переходов connected -> stale -> offline по таймауту.
type Monitor struct {
	registry *Registry
	logger   *slog.Logger
	cfg      MonitorConfig

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor создает монитор heartbeat
func NewMonitor(registry *Registry, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 90 * time.Second
	}
	if cfg.OfflineAfter <= 0 {
		cfg.OfflineAfter = 90 * time.Second
	}

	return &Monitor{
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
}

// Start запускает фоновый обход реестра
func (m *Monitor) Start() {
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.logger.Info("📡 Heartbeat monitor started",
			slog.Duration("interval", m.cfg.Interval),
			slog.Duration("stale_after", m.cfg.StaleAfter))

		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.done:
				m.logger.Info("Heartbeat monitor stopped")
				return
			}
		}
	}()
}

// Stop останавливает монитор и дожидается завершения обхода
func (m *Monitor) Stop() {
	close(m.done)
	m.wg.Wait()
}

func (m *Monitor) sweep() {
	now := time.Now()

	for _, id := range m.registry.SnapshotIDs() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		m.registry.EvaluateLiveness(ctx, id, now, m.cfg.StaleAfter, m.cfg.OfflineAfter)
		cancel()
	}
}
