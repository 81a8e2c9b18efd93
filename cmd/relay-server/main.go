package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copyrelay/internal/api"
	"copyrelay/internal/auth"
	"copyrelay/internal/config"
	"copyrelay/internal/models"
	"copyrelay/internal/notify"
	"copyrelay/internal/protocol"
	"copyrelay/internal/relay"
	"copyrelay/internal/storage"
	"copyrelay/internal/ws"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

func main() {
	// Конфигурация slog для вывода в файл и stdout
	logFile, err := os.OpenFile("relay.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()

	// Pretty handler для stdout с цветами
	prettyHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen, // "3:04PM"
		AddSource:  false,
		NoColor:    false,
	})

	// Обычный текстовый handler для файла
	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	// Мультиплексируем логи в оба handler'а
	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{prettyHandler, fileHandler},
	})

	logger.Info("=== Copy Trading Signal Relay ===")

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment")
	}

	cfg := config.Load(logger)

	// Инициализация БД
	store, err := storage.New(cfg.DBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// Инициализация auth сервиса
	authService := auth.NewService(cfg.JWTSecret, 24*time.Hour) // Токен действителен 24 часа

	// Уведомления оператору
	var notifier notify.Notifier = notify.NopNotifier{}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tn, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("Failed to initialize telegram notifier", slog.Any("error", err))
		} else {
			notifier = tn
		}
	}

	// Реестр подключений терминалов
	validator := auth.NewTerminalValidator(store, logger)
	registry := relay.NewRegistry(store, validator, logger)

	// Индекс подписок
	index := relay.NewIndex(store, registry, logger)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := index.Load(loadCtx); err != nil {
		loadCancel()
		logger.Error("Failed to load subscriptions", slog.Any("error", err))
		os.Exit(1)
	}
	loadCancel()

	// Роутер сигналов
	router := relay.NewRouter(registry, index, store, relay.RouterConfig{
		DedupWindow:     cfg.DedupWindow,
		DeliveryTimeout: cfg.DeliveryTimeout,
		FanoutWorkers:   cfg.FanoutWorkers,
		MaxInflight:     cfg.MaxInflight,
	}, logger)

	// Движок комиссий
	engine := relay.NewEngine(store, logger)
	engine.SetEventHandler(func(title, details string) {
		notifier.Notify(notify.Event{Title: title, Details: details})
	})

	// Изменения присутствия master аккаунтов рассылаются их подписчикам
	registry.SetPresenceHandler(func(accountID string, accountType models.AccountType, status models.AccountStatus) {
		notifier.Notify(notify.Event{
			Title:   "Presence changed",
			Details: accountID + " is now " + string(status),
		})

		if accountType != models.AccountTypeMaster {
			return
		}

		msg := protocol.NewPresenceChanged(accountID, string(status))

		for _, sub := range index.ResolveSubscribers(accountID) {
			handle, ok := registry.Lookup(sub.SlaveAccountID)
			if !ok {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := handle.Deliver(ctx, msg); err != nil {
				logger.Debug("Presence notification failed",
					slog.String("slave", sub.SlaveAccountID), slog.Any("error", err))
			}
			cancel()
		}
	})

	// Монитор heartbeat
	monitor := relay.NewMonitor(registry, relay.MonitorConfig{
		Interval:     cfg.HeartbeatInterval,
		StaleAfter:   cfg.StaleAfter,
		OfflineAfter: cfg.OfflineAfter,
	}, logger)
	monitor.Start()

	// WebSocket вход терминалов
	wsHandler := ws.NewHandler(registry, router, engine, store, logger)

	// REST API
	apiHandler := api.New(store, authService, index, engine, logger)
	muxRouter := apiHandler.SetupRouter(wsHandler)

	// HTTP сервер
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      muxRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("🚀 Relay starting...", slog.String("address", cfg.Address))
		logger.Info("📡 Terminals connect at /ws/copy-trading")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down relay...")

	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	logger.Info("✅ Relay stopped")
}

// multiHandler отправляет логи в несколько handlers одновременно
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}

	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}

	return &multiHandler{handlers: handlers}
}
