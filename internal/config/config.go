package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config содержит конфигурацию релея
type Config struct {
	Address   string // Address для HTTP сервера (e.g., 0.0.0.0:8080)
	DBPath    string
	JWTSecret string

	// Telegram уведомления оператору (опционально)
	TelegramToken  string
	TelegramChatID int64

	// Heartbeat monitor
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	OfflineAfter      time.Duration

	// Signal router
	DedupWindow     time.Duration
	DeliveryTimeout time.Duration
	FanoutWorkers   int64
	MaxInflight     int64
}

// Load загружает конфигурацию из переменных окружения
func Load(logger *slog.Logger) *Config {
	address := os.Getenv("ADDRESS")
	if address == "" {
		address = "0.0.0.0:8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./copyrelay.db"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "default-secret-change-me-in-production" // В продакшене использовать настоящий секрет!

		logger.Warn("⚠️  JWT_SECRET not set, using default (insecure!)")
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatID := envInt64(logger, "TELEGRAM_CHAT_ID", 0)

	if token != "" && chatID != 0 {
		logger.Info("🔗 Telegram notifications enabled")
	} else {
		logger.Info("📡 Telegram notifications disabled")
	}

	return &Config{
		Address:           address,
		DBPath:            dbPath,
		JWTSecret:         jwtSecret,
		TelegramToken:     token,
		TelegramChatID:    chatID,
		HeartbeatInterval: envDuration(logger, "HEARTBEAT_INTERVAL", 30*time.Second),
		StaleAfter:        envDuration(logger, "HEARTBEAT_STALE_AFTER", 90*time.Second),
		OfflineAfter:      envDuration(logger, "HEARTBEAT_OFFLINE_AFTER", 90*time.Second),
		DedupWindow:       envDuration(logger, "DEDUP_WINDOW", 5*time.Second),
		DeliveryTimeout:   envDuration(logger, "DELIVERY_TIMEOUT", 2*time.Second),
		FanoutWorkers:     envInt64(logger, "FANOUT_WORKERS", 32),
		MaxInflight:       envInt64(logger, "MAX_INFLIGHT_SIGNALS", 256),
	}
}

func envDuration(logger *slog.Logger, key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("⚠️  Invalid duration, using default",
			slog.String("key", key), slog.String("value", raw), slog.Duration("default", def))

		return def
	}

	return d
}

func envInt64(logger *slog.Logger, key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("⚠️  Invalid integer, using default",
			slog.String("key", key), slog.String("value", raw), slog.Int64("default", def))

		return def
	}

	return n
}
