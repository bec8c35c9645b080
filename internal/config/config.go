package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	AppEnv   string
	LogLevel string

	TelegramBotToken string
	TelegramTimeout  time.Duration

	// DatabaseURL selects the Postgres backend when set; otherwise the
	// SQLite file at DBPath is used.
	DatabaseURL string
	DBPath      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	LunchBaseURL string
	LunchTimeout time.Duration

	DeepInfraAPIKey  string
	DeepInfraModel   string
	DeepInfraTimeout time.Duration

	HTTPListenAddr   string
	HTTPBasePath     string
	MetricsNamespace string

	// SchedulerInterval is how often the scheduler checks which chats are
	// due for a polling pass. Per-chat poll intervals live in the store.
	SchedulerInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramTimeout:   getDuration("TELEGRAM_TIMEOUT", 30*time.Second),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBPath:            getEnv("DB_PATH", "ledgerbot.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		RedisTLS:          getBool("REDIS_TLS", false),
		LunchBaseURL:      getEnv("LUNCH_MONEY_BASE_URL", "https://dev.lunchmoney.app"),
		LunchTimeout:      getDuration("LUNCH_MONEY_TIMEOUT", 15*time.Second),
		DeepInfraAPIKey:   os.Getenv("DEEPINFRA_API_KEY"),
		DeepInfraModel:    getEnv("DEEPINFRA_MODEL", "meta-llama/Meta-Llama-3.1-405B-Instruct"),
		DeepInfraTimeout:  getDuration("DEEPINFRA_TIMEOUT", 30*time.Second),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8080"),
		HTTPBasePath:      strings.TrimSpace(os.Getenv("HTTP_BASE_PATH")),
		MetricsNamespace:  getEnv("METRICS_NAMESPACE", "ledgerbot"),
		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", time.Minute),
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
