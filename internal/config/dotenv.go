package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Port                      string
	IdleGCSeconds             int
	GCIntervalSeconds         int
	MaxMessageBytes           int
	ClientMessagesPerSecond   int
	ClientMessageBurst        int
	DocumentMessagesPerSecond int
	DocumentMessageBurst      int
	SyncTimeoutMillis         int
	SubmitHandOffMillis       int
	BotDelayMillis            int
	DatabaseURL               string
	RedisURL                  string
	PublicAddr                string
}

func Default() Config {
	return Config{
		Port:                      "8080",
		IdleGCSeconds:             60,
		GCIntervalSeconds:         30,
		MaxMessageBytes:           1 << 20,
		ClientMessagesPerSecond:   20,
		ClientMessageBurst:        40,
		DocumentMessagesPerSecond: 100,
		DocumentMessageBurst:      200,
		SyncTimeoutMillis:         3000,
		SubmitHandOffMillis:       500,
		BotDelayMillis:            1200,
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("PORT"); raw != "" {
		cfg.Port = raw
	}
	positive(&cfg.IdleGCSeconds, "IDLE_GC_SECONDS")
	positive(&cfg.GCIntervalSeconds, "GC_INTERVAL_SECONDS")
	positive(&cfg.MaxMessageBytes, "MAX_MESSAGE_BYTES")
	positive(&cfg.ClientMessagesPerSecond, "CLIENT_MESSAGES_PER_SECOND")
	positive(&cfg.ClientMessageBurst, "CLIENT_MESSAGE_BURST")
	positive(&cfg.DocumentMessagesPerSecond, "DOCUMENT_MESSAGES_PER_SECOND")
	positive(&cfg.DocumentMessageBurst, "DOCUMENT_MESSAGE_BURST")
	positive(&cfg.SyncTimeoutMillis, "SYNC_TIMEOUT_MS")
	if raw := os.Getenv("SUBMIT_HANDOFF_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.SubmitHandOffMillis = value
		}
	}
	if raw := os.Getenv("BOT_DELAY_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.BotDelayMillis = value
		}
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		cfg.DatabaseURL = raw
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		cfg.RedisURL = raw
	}
	if raw := os.Getenv("PUBLIC_ADDR"); raw != "" {
		cfg.PublicAddr = raw
	}
	return cfg
}

func positive(dest *int, key string) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	if value, err := strconv.Atoi(raw); err == nil && value > 0 {
		*dest = value
	}
}

func (c Config) IdleTTL() time.Duration {
	return time.Duration(c.IdleGCSeconds) * time.Second
}

func (c Config) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalSeconds) * time.Second
}

func (c Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutMillis) * time.Millisecond
}

func (c Config) SubmitHandOff() time.Duration {
	return time.Duration(c.SubmitHandOffMillis) * time.Millisecond
}

func (c Config) BotDelay() time.Duration {
	return time.Duration(c.BotDelayMillis) * time.Millisecond
}
