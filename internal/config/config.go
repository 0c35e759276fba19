package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	AutoDispatch          bool
	DefaultServiceSeconds int
	EventBuffer           int

	RateLimitPerMinute int
	RateLimitBurst     int
	DisplayCacheTTL    time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string
	PushWorkers     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                  port,
		DatabaseURL:           os.Getenv("DB_DSN"),
		AutoDispatch:          readBool("AUTO_DISPATCH", true),
		DefaultServiceSeconds: readInt("DEFAULT_SERVICE_SECONDS", 300),
		EventBuffer:           readInt("EVENT_BUFFER", 256),
		RateLimitPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:        readInt("RATE_LIMIT_BURST", 30),
		DisplayCacheTTL:       readDurationSeconds("DISPLAY_CACHE_TTL_SECONDS", 2),
		VAPIDPublicKey:        os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:       os.Getenv("VAPID_PRIVATE_KEY"),
		PushSubscriber:        os.Getenv("PUSH_SUBSCRIBER"),
		PushWorkers:           readInt("PUSH_WORKERS", 4),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
