package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Twitch caps keepalive_timeout_seconds at 10..600.
const (
	minKeepaliveSeconds = 10
	maxKeepaliveSeconds = 600
)

type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	TwitchClientID     string
	TwitchClientSecret string
	BroadcasterUserID  string
	BotUserID          string

	EventSubURL             string
	KeepaliveTimeoutSeconds int
	SubscriptionTypes       []string

	RedisURL           string
	RelayChannelPrefix string
}

func Load() (*Config, error) {
	keepalive, err := getEnvInt("KEEPALIVE_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:                  getEnv("APP_ENV", "development"),
		Port:                    getEnv("PORT", "8080"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "text"),
		TwitchClientID:          getEnv("TWITCH_CLIENT_ID", ""),
		TwitchClientSecret:      getEnv("TWITCH_CLIENT_SECRET", ""),
		BroadcasterUserID:       getEnv("BROADCASTER_USER_ID", ""),
		BotUserID:               getEnv("BOT_USER_ID", ""),
		EventSubURL:             getEnv("EVENTSUB_URL", ""),
		KeepaliveTimeoutSeconds: keepalive,
		SubscriptionTypes:       splitList(getEnv("SUBSCRIPTION_TYPES", "channel.chat.message")),
		RedisURL:                getEnv("REDIS_URL", ""),
		RelayChannelPrefix:      getEnv("RELAY_CHANNEL_PREFIX", "eventsub"),
	}

	if cfg.TwitchClientID == "" {
		return nil, fmt.Errorf("TWITCH_CLIENT_ID is required")
	}
	if cfg.TwitchClientSecret == "" {
		return nil, fmt.Errorf("TWITCH_CLIENT_SECRET is required")
	}
	if cfg.BroadcasterUserID == "" {
		return nil, fmt.Errorf("BROADCASTER_USER_ID is required")
	}
	if cfg.BotUserID == "" {
		cfg.BotUserID = cfg.BroadcasterUserID
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.KeepaliveTimeoutSeconds < minKeepaliveSeconds || cfg.KeepaliveTimeoutSeconds > maxKeepaliveSeconds {
		return nil, fmt.Errorf("KEEPALIVE_TIMEOUT_SECONDS must be between %d and %d, got %d",
			minKeepaliveSeconds, maxKeepaliveSeconds, cfg.KeepaliveTimeoutSeconds)
	}
	if len(cfg.SubscriptionTypes) == 0 {
		return nil, fmt.Errorf("SUBSCRIPTION_TYPES must name at least one subscription type")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
