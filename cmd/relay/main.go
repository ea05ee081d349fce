package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pulseline/twitchrelay/internal/config"
	"github.com/pulseline/twitchrelay/internal/eventsub"
	"github.com/pulseline/twitchrelay/internal/logging"
	"github.com/pulseline/twitchrelay/internal/platform/retry"
	"github.com/pulseline/twitchrelay/internal/relay"
	"github.com/pulseline/twitchrelay/internal/server"
	"github.com/pulseline/twitchrelay/internal/twitch"
	"github.com/pulseline/twitchrelay/internal/version"
)

const (
	shutdownTimeout  = 10 * time.Second
	subscribeTimeout = 30 * time.Second
)

func setupConfig() *config.Config {
	// Best effort: a missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config) *goredis.Client {
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func connectWithRetry(ctx context.Context, client *eventsub.Client, clock clockwork.Clock) error {
	policy := retry.Policy{
		MaxAttempts:      5,
		InitialBackoff:   time.Second,
		RateLimitBackoff: 10 * time.Second,
		Clock:            clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("connect failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	classify := func(error) retry.Action { return retry.Retry }
	return retry.DoVoid(ctx, policy, classify, func() error {
		return client.Connect(ctx)
	})
}

// drainEvents is the host side of the client's event queue. All
// subscriber-facing work happens here, never on the receive loop.
func drainEvents(ctx context.Context, client *eventsub.Client, subscriber *twitch.Subscriber, sink *relay.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-client.Events():
			switch e := ev.(type) {
			case eventsub.SessionEstablished:
				logging.WithSession(e.SessionID).Info("session established, registering subscriptions")
				subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
				if err := subscriber.SubscribeAll(subCtx, e.SessionID); err != nil {
					slog.Error("failed to register subscriptions", "error", err)
				}
				cancel()

			case eventsub.NotificationReceived:
				if err := sink.Publish(ctx, e); err != nil {
					logging.WithSubscription(e.SubscriptionType).Error("failed to relay notification", "error", err)
				}

			case eventsub.ReconnectRequested:
				// Automatic reconnection is deliberately left to the
				// operator; the relay logs and keeps the old socket
				// until the server drops it.
				slog.Warn("server requested reconnect", "reconnect_url", e.ReconnectURL)

			case eventsub.SubscriptionRevoked:
				logging.WithSubscription(e.Metadata.SubscriptionType).Warn("subscription revoked", "payload", string(e.Payload))

			case eventsub.Disconnected:
				slog.Warn("eventsub connection lost", "code", e.Code, "reason", e.Reason, "error", e.Err)
			}
		}
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Relay starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit)

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	subscriber, err := twitch.NewSubscriber(
		cfg.TwitchClientID,
		cfg.TwitchClientSecret,
		cfg.BroadcasterUserID,
		cfg.BotUserID,
		cfg.SubscriptionTypes,
		clock,
	)
	if err != nil {
		slog.Error("Failed to create Helix subscriber", "error", err)
		os.Exit(1)
	}

	client := eventsub.NewClient(eventsub.Config{
		URL:              cfg.EventSubURL,
		KeepaliveTimeout: time.Duration(cfg.KeepaliveTimeoutSeconds) * time.Second,
	}, clock)

	sink := relay.NewSink(redisClient, cfg.RelayChannelPrefix)
	srv := server.NewServer(cfg.Port, client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := connectWithRetry(ctx, client, clock); err != nil {
		slog.Error("Failed to connect to EventSub", "error", err)
		os.Exit(1)
	}

	go drainEvents(ctx, client, subscriber, sink)

	go func() {
		slog.Info("Ops server starting", "port", cfg.Port)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Ops server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ops server shutdown error", "error", err)
	}

	if err := client.Disconnect(); err != nil && !errors.Is(err, eventsub.ErrNotConnected) {
		slog.Error("Disconnect error", "error", err)
	}

	slog.Info("Relay stopped")
}
