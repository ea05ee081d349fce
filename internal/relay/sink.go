// Package relay republishes decoded EventSub notifications to Redis
// Pub/Sub so downstream consumers never touch the Twitch socket.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/pulseline/twitchrelay/internal/eventsub"
	"github.com/pulseline/twitchrelay/internal/metrics"
)

const (
	publishTimeout    = 2 * time.Second
	breakerThreshold  = 5
	breakerOpenPeriod = 30 * time.Second
)

// Message is the JSON envelope published to Redis.
type Message struct {
	RelayID          string          `json:"relay_id"`
	MessageID        string          `json:"message_id,omitempty"`
	SubscriptionType string          `json:"subscription_type"`
	Event            json.RawMessage `json:"event"`
	ReceivedAt       time.Time       `json:"received_at"`
}

// Sink publishes notifications to per-type Redis channels. Publishes
// run behind a circuit breaker so a dead Redis never blocks the event
// drain loop.
type Sink struct {
	rdb     *goredis.Client
	breaker *gobreaker.CircuitBreaker
	prefix  string
	now     func() time.Time
}

// NewSink creates a sink publishing to "<prefix>:<subscription_type>".
func NewSink(rdb *goredis.Client, prefix string) *Sink {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "relay-redis",
		Timeout: breakerOpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			metrics.RelayBreakerState.Set(breakerStateValue(to))
			slog.Warn("relay circuit breaker state changed", "state", to.String())
		},
	})
	return &Sink{rdb: rdb, breaker: breaker, prefix: prefix, now: time.Now}
}

// Publish relays one notification. An open breaker drops the message
// and reports it through metrics rather than an error.
func (s *Sink) Publish(ctx context.Context, n eventsub.NotificationReceived) error {
	if n.SubscriptionType == "" {
		metrics.RelayPublishes.WithLabelValues("error").Inc()
		return fmt.Errorf("notification has no subscription type")
	}

	msg := Message{
		RelayID:          uuid.NewString(),
		MessageID:        n.MessageID,
		SubscriptionType: n.SubscriptionType,
		Event:            n.Event,
		ReceivedAt:       s.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		metrics.RelayPublishes.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal relay message: %w", err)
	}

	channel := s.Channel(n.SubscriptionType)
	_, err = s.breaker.Execute(func() (any, error) {
		publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		return nil, s.rdb.Publish(publishCtx, channel, data).Err()
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RelayPublishes.WithLabelValues("breaker_open").Inc()
		slog.Warn("relay breaker open, dropping notification", "subscription_type", n.SubscriptionType)
		return nil
	case err != nil:
		metrics.RelayPublishes.WithLabelValues("error").Inc()
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	metrics.RelayPublishes.WithLabelValues("ok").Inc()
	slog.Debug("notification relayed", "channel", channel, "message_id", n.MessageID)
	return nil
}

// Channel returns the Redis channel for a subscription type.
func (s *Sink) Channel(subscriptionType string) string {
	return s.prefix + ":" + subscriptionType
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
