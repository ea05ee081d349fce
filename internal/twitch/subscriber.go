package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	helix "github.com/nicklaw5/helix/v2"
	"golang.org/x/time/rate"

	"github.com/pulseline/twitchrelay/internal/metrics"
	"github.com/pulseline/twitchrelay/internal/platform/retry"
)

// Helix allows bursts but sustained subscription creation should stay
// well under the app rate limit.
const (
	subscribeRatePerSecond = 5
	subscribeBurst         = 10
)

// subscriptionVersions maps subscription types to their current API
// version. Types not listed default to "1".
var subscriptionVersions = map[string]string{
	"channel.chat.message":     "1",
	"channel.poll.begin":       "1",
	"channel.poll.progress":    "1",
	"channel.poll.end":         "1",
	"channel.prediction.begin": "1",
	"channel.prediction.end":   "1",
	"channel.follow":           "2",
	"channel.update":           "2",
}

// subscribeClient is the subset of the Helix client used by Subscriber.
type subscribeClient interface {
	tokenClient
	CreateEventSubSubscription(payload *helix.EventSubSubscription) (*helix.EventSubSubscriptionsResponse, error)
}

// rateLimitedError marks a 429 so the retry policy applies the longer
// backoff.
type rateLimitedError struct{ msg string }

func (e *rateLimitedError) Error() string { return e.msg }

// unauthorizedError marks a 401; the token has been invalidated and
// one more attempt is worth it.
type unauthorizedError struct{ msg string }

func (e *unauthorizedError) Error() string { return e.msg }

// rejectedError marks a non-retryable 4xx rejection.
type rejectedError struct{ msg string }

func (e *rejectedError) Error() string { return e.msg }

// Subscriber creates EventSub subscriptions with websocket transport.
// It owns app token freshness, rate limiting, and retries; callers
// just hand it the session id once the socket is welcomed.
type Subscriber struct {
	client            subscribeClient
	tokens            *tokenManager
	limiter           *rate.Limiter
	policy            retry.Policy
	broadcasterUserID string
	botUserID         string
	types             []string
}

// NewSubscriber builds a Subscriber backed by a real Helix client.
func NewSubscriber(clientID, clientSecret, broadcasterUserID, botUserID string, types []string, clock clockwork.Clock) (*Subscriber, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("create helix client: %w", err)
	}
	return newSubscriber(client, broadcasterUserID, botUserID, types, clock), nil
}

func newSubscriber(client subscribeClient, broadcasterUserID, botUserID string, types []string, clock clockwork.Clock) *Subscriber {
	return &Subscriber{
		client:            client,
		tokens:            newTokenManager(client, clock),
		limiter:           rate.NewLimiter(rate.Limit(subscribeRatePerSecond), subscribeBurst),
		broadcasterUserID: broadcasterUserID,
		botUserID:         botUserID,
		types:             types,
		policy: retry.Policy{
			MaxAttempts:      4,
			InitialBackoff:   500 * time.Millisecond,
			RateLimitBackoff: 5 * time.Second,
			Clock:            clock,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("subscription attempt failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
	}
}

// SubscribeAll creates one subscription per configured type on the
// given session. Failures are joined; one bad type does not stop the
// others.
func (s *Subscriber) SubscribeAll(ctx context.Context, sessionID string) error {
	var errs []error
	for _, subType := range s.types {
		if err := s.Subscribe(ctx, subType, sessionID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", subType, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe creates one EventSub subscription routed to sessionID.
// A 409 conflict means the subscription is already active on this
// session and counts as success.
func (s *Subscriber) Subscribe(ctx context.Context, subType, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is empty; subscriptions are not routable before session establishment")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	err := retry.DoVoid(ctx, s.policy, classifySubscribeError, func() error {
		return s.create(ctx, subType, sessionID)
	})
	if err != nil {
		var permanent *retry.PermanentError
		if errors.As(err, &permanent) {
			metrics.HelixSubscribeAttempts.WithLabelValues("permanent_error").Inc()
		} else {
			metrics.HelixSubscribeAttempts.WithLabelValues("exhausted").Inc()
		}
		return err
	}
	return nil
}

func (s *Subscriber) create(ctx context.Context, subType, sessionID string) error {
	if err := s.tokens.ensure(ctx); err != nil {
		return err
	}

	resp, err := s.client.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:      subType,
		Version:   versionFor(subType),
		Condition: s.conditionFor(subType),
		Transport: helix.EventSubTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	})
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		// Already subscribed on this session.
		metrics.HelixSubscribeAttempts.WithLabelValues("conflict").Inc()
		slog.Info("subscription already exists on session", "subscription_type", subType, "session_id", sessionID)
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		s.tokens.invalidate()
		return &unauthorizedError{msg: fmt.Sprintf("unauthorized (status %d): %s", resp.StatusCode, resp.ErrorMessage)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &rateLimitedError{msg: fmt.Sprintf("rate limited (status %d): %s", resp.StatusCode, resp.ErrorMessage)}
	case resp.StatusCode >= 400:
		return &rejectedError{msg: fmt.Sprintf("subscription rejected (status %d): %s", resp.StatusCode, resp.ErrorMessage)}
	}

	metrics.HelixSubscribeAttempts.WithLabelValues("success").Inc()
	id := ""
	if len(resp.Data.EventSubSubscriptions) > 0 {
		id = resp.Data.EventSubSubscriptions[0].ID
	}
	slog.Info("subscription created", "subscription_type", subType, "subscription_id", id, "session_id", sessionID)
	return nil
}

// conditionFor builds the condition block. Chat subscriptions need the
// reading user on top of the broadcaster.
func (s *Subscriber) conditionFor(subType string) helix.EventSubCondition {
	cond := helix.EventSubCondition{BroadcasterUserID: s.broadcasterUserID}
	if strings.HasPrefix(subType, "channel.chat.") {
		cond.UserID = s.botUserID
	}
	if subType == "channel.follow" {
		cond.ModeratorUserID = s.botUserID
	}
	return cond
}

func versionFor(subType string) string {
	if v, ok := subscriptionVersions[subType]; ok {
		return v
	}
	return "1"
}

// classifySubscribeError: 401 is worth one more attempt after a token
// refresh, 429 backs off longer, remaining 4xx are permanent.
func classifySubscribeError(err error) retry.Action {
	var rateLimited *rateLimitedError
	if errors.As(err, &rateLimited) {
		return retry.After
	}
	var rejected *rejectedError
	if errors.As(err, &rejected) {
		return retry.Stop
	}
	return retry.Retry
}
