package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	helix "github.com/nicklaw5/helix/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseline/twitchrelay/internal/platform/retry"
)

// fakeHelix scripts responses for the subset of the Helix client the
// subscriber uses.
type fakeHelix struct {
	mu sync.Mutex

	tokenRequests int
	tokenStatus   int
	token         string

	createStatuses []int // consumed one per CreateEventSubSubscription call
	created        []*helix.EventSubSubscription
}

func newFakeHelix(statuses ...int) *fakeHelix {
	return &fakeHelix{tokenStatus: http.StatusOK, createStatuses: statuses}
}

func (f *fakeHelix) RequestAppAccessToken(_ []string) (*helix.AppAccessTokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenRequests++
	resp := &helix.AppAccessTokenResponse{}
	resp.StatusCode = f.tokenStatus
	resp.Data.AccessToken = "app-token"
	resp.Data.ExpiresIn = 3600
	return resp, nil
}

func (f *fakeHelix) SetAppAccessToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeHelix) CreateEventSubSubscription(payload *helix.EventSubSubscription) (*helix.EventSubSubscriptionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, payload)

	status := http.StatusAccepted
	if len(f.createStatuses) > 0 {
		status = f.createStatuses[0]
		f.createStatuses = f.createStatuses[1:]
	}

	resp := &helix.EventSubSubscriptionsResponse{}
	resp.StatusCode = status
	if status == http.StatusAccepted {
		resp.Data.EventSubSubscriptions = []helix.EventSubSubscription{{ID: "sub-1"}}
	} else {
		resp.ErrorMessage = http.StatusText(status)
	}
	return resp, nil
}

func fastSubscriber(client subscribeClient, types ...string) *Subscriber {
	s := newSubscriber(client, "12345", "67890", types, clockwork.NewRealClock())
	s.policy.InitialBackoff = time.Millisecond
	s.policy.RateLimitBackoff = time.Millisecond
	s.policy.OnRetry = nil
	return s
}

func TestSubscribe_Success(t *testing.T) {
	fake := newFakeHelix(http.StatusAccepted)
	s := fastSubscriber(fake, "channel.chat.message")

	err := s.Subscribe(context.Background(), "channel.chat.message", "sess-1")
	require.NoError(t, err)

	require.Len(t, fake.created, 1)
	payload := fake.created[0]
	assert.Equal(t, "channel.chat.message", payload.Type)
	assert.Equal(t, "1", payload.Version)
	assert.Equal(t, "websocket", payload.Transport.Method)
	assert.Equal(t, "sess-1", payload.Transport.SessionID)
	assert.Equal(t, "12345", payload.Condition.BroadcasterUserID)
	// Chat subscriptions carry the reading user.
	assert.Equal(t, "67890", payload.Condition.UserID)
	assert.Equal(t, "app-token", fake.token)
}

func TestSubscribe_EmptySessionID(t *testing.T) {
	fake := newFakeHelix()
	s := fastSubscriber(fake, "channel.chat.message")

	err := s.Subscribe(context.Background(), "channel.chat.message", "")
	require.Error(t, err)
	assert.Empty(t, fake.created)
}

func TestSubscribe_ConflictIsSuccess(t *testing.T) {
	fake := newFakeHelix(http.StatusConflict)
	s := fastSubscriber(fake, "channel.chat.message")

	err := s.Subscribe(context.Background(), "channel.chat.message", "sess-1")
	assert.NoError(t, err)
	assert.Len(t, fake.created, 1)
}

func TestSubscribe_BadRequestIsPermanent(t *testing.T) {
	fake := newFakeHelix(http.StatusBadRequest)
	s := fastSubscriber(fake, "channel.chat.message")

	err := s.Subscribe(context.Background(), "channel.chat.message", "sess-1")
	require.Error(t, err)
	// No retries on a permanent rejection.
	assert.Len(t, fake.created, 1)
}

func TestSubscribe_RateLimitedThenSuccess(t *testing.T) {
	fake := newFakeHelix(http.StatusTooManyRequests, http.StatusAccepted)
	s := fastSubscriber(fake, "channel.chat.message")

	err := s.Subscribe(context.Background(), "channel.chat.message", "sess-1")
	require.NoError(t, err)
	assert.Len(t, fake.created, 2)
}

func TestSubscribe_UnauthorizedInvalidatesToken(t *testing.T) {
	fake := newFakeHelix(http.StatusUnauthorized, http.StatusAccepted)
	s := fastSubscriber(fake, "channel.chat.message")

	err := s.Subscribe(context.Background(), "channel.chat.message", "sess-1")
	require.NoError(t, err)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	// Token refreshed once up front, once after the 401.
	assert.Equal(t, 2, fake.tokenRequests)
}

func TestSubscribeAll(t *testing.T) {
	fake := newFakeHelix()
	s := fastSubscriber(fake, "channel.chat.message", "channel.poll.begin")

	err := s.SubscribeAll(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, fake.created, 2)
	assert.Equal(t, "channel.chat.message", fake.created[0].Type)
	assert.Equal(t, "channel.poll.begin", fake.created[1].Type)
	// Poll subscriptions do not carry the reading user.
	assert.Empty(t, fake.created[1].Condition.UserID)
}

func TestSubscribeAll_CollectsFailures(t *testing.T) {
	fake := newFakeHelix(http.StatusBadRequest, http.StatusAccepted)
	s := fastSubscriber(fake, "channel.chat.message", "channel.poll.begin")

	err := s.SubscribeAll(context.Background(), "sess-1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "channel.chat.message")
	// The second type still went through.
	assert.Len(t, fake.created, 2)
}

func TestClassifySubscribeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Action
	}{
		{"rate limited", &rateLimitedError{msg: "rate limited (status 429)"}, retry.After},
		{"rejected", &rejectedError{msg: "subscription rejected (status 400)"}, retry.Stop},
		{"unauthorized", &unauthorizedError{msg: "unauthorized (status 401)"}, retry.Retry},
		{"wrapped rejection", fmt.Errorf("create: %w", &rejectedError{msg: "subscription rejected"}), retry.Stop},
		{"transport failure", errors.New("connection reset"), retry.Retry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifySubscribeError(tt.err))
		})
	}
}

func TestTokenManager_ReusesFreshToken(t *testing.T) {
	fake := newFakeHelix(http.StatusAccepted, http.StatusAccepted)
	s := fastSubscriber(fake, "channel.chat.message")

	require.NoError(t, s.Subscribe(context.Background(), "channel.chat.message", "sess-1"))
	require.NoError(t, s.Subscribe(context.Background(), "channel.chat.message", "sess-1"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.tokenRequests)
}
