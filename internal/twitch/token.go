package twitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	helix "github.com/nicklaw5/helix/v2"
	"golang.org/x/sync/singleflight"

	"github.com/pulseline/twitchrelay/internal/metrics"
)

// Refresh when less than a minute of validity remains.
const tokenExpiryMargin = time.Minute

// tokenClient is the subset of the Helix client used by tokenManager.
type tokenClient interface {
	RequestAppAccessToken(scopes []string) (*helix.AppAccessTokenResponse, error)
	SetAppAccessToken(token string)
}

// tokenManager keeps a valid app access token on the Helix client.
// Concurrent refreshes collapse into one request.
type tokenManager struct {
	client tokenClient
	clock  clockwork.Clock
	group  singleflight.Group

	mu     sync.Mutex
	expiry time.Time
}

func newTokenManager(client tokenClient, clock clockwork.Clock) *tokenManager {
	return &tokenManager{client: client, clock: clock}
}

// ensure requests a fresh app access token if the current one is
// missing or about to expire.
func (tm *tokenManager) ensure(ctx context.Context) error {
	tm.mu.Lock()
	valid := tm.clock.Now().Add(tokenExpiryMargin).Before(tm.expiry)
	tm.mu.Unlock()
	if valid {
		return nil
	}

	_, err, _ := tm.group.Do("app-token", func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := tm.client.RequestAppAccessToken(nil)
		if err != nil {
			metrics.HelixTokenRefreshes.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("request app access token: %w", err)
		}
		if resp.StatusCode >= 400 {
			metrics.HelixTokenRefreshes.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("app access token request failed with status %d: %s", resp.StatusCode, resp.ErrorMessage)
		}

		tm.client.SetAppAccessToken(resp.Data.AccessToken)
		tm.mu.Lock()
		tm.expiry = tm.clock.Now().Add(time.Duration(resp.Data.ExpiresIn) * time.Second)
		tm.mu.Unlock()

		metrics.HelixTokenRefreshes.WithLabelValues("success").Inc()
		return nil, nil
	})
	return err
}

// invalidate forces the next ensure call to refresh.
func (tm *tokenManager) invalidate() {
	tm.mu.Lock()
	tm.expiry = time.Time{}
	tm.mu.Unlock()
}
