// Package oauth owns the bot token lifecycle: proactive scheduled refreshes,
// reactive refresh when a consumer observes an authentication failure, and
// validation of the stored token against the identity service. All refresh
// attempts are single-flight because Twitch rotates refresh tokens on every
// grant; a second concurrent refresh would present an already-consumed token
// and fail with invalid_grant.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/renegadezed/zeddybot/credentials"
	"github.com/renegadezed/zeddybot/telemetry"
	"github.com/renegadezed/zeddybot/twitchapi"
)

// Refresher coordinates refreshes of the bot's user token against the
// credential store.
type Refresher struct {
	Creds *credentials.Store
	Auth  *twitchapi.AuthClient

	mu sync.Mutex // serializes the refresh critical section
}

// RefreshBotToken exchanges the stored refresh token for a new token pair and
// replaces both values in the credential store. On a non-200 grant response
// the store is left untouched and the error carries the response body. A
// missing refresh token is a configuration error and fails fast.
func (r *Refresher) RefreshBotToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.Creds.Snapshot()
	if set.BotRefreshToken == "" {
		return "", errors.New("no refresh token available for bot account")
	}

	res, err := r.Auth.Refresh(ctx, set.BotRefreshToken)
	if err != nil {
		telemetry.TokenRefreshFailures.Inc()
		return "", fmt.Errorf("refresh bot token: %w", err)
	}
	// The grant response carries a NEW refresh token; store both values
	// wholesale or every later refresh fails with invalid_grant.
	r.Creds.SetBotTokens(ctx, res.AccessToken, res.RefreshToken)
	telemetry.TokenRefreshes.Inc()
	slog.Info("bot token refreshed")
	return res.AccessToken, nil
}

// EnsureValid validates the current bot token and refreshes it when invalid
// or indeterminate. Returns the token that should be used for the next call.
func (r *Refresher) EnsureValid(ctx context.Context) (string, error) {
	tok := r.Creds.BotAccessToken()
	if tok != "" {
		valid, err := r.Auth.Validate(ctx, tok)
		if err != nil {
			slog.Warn("token validation indeterminate, attempting refresh", slog.Any("err", err))
		}
		if valid {
			return tok, nil
		}
	}
	return r.RefreshBotToken(ctx)
}

// Start launches the proactive refresh loop. The bot token is refreshed
// unconditionally once per interval (daily in production) regardless of
// validity, so the rotation chain never goes stale during long unattended
// runs. Failures are logged and retried next cycle, never fatal.
func (r *Refresher) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	go func() {
		// Randomize the initial delay to spread load across instances.
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		initial := time.Duration(rand.Int63n(int64(time.Minute)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(initial):
		}
		for {
			rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if _, err := r.RefreshBotToken(rctx); err != nil {
				slog.Warn("scheduled bot token refresh failed", slog.Any("err", err))
			}
			cancel()
			select {
			case <-ctx.Done():
				return
			case <-time.After(jittered(interval)):
			}
		}
	}()
}

// StartAppTokenRefresher keeps the app access token used for Helix calls
// fresh in the credential store, fetching a new client-credentials token on a
// long fixed interval (five days by default).
func StartAppTokenRefresher(ctx context.Context, creds *credentials.Store, ts *twitchapi.TokenSource, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * 24 * time.Hour
	}
	go func() {
		for {
			rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			ts.Invalidate()
			if tok, err := ts.Get(rctx); err != nil {
				slog.Warn("app token refresh failed", slog.Any("err", err))
			} else {
				creds.SetAppAccessToken(rctx, tok)
				slog.Info("app access token refreshed")
			}
			cancel()
			select {
			case <-ctx.Done():
				return
			case <-time.After(jittered(interval)):
			}
		}
	}()
}

// jittered spreads wakeups by ±20% of the interval so multiple loops never
// stampede the token endpoint together.
func jittered(interval time.Duration) time.Duration {
	jitterRange := int64(interval / 5)
	if jitterRange <= 0 {
		return interval
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
	next := interval + jitter
	if next < interval/2 {
		next = interval / 2
	}
	return next
}
