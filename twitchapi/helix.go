package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// helixMaxRetries bounds attempts per Helix call: 5xx responses are retried,
// a 401 invalidates the cached app token and retries with a fresh one.
const helixMaxRetries = 3

// Stream is the canonical live-stream record used by the poller. StartedAt is
// already parsed; records with a malformed timestamp never reach callers.
type Stream struct {
	UserID    string
	UserLogin string
	UserName  string
	Title     string
	GameName  string
	StartedAt time.Time
}

// HelixClient provides the two batched lookups the poller needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// doGet performs an authenticated Helix GET with bounded retries, decoding
// the body into out on success.
func (hc *HelixClient) doGet(ctx context.Context, rawURL string, params map[string][]string, out any) error {
	var lastErr error
	for attempt := 0; attempt < helixMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
		retryable, err := hc.attempt(ctx, rawURL, params, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return lastErr
}

func (hc *HelixClient) attempt(ctx context.Context, rawURL string, params map[string][]string, out any) (retryable bool, err error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, err
	}
	q := req.URL.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := hc.http().Do(req)
	if err != nil {
		return true, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("failed to close response body", slog.Any("err", cerr))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// Stale app token; drop the cache and retry with a fresh one.
		hc.AppTokenSource.Invalidate()
		return true, fmt.Errorf("helix request unauthorized: %s", resp.Status)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("helix request failed: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("helix request failed: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, err
	}
	return false, nil
}

// GetUsers resolves login names to user IDs in one batched lookup. Logins
// unknown to Twitch are simply absent from the result map.
func (hc *HelixClient) GetUsers(ctx context.Context, logins []string) (map[string]string, error) {
	if len(logins) == 0 {
		return map[string]string{}, nil
	}
	var body struct {
		Data []struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := hc.doGet(ctx, "https://api.twitch.tv/helix/users", map[string][]string{"login": logins}, &body); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(body.Data))
	for _, u := range body.Data {
		out[strings.ToLower(u.Login)] = u.ID
	}
	return out, nil
}

// GetStreams fetches live-stream records for a batch of user IDs. Only
// currently-live users appear in the result. Records whose started_at cannot
// be parsed are skipped with a log line rather than failing the batch.
func (hc *HelixClient) GetStreams(ctx context.Context, userIDs []string) ([]Stream, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var body struct {
		Data []struct {
			UserID    string `json:"user_id"`
			UserLogin string `json:"user_login"`
			UserName  string `json:"user_name"`
			Title     string `json:"title"`
			GameName  string `json:"game_name"`
			StartedAt string `json:"started_at"`
		} `json:"data"`
	}
	if err := hc.doGet(ctx, "https://api.twitch.tv/helix/streams", map[string][]string{"user_id": userIDs}, &body); err != nil {
		return nil, err
	}
	out := make([]Stream, 0, len(body.Data))
	for _, s := range body.Data {
		startedAt, err := time.Parse(time.RFC3339, s.StartedAt)
		if err != nil {
			slog.Warn("skipping stream with malformed started_at",
				slog.String("user_login", s.UserLogin),
				slog.String("started_at", s.StartedAt),
				slog.Any("err", err))
			continue
		}
		out = append(out, Stream{
			UserID:    s.UserID,
			UserLogin: strings.ToLower(s.UserLogin),
			UserName:  s.UserName,
			Title:     s.Title,
			GameName:  s.GameName,
			StartedAt: startedAt.UTC(),
		})
	}
	return out, nil
}
