package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// rewriteTransport redirects requests for the real Twitch hosts to a test server.
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}

func testClientFor(serverURL string) *http.Client {
	return &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: serverURL}}
}

func seededHelix(serverURL string) *HelixClient {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", HTTPClient: testClientFor(serverURL)}
	ts.SetToken("test-token", time.Now().Add(1*time.Hour))
	return &HelixClient{
		AppTokenSource: ts,
		ClientID:       "test-client-id",
		HTTPClient:     testClientFor(serverURL),
	}
}

func TestHelixClient_GetUsers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/users" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		logins := r.URL.Query()["login"]
		if len(logins) != 2 || logins[0] != "alice" || logins[1] != "bob" {
			t.Fatalf("login params = %v, want [alice bob]", logins)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("Authorization = %q", got)
		}
		if got := r.Header.Get("Client-Id"); got != "test-client-id" {
			t.Fatalf("Client-Id = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{
				{"id": "u-1", "login": "Alice"},
				{"id": "u-2", "login": "bob"},
			},
		})
	}))
	defer server.Close()

	users, err := seededHelix(server.URL).GetUsers(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("GetUsers() error = %v", err)
	}
	if users["alice"] != "u-1" || users["bob"] != "u-2" {
		t.Fatalf("GetUsers() = %v", users)
	}
}

func TestHelixClient_GetUsersEmptyWatchlist(t *testing.T) {
	users, err := seededHelix("http://unused").GetUsers(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetUsers() error = %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected empty map, got %v", users)
	}
}

func TestHelixClient_GetStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/streams" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		ids := r.URL.Query()["user_id"]
		if len(ids) != 2 {
			t.Fatalf("user_id params = %v, want two ids", ids)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{
				"user_id":    "u-1",
				"user_login": "LiveChannel",
				"user_name":  "LiveChannel",
				"title":      "Live Now",
				"game_name":  "Chess",
				"started_at": "2024-10-15T14:30:00Z",
			}},
		})
	}))
	defer server.Close()

	streams, err := seededHelix(server.URL).GetStreams(context.Background(), []string{"u-1", "u-2"})
	if err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	if streams[0].Title != "Live Now" {
		t.Errorf("stream title = %q, want Live Now", streams[0].Title)
	}
	if streams[0].UserLogin != "livechannel" {
		t.Errorf("user login should be lowercased, got %q", streams[0].UserLogin)
	}
	want := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)
	if !streams[0].StartedAt.Equal(want) {
		t.Errorf("StartedAt = %v, want %v", streams[0].StartedAt, want)
	}
}

func TestHelixClient_GetStreamsSkipsMalformedStartedAt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{
				{"user_login": "broken", "started_at": "yesterday-ish"},
				{"user_login": "fine", "started_at": "2024-01-01T10:00:00Z"},
			},
		})
	}))
	defer server.Close()

	streams, err := seededHelix(server.URL).GetStreams(context.Background(), []string{"u-1"})
	if err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if len(streams) != 1 || streams[0].UserLogin != "fine" {
		t.Fatalf("malformed record should be skipped, got %+v", streams)
	}
}

func TestHelixClient_Retry5xx(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "u-9", "login": "retries"}},
		})
	}))
	defer server.Close()

	users, err := seededHelix(server.URL).GetUsers(context.Background(), []string{"retries"})
	if err != nil {
		t.Fatalf("GetUsers() error = %v", err)
	}
	if users["retries"] != "u-9" {
		t.Fatalf("GetUsers() = %v", users)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestHelixClient_RefreshTokenOn401(t *testing.T) {
	tokenRequests := 0
	userAttempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests++
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "fresh-token",
				"expires_in":   3600,
				"token_type":   "bearer",
			})
		case "/helix/users":
			userAttempts++
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{"id": "u-456", "login": "testuser"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := seededHelix(server.URL) // seeded with stale "test-token"

	users, err := client.GetUsers(context.Background(), []string{"testuser"})
	if err != nil {
		t.Fatalf("GetUsers() error = %v", err)
	}
	if users["testuser"] != "u-456" {
		t.Fatalf("GetUsers() = %v", users)
	}
	if tokenRequests != 1 {
		t.Fatalf("expected exactly one token refresh, got %d", tokenRequests)
	}
	// One 401 with the stale token, one success with the fresh one.
	if userAttempts != 2 {
		t.Fatalf("expected 2 /helix/users attempts, got %d", userAttempts)
	}
}

func TestHelixClient_ClientErrorNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	if _, err := seededHelix(server.URL).GetUsers(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (4xx is not retryable)", attempts)
	}
}
