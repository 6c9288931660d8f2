package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/renegadezed/zeddybot/chat"
	"github.com/renegadezed/zeddybot/config"
	"github.com/renegadezed/zeddybot/db"
)

// ChatService is the slice of the chat transport the HTTP API needs.
type ChatService interface {
	SendMessage(ctx context.Context, text string) error
	Connected() bool
}

// Handlers carries the dependencies for all HTTP endpoints. db may be nil
// when the bot runs without persistence; DB-backed checks are then skipped.
type Handlers struct {
	db      *sql.DB
	chat    ChatService
	history *chat.History
	cfg     *config.Config
	started time.Time

	// LiveCount reports how many watched channels are currently live.
	// Optional; wired to the stream poller when polling is enabled.
	LiveCount func() int
}

// NewHandlers wires the endpoint dependencies.
func NewHandlers(db *sql.DB, chatSvc ChatService, history *chat.History, cfg *config.Config) *Handlers {
	return &Handlers{
		db:      db,
		chat:    chatSvc,
		history: history,
		cfg:     cfg,
		started: time.Now().UTC(),
	}
}

// HandleHealthz responds to liveness probes. With a database configured it
// also checks connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with per-check detail.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
		{"credentials", func() error {
			if h.db == nil {
				return nil
			}
			var count int
			err := h.db.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM oauth_tokens WHERE provider IN ('twitch_bot', 'twitch_app')").Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("missing OAuth tokens")
			}
			return nil
		}},
		{"chat", func() error {
			if h.chat == nil || !h.chat.Connected() {
				return fmt.Errorf("chat transport not connected")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports the bot's runtime state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	connected := h.chat != nil && h.chat.Connected()
	resp := map[string]any{
		"bot_username":   h.cfg.BotUsername,
		"target_channel": h.cfg.TargetChannel,
		"watchlist":      h.cfg.Watchlist,
		"chat_connected": connected,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}
	if h.LiveCount != nil {
		resp["live_channels"] = h.LiveCount()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleChatRecent returns the newest chat messages, oldest first. Accepts
// an optional ?limit= parameter. The default reads the in-memory ring
// buffer; ?source=db reads the persisted chat_messages table instead, which
// survives restarts.
func (h *Handlers) HandleChatRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	if r.URL.Query().Get("source") == "db" {
		if h.db == nil {
			http.Error(w, "persistence not configured", http.StatusServiceUnavailable)
			return
		}
		msgs, err := db.RecentChatMessages(r.Context(), h.db, h.cfg.TargetChannel, limit)
		if err != nil {
			http.Error(w, "failed to query chat history", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count":    len(msgs),
			"messages": msgs,
		})
		return
	}

	msgs := h.history.Recent(limit)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":    len(msgs),
		"messages": msgs,
	})
}

// HandleChatSend posts a message to the target channel's chat.
func (h *Handlers) HandleChatSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if h.chat == nil {
		http.Error(w, "chat transport unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.chat.SendMessage(r.Context(), req.Message); err != nil {
		http.Error(w, "failed to send message", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}
