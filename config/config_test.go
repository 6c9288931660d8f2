package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BotUsername != "zeddy_bot" {
		t.Errorf("BotUsername = %q, want zeddy_bot", cfg.BotUsername)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", cfg.PollInterval)
	}
	if cfg.KeepAliveInterval != 2*time.Minute {
		t.Errorf("KeepAliveInterval = %v, want 2m", cfg.KeepAliveInterval)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
}

func TestLoadWatchlist(t *testing.T) {
	t.Setenv("TWITCH_WATCHLIST", "Alice, bob ,,CAROL")
	t.Setenv("TWITCH_CHANNEL", "RenegadeZed")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"alice", "bob", "carol", "renegadezed"}
	if len(cfg.Watchlist) != len(want) {
		t.Fatalf("Watchlist = %v, want %v", cfg.Watchlist, want)
	}
	for i, name := range want {
		if cfg.Watchlist[i] != name {
			t.Errorf("Watchlist[%d] = %q, want %q", i, cfg.Watchlist[i], name)
		}
	}
	if cfg.TargetChannel != "renegadezed" {
		t.Errorf("TargetChannel = %q, want renegadezed", cfg.TargetChannel)
	}
}

func TestLoadWatchlistNoDuplicateTarget(t *testing.T) {
	t.Setenv("TWITCH_WATCHLIST", "renegadezed,alice")
	t.Setenv("TWITCH_CHANNEL", "renegadezed")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Watchlist) != 2 {
		t.Fatalf("Watchlist = %v, want 2 entries", cfg.Watchlist)
	}
}

func TestLoadIntervalOverride(t *testing.T) {
	t.Setenv("STREAM_POLL_INTERVAL", "30s")
	t.Setenv("CHAT_KEEPALIVE_INTERVAL", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.KeepAliveInterval != 2*time.Minute {
		t.Errorf("invalid duration should fall back to default, got %v", cfg.KeepAliveInterval)
	}
}

func TestValidateChatReady(t *testing.T) {
	cfg := &Config{BotUsername: "zeddy_bot"}
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error when TWITCH_CHANNEL is missing")
	}
	cfg.TargetChannel = "renegadezed"
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
