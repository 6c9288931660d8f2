package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dbx
}

func TestMigrateIdempotent(t *testing.T) {
	dbx := testDB(t)
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	dbx := testDB(t)
	ctx := context.Background()
	provider := "test-twitch-bot"
	t.Cleanup(func() {
		_, _ = dbx.ExecContext(context.Background(), `DELETE FROM oauth_tokens WHERE provider=$1`, provider)
	})

	if err := UpsertOAuthToken(ctx, dbx, provider, "access-1", "refresh-1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	access, refresh, err := GetOAuthToken(ctx, dbx, provider)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "access-1" || refresh != "refresh-1" {
		t.Errorf("got (%q,%q), want (access-1,refresh-1)", access, refresh)
	}

	// Rotation overwrites both values.
	if err := UpsertOAuthToken(ctx, dbx, provider, "access-2", "refresh-2"); err != nil {
		t.Fatalf("upsert rotate: %v", err)
	}
	access, refresh, err = GetOAuthToken(ctx, dbx, provider)
	if err != nil {
		t.Fatalf("get after rotate: %v", err)
	}
	if access != "access-2" || refresh != "refresh-2" {
		t.Errorf("after rotation got (%q,%q), want (access-2,refresh-2)", access, refresh)
	}
}

func TestGetOAuthTokenMissing(t *testing.T) {
	dbx := testDB(t)
	access, refresh, err := GetOAuthToken(context.Background(), dbx, "nonexistent-provider")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "" || refresh != "" {
		t.Errorf("missing provider should return zero values, got (%q,%q)", access, refresh)
	}
}

func TestRecentChatMessages(t *testing.T) {
	dbx := testDB(t)
	ctx := context.Background()
	channel := "test_recent_chat"
	t.Cleanup(func() {
		_, _ = dbx.ExecContext(context.Background(), `DELETE FROM chat_messages WHERE channel=$1`, channel)
	})

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		text := string(rune('a' + i))
		if err := InsertChatMessage(ctx, dbx, channel, "viewer1", text, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	msgs, err := RecentChatMessages(ctx, dbx, channel, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	// Newest three, oldest first.
	if msgs[0].Text != "c" || msgs[1].Text != "d" || msgs[2].Text != "e" {
		t.Errorf("got %q %q %q", msgs[0].Text, msgs[1].Text, msgs[2].Text)
	}
}

func TestInsertChatMessage(t *testing.T) {
	dbx := testDB(t)
	ctx := context.Background()
	channel := "test_insert_chat"
	t.Cleanup(func() {
		_, _ = dbx.ExecContext(context.Background(), `DELETE FROM chat_messages WHERE channel=$1`, channel)
	})

	if err := InsertChatMessage(ctx, dbx, channel, "viewer1", "hello", time.Now().UTC()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var count int
	if err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE channel=$1`, channel).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
