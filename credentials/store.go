// Package credentials holds the mutable credential set shared by the chat
// transport, the Helix pollers, and the token refresher. All access goes
// through a Store so a token refresh taking effect is visible on the very
// next read, and every successful mutation is pushed to external storage
// through a persist callback.
package credentials

import (
	"context"
	"log/slog"
	"sync"
)

// Set is one immutable snapshot of every credential the core uses.
type Set struct {
	AppClientID    string
	AppSecret      string
	AppAccessToken string

	BotClientID     string
	BotSecret       string
	BotAccessToken  string
	BotRefreshToken string
	BotUsername     string

	TargetChannel string
}

// PersistFunc receives the full credential set after a successful mutation.
// Persistence failures are logged by the store and never fail the mutation;
// the in-memory value is already the source of truth for running loops.
type PersistFunc func(ctx context.Context, set Set) error

// Store provides atomic reads and writes over a credential set.
type Store struct {
	mu      sync.RWMutex
	set     Set
	persist PersistFunc
}

// NewStore seeds a store with an initial credential set. persist may be nil.
func NewStore(initial Set, persist PersistFunc) *Store {
	return &Store{set: initial, persist: persist}
}

// Snapshot returns a copy of the current credential set.
func (s *Store) Snapshot() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// BotAccessToken returns the current bot chat token. Read fresh on every
// use so a refresh takes effect on the next send.
func (s *Store) BotAccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.BotAccessToken
}

// AppAccessToken returns the current app access token for Helix calls.
func (s *Store) AppAccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.AppAccessToken
}

// SetBotTokens replaces the bot access and refresh tokens wholesale.
// Refresh tokens rotate on every grant, so both values always come from
// the same grant response and are never merged with prior values.
func (s *Store) SetBotTokens(ctx context.Context, access, refresh string) {
	s.mu.Lock()
	s.set.BotAccessToken = access
	s.set.BotRefreshToken = refresh
	set := s.set
	s.mu.Unlock()
	s.persistSet(ctx, set)
}

// SetAppAccessToken replaces the app access token.
func (s *Store) SetAppAccessToken(ctx context.Context, token string) {
	s.mu.Lock()
	s.set.AppAccessToken = token
	set := s.set
	s.mu.Unlock()
	s.persistSet(ctx, set)
}

func (s *Store) persistSet(ctx context.Context, set Set) {
	if s.persist == nil {
		return
	}
	if err := s.persist(ctx, set); err != nil {
		slog.Warn("credential persist failed", slog.Any("err", err))
	}
}
