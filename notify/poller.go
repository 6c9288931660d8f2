// Package notify tracks the live status of watched Twitch channels and
// emits edge-triggered go-live notifications.
//
// A notification fires when a channel transitions from offline to live, or
// when a live channel's started_at moves strictly later (a new session after
// an unseen restart). Repeated polls of an unchanged live stream, and stale
// out-of-order timestamps, fire nothing. A failed poll mutates no state, so
// transient API errors never cause missed or duplicated notifications.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/renegadezed/zeddybot/telemetry"
	"github.com/renegadezed/zeddybot/twitchapi"
)

// Notification describes a single go-live event.
type Notification struct {
	UserLogin string
	UserName  string
	Title     string
	GameName  string
	StartedAt time.Time
}

// Sink receives notifications. Implementations must tolerate being called
// from the poll loop goroutine.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// StreamAPI is the slice of the Helix client the poller needs.
type StreamAPI interface {
	GetUsers(ctx context.Context, logins []string) (map[string]string, error)
	GetStreams(ctx context.Context, userIDs []string) ([]twitchapi.Stream, error)
}

// Poller polls stream state for a fixed watchlist and dispatches
// notifications to its sinks.
type Poller struct {
	Watchlist []string
	Client    StreamAPI
	Sinks     []Sink

	tickMu  sync.Mutex // held for the duration of a tick; skipped ticks never overlap
	stateMu sync.Mutex
	// lastStart records the started_at of the most recent session notified
	// per login. A zero time means the channel was last seen offline.
	lastStart map[string]time.Time
	userIDs   map[string]string
	// idsResolved flips after one successful lookup. Logins unknown to the
	// API stay unresolved for the process lifetime rather than re-querying
	// every cycle.
	idsResolved bool
}

// NewPoller returns a poller for the given watchlist. Sinks may be appended
// before Start.
func NewPoller(client StreamAPI, watchlist []string, sinks ...Sink) *Poller {
	return &Poller{
		Watchlist: watchlist,
		Client:    client,
		Sinks:     sinks,
		lastStart: make(map[string]time.Time),
	}
}

// Poll fetches the current stream state and returns the notifications that
// fired. On any fetch error the tracked state is left untouched and no
// notification is emitted.
func (p *Poller) Poll(ctx context.Context) ([]Notification, error) {
	if len(p.Watchlist) == 0 {
		return nil, nil
	}

	ids, err := p.resolveUserIDs(ctx)
	if err != nil {
		telemetry.PollErrors.Inc()
		return nil, err
	}
	streams, err := p.Client.GetStreams(ctx, ids)
	if err != nil {
		telemetry.PollErrors.Inc()
		return nil, err
	}
	telemetry.PollCycles.Inc()

	live := make(map[string]twitchapi.Stream, len(streams))
	for _, s := range streams {
		live[s.UserLogin] = s
	}
	telemetry.SetLiveChannels(len(live))

	p.stateMu.Lock()
	var fired []Notification
	for _, login := range p.Watchlist {
		s, isLive := live[login]
		if !isLive {
			p.lastStart[login] = time.Time{}
			continue
		}
		if s.StartedAt.IsZero() {
			slog.Warn("live stream missing started_at, skipping",
				slog.String("user", login))
			continue
		}
		if prior := p.lastStart[login]; s.StartedAt.After(prior) {
			p.lastStart[login] = s.StartedAt
			fired = append(fired, Notification{
				UserLogin: s.UserLogin,
				UserName:  s.UserName,
				Title:     s.Title,
				GameName:  s.GameName,
				StartedAt: s.StartedAt,
			})
		}
	}
	p.stateMu.Unlock()

	for _, n := range fired {
		telemetry.NotificationsEmitted.Inc()
		p.dispatch(ctx, n)
	}
	return fired, nil
}

// LiveCount reports how many watched channels are currently recorded live.
func (p *Poller) LiveCount() int {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	n := 0
	for _, started := range p.lastStart {
		if !started.IsZero() {
			n++
		}
	}
	return n
}

// resolveUserIDs maps the watchlist to Helix user ids. The lookup runs once
// and is cached; a failed lookup retries on the next cycle.
func (p *Poller) resolveUserIDs(ctx context.Context) ([]string, error) {
	p.stateMu.Lock()
	cached := p.userIDs
	resolved := p.idsResolved
	p.stateMu.Unlock()

	if !resolved {
		m, err := p.Client.GetUsers(ctx, p.Watchlist)
		if err != nil {
			return nil, err
		}
		for _, login := range p.Watchlist {
			if _, ok := m[login]; !ok {
				slog.Warn("watched login did not resolve to a user id",
					slog.String("user", login))
			}
		}
		p.stateMu.Lock()
		p.userIDs = m
		p.idsResolved = true
		cached = m
		p.stateMu.Unlock()
	}

	ids := make([]string, 0, len(p.Watchlist))
	for _, login := range p.Watchlist {
		if id, ok := cached[login]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// dispatch fans a notification out to every sink. Sink errors are logged
// and never fail the poll; the session is already recorded so no duplicate
// will fire on the next cycle.
func (p *Poller) dispatch(ctx context.Context, n Notification) {
	for _, sink := range p.Sinks {
		if err := sink.Notify(ctx, n); err != nil {
			slog.Error("notification sink failed",
				slog.String("user", n.UserLogin),
				slog.Any("err", err))
		}
	}
}

// Start runs the poll loop until ctx is cancelled. A tick that arrives while
// the previous poll is still in flight is skipped.
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("stream poller started",
		slog.Int("watchlist", len(p.Watchlist)),
		slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("stream poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.tickMu.TryLock() {
		slog.Warn("previous poll still running, skipping tick")
		return
	}
	defer p.tickMu.Unlock()
	if _, err := p.Poll(ctx); err != nil {
		slog.Error("stream poll failed", slog.Any("err", err))
	}
}
