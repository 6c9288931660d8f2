// Command zeddybot keeps a Discord community and a Twitch channel in sync
// with a streamer's live status. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, runs idempotent migrations, and hydrates the
//     OAuth credential store from the oauth_tokens table.
//   - Joins the target channel's Twitch chat over raw IRC and keeps the
//     connection alive with PING probes.
//   - Polls Helix for the watchlist's live status and announces go-live
//     events to a Discord webhook and the channel's own chat.
//   - Runs proactive OAuth refresh loops for the bot user token (rotating
//     refresh token) and the app access token.
//   - Exposes an HTTP API with /healthz, /readyz, /status, /chat/recent,
//     /chat/send, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/renegadezed/zeddybot/chat"
	"github.com/renegadezed/zeddybot/config"
	"github.com/renegadezed/zeddybot/credentials"
	"github.com/renegadezed/zeddybot/db"
	"github.com/renegadezed/zeddybot/notify"
	"github.com/renegadezed/zeddybot/oauth"
	"github.com/renegadezed/zeddybot/server"
	"github.com/renegadezed/zeddybot/telemetry"
	"github.com/renegadezed/zeddybot/twitchapi"
)

const (
	providerBot = "twitch_bot"
	providerApp = "twitch_app"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.InitTracing("zeddybot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first, embedded SQL as fallback for deployments
	// that predate the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting embedded SQL fallback",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := hydrateCredentials(ctx, database, cfg)

	appTokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
	}
	if app := creds.AppAccessToken(); app != "" {
		// Reuse the stored token until its first grant; actual expiry is
		// unknown so assume a conservative hour.
		appTokens.SetToken(app, time.Now().Add(time.Hour))
	}

	botClientID, botClientSecret := cfg.BotClientID, cfg.BotClientSecret
	if botClientID == "" {
		botClientID, botClientSecret = cfg.TwitchClientID, cfg.TwitchClientSecret
	}
	refresher := &oauth.Refresher{
		Creds: creds,
		Auth:  &twitchapi.AuthClient{ClientID: botClientID, ClientSecret: botClientSecret},
	}

	history := chat.NewHistory(chat.DefaultHistorySize)
	transport := chat.NewTransport(cfg.BotUsername, cfg.TargetChannel, creds.BotAccessToken)
	transport.OnAuthFailure = func(actx context.Context) error {
		_, err := refresher.RefreshBotToken(actx)
		return err
	}
	transport.OnMessage = func(m chat.Message) {
		history.Append(m)
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := db.InsertChatMessage(ictx, database, m.Channel, m.Username, m.Text, m.At); err != nil {
			slog.Error("failed to persist chat message", slog.Any("err", err))
		}
	}

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat transport disabled", slog.Any("reason", err))
	} else {
		startChat(ctx, cfg, transport, refresher)
	}

	refresher.Start(ctx, cfg.BotRefreshEvery)
	var poller *notify.Poller
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oauth.StartAppTokenRefresher(ctx, creds, appTokens, cfg.AppRefreshEvery)

		helix := &twitchapi.HelixClient{AppTokenSource: appTokens, ClientID: cfg.TwitchClientID}
		var sinks []notify.Sink
		if cfg.DiscordWebhookURL != "" {
			sinks = append(sinks, &notify.WebhookSink{URL: cfg.DiscordWebhookURL})
		}
		sinks = append(sinks, &notify.ChatSink{Sender: transport, TargetChannel: cfg.TargetChannel})
		poller = notify.NewPoller(helix, cfg.Watchlist, sinks...)
		go poller.Start(ctx, cfg.PollInterval)
	} else {
		slog.Info("stream poller disabled (missing twitch app credentials)")
	}

	handlers := server.NewHandlers(database, transport, history, cfg)
	if poller != nil {
		handlers.LiveCount = poller.LiveCount
	}
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(handlers)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	if err := transport.Close(); err != nil {
		slog.Warn("chat transport close error", slog.Any("err", err))
	}
}

// initLogging configures the default slog logger from LOG_LEVEL and
// LOG_FORMAT (text | json).
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

// hydrateCredentials seeds the in-memory credential store from the
// oauth_tokens table, falling back to environment variables for first-run
// bootstrap, and wires persistence back to the same table.
func hydrateCredentials(ctx context.Context, database *sql.DB, cfg *config.Config) *credentials.Store {
	botAccess, botRefresh, err := db.GetOAuthToken(ctx, database, providerBot)
	if err != nil {
		slog.Warn("failed to load stored bot tokens", slog.Any("err", err))
	}
	if botAccess == "" {
		botAccess = os.Getenv("TWITCH_BOT_ACCESS_TOKEN")
	}
	if botRefresh == "" {
		botRefresh = os.Getenv("TWITCH_BOT_REFRESH_TOKEN")
	}
	appAccess, _, err := db.GetOAuthToken(ctx, database, providerApp)
	if err != nil {
		slog.Warn("failed to load stored app token", slog.Any("err", err))
	}

	initial := credentials.Set{
		AppClientID:     cfg.TwitchClientID,
		AppSecret:       cfg.TwitchClientSecret,
		AppAccessToken:  appAccess,
		BotClientID:     cfg.BotClientID,
		BotSecret:       cfg.BotClientSecret,
		BotAccessToken:  botAccess,
		BotRefreshToken: botRefresh,
		BotUsername:     cfg.BotUsername,
		TargetChannel:   cfg.TargetChannel,
	}
	return credentials.NewStore(initial, func(pctx context.Context, set credentials.Set) error {
		if err := db.UpsertOAuthToken(pctx, database, providerBot, set.BotAccessToken, set.BotRefreshToken); err != nil {
			return err
		}
		return db.UpsertOAuthToken(pctx, database, providerApp, set.AppAccessToken, "")
	})
}

// startChat ensures the bot token is valid, joins the channel, and starts
// the keepalive loop. Connection failures are retried by the keepalive
// probes, never fatal at startup.
func startChat(ctx context.Context, cfg *config.Config, transport *chat.Transport, refresher *oauth.Refresher) {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if _, err := refresher.EnsureValid(cctx); err != nil {
		slog.Warn("bot token validation failed at startup", slog.Any("err", err))
	}
	if err := transport.Connect(cctx); err != nil {
		slog.Error("initial chat connect failed", slog.Any("err", err))
	}
	cancel()

	go func() {
		ticker := time.NewTicker(cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				kctx, kcancel := context.WithTimeout(ctx, 30*time.Second)
				if err := transport.CheckLiveness(kctx); err != nil {
					slog.Warn("chat keepalive reconnect failed", slog.Any("err", err))
				}
				kcancel()
			}
		}
	}()
}
