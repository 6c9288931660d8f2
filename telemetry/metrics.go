// Package telemetry provides Prometheus metrics, OTLP tracing setup, and
// correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered eagerly on the default registry so every package
// (and its tests) can increment them without an init step.
var (
	// Counters
	PollCycles           = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_poll_cycles_total", Help: "Number of stream poll cycles completed"})
	PollErrors           = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_poll_errors_total", Help: "Number of stream poll cycles that failed"})
	NotificationsEmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_notifications_emitted_total", Help: "Number of go-live notifications emitted"})
	ChatMessagesSent     = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_chat_messages_sent_total", Help: "Number of chat messages sent"})
	ChatSendFailures     = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_chat_send_failures_total", Help: "Number of chat sends that failed after retry"})
	ChatMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_chat_messages_received_total", Help: "Number of chat messages received"})
	ChatReconnects       = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_chat_reconnects_total", Help: "Number of chat reconnect attempts"})
	TokenRefreshes       = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_token_refreshes_total", Help: "Number of successful OAuth token refreshes"})
	TokenRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "zeddybot_token_refresh_failures_total", Help: "Number of failed OAuth token refreshes"})

	// Gauges
	ChatConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "zeddybot_chat_connected", Help: "Chat transport joined=1 disconnected=0"})
	LiveChannelsGauge  = promauto.NewGauge(prometheus.GaugeOpts{Name: "zeddybot_live_channels", Help: "Watched channels currently live"})
)

// SetChatConnected records the transport state as a gauge.
func SetChatConnected(connected bool) {
	if connected {
		ChatConnectedGauge.Set(1)
	} else {
		ChatConnectedGauge.Set(0)
	}
}

// SetLiveChannels records the number of watched channels currently live.
func SetLiveChannels(n int) {
	LiveChannelsGauge.Set(float64(n))
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
