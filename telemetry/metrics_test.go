package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Fatalf("empty context returned %q", got)
	}
	ctx = WithCorrelation(ctx, "corr-abc")
	if got := GetCorrelation(ctx); got != "corr-abc" {
		t.Fatalf("got %q", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("expected a logger")
	}
}

func TestChatConnectedGauge(t *testing.T) {
	SetChatConnected(true)
	if v := testutil.ToFloat64(ChatConnectedGauge); v != 1 {
		t.Fatalf("gauge = %v, want 1", v)
	}
	SetChatConnected(false)
	if v := testutil.ToFloat64(ChatConnectedGauge); v != 0 {
		t.Fatalf("gauge = %v, want 0", v)
	}
}

func TestLiveChannelsGauge(t *testing.T) {
	SetLiveChannels(3)
	if v := testutil.ToFloat64(LiveChannelsGauge); v != 3 {
		t.Fatalf("gauge = %v, want 3", v)
	}
}
