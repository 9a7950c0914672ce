package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed and ledger instrumentation, exposed on /metrics.
var (
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpaper_feed_frames_total",
		Help: "Inbound feed frames by classified kind.",
	}, []string{"kind"})

	MalformedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinpaper_feed_malformed_frames_total",
		Help: "Inbound frames dropped because they failed to parse or classify.",
	})

	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinpaper_feed_reconnects_total",
		Help: "Feed connection attempts after a failure.",
	})

	RestRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpaper_rest_requests_total",
		Help: "Outbound REST requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpaper_ledger_trades_total",
		Help: "Simulated trades executed by side.",
	}, []string{"side"})
)
