package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MessagesTotal     *prometheus.CounterVec
	AIRequestDuration prometheus.Histogram
	AIFailures        *prometheus.CounterVec
	FallbackReplies   prometheus.Counter
	RateLimited       prometheus.Counter
	WSConnections     prometheus.Gauge
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botnest",
				Name:      "messages_total",
				Help:      "Total messages persisted, by role",
			}, []string{"role"}),
			AIRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "botnest",
				Name:      "ai_request_duration_seconds",
				Help:      "Latency of upstream generation calls",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			}),
			AIFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botnest",
				Name:      "ai_failures_total",
				Help:      "Upstream generation failures, by error class",
			}, []string{"class"}),
			FallbackReplies: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botnest",
				Name:      "fallback_replies_total",
				Help:      "Replies served from the configured fallback text",
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botnest",
				Name:      "rate_limited_total",
				Help:      "Visitor messages rejected by the rate limiter",
			}),
			WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "botnest",
				Name:      "ws_connections",
				Help:      "Currently connected websocket listeners",
			}),
		}
		prometheus.MustRegister(
			global.MessagesTotal,
			global.AIRequestDuration,
			global.AIFailures,
			global.FallbackReplies,
			global.RateLimited,
			global.WSConnections,
		)
	})
	return global
}
