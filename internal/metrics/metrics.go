package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics (relay)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Sync core metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_sent_total",
			Help: "Total messages sent through the sync core",
		},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Total message sends rejected by the relay",
		},
	)

	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_reconciliations_total",
			Help: "Echo reconciliation outcomes",
		},
		[]string{"outcome"}, // "matched", "inserted", "duplicate"
	)

	TypingSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_typing_swept_total",
			Help: "Typing indicators evicted by the expiry sweep",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_cache_hits_total",
			Help: "Read-through cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_cache_misses_total",
			Help: "Read-through cache misses",
		},
	)

	// Relay infrastructure metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_connections",
			Help: "Currently open subscription connections",
		},
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_broadcast_total",
			Help: "Events fanned out to room subscriptions",
		},
		[]string{"topic"},
	)

	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
