package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"

	PingSent     = "sent"
	PingReceived = "received"
	PongReceived = "pong"
	PingTimeout  = "timeout"
)

var (
	registerOnce sync.Once

	sessionFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balatrobot",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Data frames crossing the peer connection.",
		},
		[]string{"direction", "kind"},
	)
	sessionPings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balatrobot",
			Subsystem: "session",
			Name:      "pings_total",
			Help:      "Heartbeat events by type.",
		},
		[]string{"event"},
	)
	sessionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balatrobot",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Typed request round trips by outcome.",
		},
		[]string{"kind", "outcome"},
	)
	sessionRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "balatrobot",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Typed request round trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	sessionConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "balatrobot",
			Subsystem: "session",
			Name:      "connections",
			Help:      "Live peer connections.",
		},
		[]string{"role"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "balatrobot",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "balatrobot",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionFrames,
			sessionPings,
			sessionRequests,
			sessionRequestDuration,
			sessionConnections,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrame(direction, kind string) {
	RegisterMetrics()
	sessionFrames.WithLabelValues(direction, kind).Inc()
}

func RecordPing(event string) {
	RegisterMetrics()
	sessionPings.WithLabelValues(event).Inc()
}

func RecordRequest(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	sessionRequests.WithLabelValues(kind, outcome).Inc()
	sessionRequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func ConnectionOpened(role string) {
	RegisterMetrics()
	sessionConnections.WithLabelValues(role).Inc()
}

func ConnectionClosed(role string) {
	RegisterMetrics()
	sessionConnections.WithLabelValues(role).Dec()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
