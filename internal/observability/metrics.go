package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kickctl",
			Subsystem: "reconcile",
			Name:      "ticks_total",
			Help:      "Reconciliation ticks by outcome.",
		},
		[]string{"outcome"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kickctl",
			Subsystem: "reconcile",
			Name:      "tick_duration_seconds",
			Help:      "Reconciliation tick duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	ledgerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kickctl",
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger RPC calls.",
		},
		[]string{"op", "success"},
	)
	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kickctl",
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Ledger RPC call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kickctl",
			Subsystem: "msig",
			Name:      "submissions_total",
			Help:      "msig transactions submitted by action.",
		},
		[]string{"action", "success"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kickctl",
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notifications by kind and delivery result.",
		},
		[]string{"kind", "delivered"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kickctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ticks, tickDuration, ledgerCalls, ledgerDuration, submissions, notifications, httpRequests)
	})
}

func RecordTick(outcome string, duration time.Duration) {
	RegisterMetrics()
	ticks.WithLabelValues(outcome).Inc()
	tickDuration.Observe(duration.Seconds())
}

func RecordLedgerCall(op string, duration time.Duration, err error) {
	RegisterMetrics()
	ledgerCalls.WithLabelValues(op, strconv.FormatBool(err == nil)).Inc()
	ledgerDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordSubmission(action string, err error) {
	RegisterMetrics()
	submissions.WithLabelValues(action, strconv.FormatBool(err == nil)).Inc()
}

func RecordNotification(kind string, delivered bool) {
	RegisterMetrics()
	notifications.WithLabelValues(kind, strconv.FormatBool(delivered)).Inc()
}

func RecordHTTPRequest(method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
