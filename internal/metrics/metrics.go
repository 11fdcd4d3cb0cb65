package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tasksync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by outcome (success, partial, aborted, empty).",
		},
		[]string{"outcome"},
	)

	syncItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Queue items processed by outcome (success, conflict, error, permanent).",
		},
		[]string{"outcome"},
	)

	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_batch_duration_seconds",
			Help:      "Remote batch request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Queue items drained at the start of the last sync run.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncRuns, syncItems, batchDuration, queueDepth)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncSyncRun counts a finished sync run.
func IncSyncRun(outcome string) {
	syncRuns.WithLabelValues(outcome).Inc()
}

// IncSyncItem counts one processed queue item.
func IncSyncItem(outcome string) {
	syncItems.WithLabelValues(outcome).Inc()
}

// ObserveBatch records how long a remote batch request took.
func ObserveBatch(result string, d time.Duration) {
	batchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SetQueueDepth records the size of the drained queue.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
