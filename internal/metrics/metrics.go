// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal           *prometheus.CounterVec
	outcomesTotal        *prometheus.CounterVec
	deliveriesTotal      *prometheus.CounterVec
	proxyBansTotal       prometheus.Counter
	leaseConflictsTotal  prometheus.Counter
	reclaimedLeasesTotal *prometheus.CounterVec
	activeWorkers        prometheus.Gauge
	taskDurationSeconds  prometheus.Histogram
	backlogTasks         *prometheus.GaugeVec
	httpRequestSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listwatch_tasks_total",
				Help: "Total tasks processed, labeled by final action.",
			},
			[]string{"action"},
		)

		outcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listwatch_outcomes_total",
				Help: "Total page classifications, labeled by outcome tag.",
			},
			[]string{"outcome"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listwatch_deliveries_total",
				Help: "Total listing deliveries, labeled by group.",
			},
			[]string{"group"},
		)

		proxyBansTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listwatch_proxy_bans_total",
				Help: "Total proxies banned after access-denied signals.",
			},
		)

		leaseConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listwatch_lease_conflicts_total",
				Help: "Total mutations abandoned because the lease was lost.",
			},
		)

		reclaimedLeasesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listwatch_reclaimed_leases_total",
				Help: "Total stale leases cleared, labeled by resource.",
			},
			[]string{"resource"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "listwatch_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		taskDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "listwatch_task_duration_seconds",
				Help:    "Histogram of per-task processing durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		backlogTasks = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "listwatch_backlog_tasks",
				Help: "Tasks in the ledger, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "listwatch_http_request_seconds",
				Help:    "Histogram of ops-server request durations.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route", "status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records a finished task with its final action and duration.
func ObserveTask(action string, duration time.Duration) {
	tasksTotal.WithLabelValues(action).Inc()
	taskDurationSeconds.Observe(duration.Seconds())
}

// ObserveOutcome counts one classification result.
func ObserveOutcome(outcome string) {
	outcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDeliveries adds confirmed deliveries for a group.
func ObserveDeliveries(group string, n int) {
	if n > 0 {
		deliveriesTotal.WithLabelValues(group).Add(float64(n))
	}
}

// ObserveProxyBan counts one banned proxy.
func ObserveProxyBan() {
	proxyBansTotal.Inc()
}

// ObserveLeaseConflict counts one abandoned mutation.
func ObserveLeaseConflict() {
	leaseConflictsTotal.Inc()
}

// ObserveReclaimed adds cleared leases for a resource kind.
func ObserveReclaimed(resource string, n int64) {
	if n > 0 {
		reclaimedLeasesTotal.WithLabelValues(resource).Add(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// SetBacklog publishes the per-status task counts.
func SetBacklog(status string, n int64) {
	backlogTasks.WithLabelValues(status).Set(float64(n))
}

// ObserveHTTPRequest records one ops-server request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestSeconds.
		WithLabelValues(method, route, strconv.Itoa(status)).
		Observe(duration.Seconds())
}
