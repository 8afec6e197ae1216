// Package metrics provides Prometheus metrics for the wodboard scoring service.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets are tuned for store transactions measured in milliseconds.
var latencyBuckets = []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000} //nolint:gochecknoglobals

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// exposed is the registry served on /healthz for the global manager.
	exposed *prometheus.Registry

	// Engine
	mutations          *prometheus.CounterVec
	casConflicts       *prometheus.CounterVec
	transactionRetries prometheus.Counter
	transactionLatency *prometheus.HistogramVec

	// Timer / auto-finish
	autoFinish     *prometheus.CounterVec
	activeSessions prometheus.Gauge

	// Fan-out
	subscribers      *prometheus.GaugeVec
	eventsPublished  prometheus.Counter
	eventsDropped    prometheus.Counter
	leaderboardRanks prometheus.Counter

	// Commands
	commandsDuplicate prometheus.Counter

	// Jobs
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueRejected   *prometheus.CounterVec
	workerCount     prometheus.Gauge
	jobLatency      prometheus.Histogram
	jobFailures     prometheus.Counter
	recordsTracked  prometheus.Gauge
	errorsComponent *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager atomic.Pointer[Manager] //nolint:gochecknoglobals // singleton metrics manager

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager.Store(newGlobal())
}

// Init replaces the global collectors with a set built from opts on a
// fresh registry. Call it once at startup, before anything is served.
func Init(opts ...Option) {
	globalManager.Store(newGlobal(opts...))
}

func newGlobal(opts ...Option) *Manager {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := NewManager(append(append([]Option{}, opts...), WithPrometheusRegistry(reg))...)
	m.exposed = reg
	return m
}

func current() *Manager { return globalManager.Load() }

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "wodboard",
		subsystem:        "scoring",
		histogramBuckets: latencyBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.mutations = auto.NewCounterVec(m.counterOpts("mutations_total",
		"Score mutations by operation and outcome (applied, noop, error)"),
		[]string{"op", "outcome"})
	m.casConflicts = auto.NewCounterVec(m.counterOpts("cas_conflicts_total",
		"Optimistic concurrency conflicts by operation"), []string{"op"})
	m.transactionRetries = auto.NewCounter(m.counterOpts("transaction_retries_total",
		"Transaction attempts beyond the first"))
	m.transactionLatency = auto.NewHistogramVec(m.histogramOpts("transaction_latency_milliseconds",
		"Latency of a full mutation including retries"), []string{"op"})

	m.autoFinish = auto.NewCounterVec(m.counterOpts("auto_finish_total",
		"Cap-triggered finishes by outcome"), []string{"outcome"})
	m.activeSessions = auto.NewGauge(m.gaugeOpts("timer_sessions",
		"Timer sessions currently watching a record"))

	m.subscribers = auto.NewGaugeVec(m.gaugeOpts("subscribers",
		"Open change-stream subscriptions by scope"), []string{"scope"})
	m.eventsPublished = auto.NewCounter(m.counterOpts("events_published_total",
		"Committed snapshots published to subscribers"))
	m.eventsDropped = auto.NewCounter(m.counterOpts("events_dropped_total",
		"Snapshots replaced before a slow subscriber consumed them"))
	m.leaderboardRanks = auto.NewCounter(m.counterOpts("leaderboard_projections_total",
		"Leaderboard re-rank passes"))

	m.commandsDuplicate = auto.NewCounter(m.counterOpts("commands_duplicate_total",
		"Judge commands acknowledged without re-applying (idempotency key seen)"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("job_queue_size", "Pending jobs"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("job_queue_capacity", "Job queue capacity"))
	m.queueRejected = auto.NewCounterVec(m.counterOpts("job_queue_rejected_total",
		"Jobs rejected by reason"), []string{"reason"})
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Job workers running"))
	m.jobLatency = auto.NewHistogram(m.histogramOpts("job_latency_milliseconds",
		"Job processing latency"))
	m.jobFailures = auto.NewCounter(m.counterOpts("job_failures_total",
		"Jobs that exhausted their retries"))
	m.recordsTracked = auto.NewGauge(m.gaugeOpts("records",
		"Score records held by the store"))
	m.errorsComponent = auto.NewCounterVec(m.counterOpts("errors_total",
		"Errors by component and type"), []string{"component", "type"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration"), []string{"endpoint", "method", "status_code"})
}

// RecordMutation counts one engine operation outcome.
func RecordMutation(op, outcome string) {
	current().mutations.WithLabelValues(op, outcome).Inc()
}

// RecordConflict counts one CAS conflict.
func RecordConflict(op string) {
	current().casConflicts.WithLabelValues(op).Inc()
}

// RecordRetry counts one transaction retry.
func RecordRetry() {
	current().transactionRetries.Inc()
}

// RecordTransactionLatency observes the latency of one operation.
func RecordTransactionLatency(op string, latencyMs float64) {
	current().transactionLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordAutoFinish counts one auto-finish outcome (applied, noop, failed).
func RecordAutoFinish(outcome string) {
	current().autoFinish.WithLabelValues(outcome).Inc()
}

// AddTimerSessions adjusts the active timer session gauge.
func AddTimerSessions(delta int) {
	current().activeSessions.Add(float64(delta))
}

// AddSubscribers adjusts the subscriber gauge for a scope (record, workout).
func AddSubscribers(scope string, delta int) {
	current().subscribers.WithLabelValues(scope).Add(float64(delta))
}

// RecordEventPublished counts one published snapshot.
func RecordEventPublished() {
	current().eventsPublished.Inc()
}

// RecordEventDropped counts one coalesced snapshot.
func RecordEventDropped() {
	current().eventsDropped.Inc()
}

// RecordProjection counts one leaderboard re-rank.
func RecordProjection() {
	current().leaderboardRanks.Inc()
}

// RecordCommandDuplicate counts one deduplicated judge command.
func RecordCommandDuplicate() {
	current().commandsDuplicate.Inc()
}

// UpdateQueueSize sets the pending job gauge.
func UpdateQueueSize(size int) {
	current().queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the job queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	current().queueCapacity.Set(float64(capacity))
}

// RecordQueueRejected counts one rejected job.
func RecordQueueRejected(reason string) {
	current().queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the worker gauge.
func UpdateWorkerCount(count int) {
	current().workerCount.Set(float64(count))
}

// RecordJobLatency observes one job.
func RecordJobLatency(latencyMs float64) {
	current().jobLatency.Observe(latencyMs)
}

// RecordJobFailure counts one job that gave up.
func RecordJobFailure() {
	current().jobFailures.Inc()
}

// UpdateRecordsTotal sets the store size gauge.
func UpdateRecordsTotal(count int) {
	current().recordsTracked.Set(float64(count))
}

// RecordErrorByComponent counts one error.
func RecordErrorByComponent(component, errorType string) {
	current().errorsComponent.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	current().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes one HTTP request.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	current().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the registry served on /healthz.
func GetRegistry() *prometheus.Registry {
	return current().exposed
}
