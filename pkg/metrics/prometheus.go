package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the bot engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Ingestion and admission
	eventsReceived     *prometheus.CounterVec
	admissionDecisions *prometheus.CounterVec
	admissionLevel     prometheus.Gauge
	admissionQuantile  *prometheus.GaugeVec
	eventsDeferred     prometheus.Gauge

	// Entity cache
	cacheEntries   prometheus.Gauge
	cacheHot       prometheus.Gauge
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter

	// Plugins and execution
	registryPlugins   prometheus.Gauge
	invocations       *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
	queueDepth        prometheus.Gauge
	queueTargets      prometheus.Gauge
	queueOverflows    *prometheus.CounterVec
	workerCount       prometheus.Gauge
	workerActiveCount prometheus.Gauge

	// Outbound
	sinkMessages *prometheus.CounterVec
	sinkLatency  prometheus.Histogram

	// Adapters
	storeOperations *prometheus.CounterVec
	scheduleTicks   *prometheus.CounterVec
	transportEvents *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error tracking
	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Configure replaces the global manager with one built from opts on a
// fresh registry. Call it once at startup, before anything is recorded
// and before GetRegistry is handed to an HTTP handler.
func Configure(opts ...Option) {
	reg := prometheus.NewRegistry()
	customRegistry = reg
	globalManager = NewManager(append([]Option{WithPrometheusRegistry(reg)}, opts...)...)
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "parley",
		subsystem:        "bot",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
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
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
		Buckets:     m.histogramBuckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsReceived = auto.NewCounterVec(
		m.counterOpts("events_received_total", "Total number of decoded events received by kind"),
		[]string{"kind"},
	)
	m.admissionDecisions = auto.NewCounterVec(
		m.counterOpts("admission_decisions_total", "Admission decisions by outcome"),
		[]string{"decision"},
	)
	m.admissionLevel = auto.NewGauge(m.gaugeOpts("admission_level", "Current load level (0 normal .. 3 critical)"))
	m.admissionQuantile = auto.NewGaugeVec(
		m.gaugeOpts("admission_quantile_milliseconds", "Estimated quantiles of admission samples"),
		[]string{"sample", "quantile"},
	)
	m.eventsDeferred = auto.NewGauge(m.gaugeOpts("events_deferred", "Events currently parked by a Defer decision"))

	m.cacheEntries = auto.NewGauge(m.gaugeOpts("cache_entries", "Resident entity cache records"))
	m.cacheHot = auto.NewGauge(m.gaugeOpts("cache_hot_entries", "Resident entity cache records classified hot"))
	m.cacheHits = auto.NewCounter(m.counterOpts("cache_hits_total", "Entity cache hits"))
	m.cacheMisses = auto.NewCounter(m.counterOpts("cache_misses_total", "Entity cache misses"))
	m.cacheEvictions = auto.NewCounter(m.counterOpts("cache_evictions_total", "Entity cache evictions"))

	m.registryPlugins = auto.NewGauge(m.gaugeOpts("registry_plugins", "Registered plugins"))
	m.invocations = auto.NewCounterVec(
		m.counterOpts("invocations_total", "Plugin invocations by plugin and result"),
		[]string{"plugin", "result"},
	)
	m.invocationLatency = auto.NewHistogramVec(
		m.histogramOpts("invocation_latency_milliseconds", "Plugin invocation latency in milliseconds"),
		[]string{"plugin"},
	)
	m.queueDepth = auto.NewGauge(m.gaugeOpts("queue_depth", "Pending invocations across all target queues"))
	m.queueTargets = auto.NewGauge(m.gaugeOpts("queue_targets", "Live target queues"))
	m.queueOverflows = auto.NewCounterVec(
		m.counterOpts("queue_overflows_total", "Target queue overflows by resolution"),
		[]string{"resolution"},
	)
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured execution pool workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Workers currently running an invocation"))

	m.sinkMessages = auto.NewCounterVec(
		m.counterOpts("sink_messages_total", "Outbound messages by result"),
		[]string{"result"},
	)
	m.sinkLatency = auto.NewHistogram(m.histogramOpts("sink_latency_milliseconds", "Outbound send latency in milliseconds"))

	m.storeOperations = auto.NewCounterVec(
		m.counterOpts("store_operations_total", "Plugin store operations by op and result"),
		[]string{"op", "result"},
	)
	m.scheduleTicks = auto.NewCounterVec(
		m.counterOpts("schedule_ticks_total", "Scheduled tick events emitted by entry"),
		[]string{"entry"},
	)
	m.transportEvents = auto.NewCounterVec(
		m.counterOpts("transport_frames_total", "Transport frames by transport, direction and result"),
		[]string{"transport", "direction", "result"},
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
}

// RecordEventReceived counts a decoded event of the given kind.
func RecordEventReceived(kind string) {
	globalManager.eventsReceived.WithLabelValues(kind).Inc()
}

// RecordAdmission counts an admission decision.
func RecordAdmission(decision string) {
	globalManager.admissionDecisions.WithLabelValues(decision).Inc()
}

// UpdateAdmissionLevel sets the current load level.
func UpdateAdmissionLevel(level int) {
	globalManager.admissionLevel.Set(float64(level))
}

// UpdateAdmissionQuantile publishes an estimated quantile for a sample stream.
func UpdateAdmissionQuantile(sample, quantile string, valueMs float64) {
	globalManager.admissionQuantile.WithLabelValues(sample, quantile).Set(valueMs)
}

// UpdateEventsDeferred sets the number of parked events.
func UpdateEventsDeferred(count int) {
	globalManager.eventsDeferred.Set(float64(count))
}

// UpdateCacheEntries sets resident and hot cache record counts.
func UpdateCacheEntries(resident, hot int) {
	globalManager.cacheEntries.Set(float64(resident))
	globalManager.cacheHot.Set(float64(hot))
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	globalManager.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	globalManager.cacheMisses.Inc()
}

// RecordCacheEviction increments the cache eviction counter.
func RecordCacheEviction() {
	globalManager.cacheEvictions.Inc()
}

// UpdateRegistryPlugins sets the number of registered plugins.
func UpdateRegistryPlugins(count int) {
	globalManager.registryPlugins.Set(float64(count))
}

// RecordInvocation counts one plugin invocation and its latency.
func RecordInvocation(plugin, result string, latencyMs float64) {
	globalManager.invocations.WithLabelValues(plugin, result).Inc()
	globalManager.invocationLatency.WithLabelValues(plugin).Observe(latencyMs)
}

// UpdateQueueDepth sets pending invocation and live target counts.
func UpdateQueueDepth(depth, targets int) {
	globalManager.queueDepth.Set(float64(depth))
	globalManager.queueTargets.Set(float64(targets))
}

// RecordQueueOverflow counts a full target queue and how it was resolved.
func RecordQueueOverflow(resolution string) {
	globalManager.queueOverflows.WithLabelValues(resolution).Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerActive adjusts the number of busy workers.
func AddWorkerActive(delta int) {
	globalManager.workerActiveCount.Add(float64(delta))
}

// RecordSinkMessage counts an outbound message by result (sent, dropped, failed).
func RecordSinkMessage(result string) {
	globalManager.sinkMessages.WithLabelValues(result).Inc()
}

// RecordSinkLatency records send latency in milliseconds.
func RecordSinkLatency(latencyMs float64) {
	globalManager.sinkLatency.Observe(latencyMs)
}

// RecordStoreOperation counts a plugin store operation.
func RecordStoreOperation(op, result string) {
	globalManager.storeOperations.WithLabelValues(op, result).Inc()
}

// RecordScheduleTick counts a tick emitted for a schedule entry.
func RecordScheduleTick(entry string) {
	globalManager.scheduleTicks.WithLabelValues(entry).Inc()
}

// RecordTransportFrame counts a frame crossing a transport.
func RecordTransportFrame(transport, direction, result string) {
	globalManager.transportEvents.WithLabelValues(transport, direction, result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// StartSystemCollector refreshes the system gauges every refresh interval
// until ctx is done. It returns immediately when collection is disabled.
func StartSystemCollector(ctx context.Context) {
	m := globalManager
	if !m.enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			m.collectSystem()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *Manager) collectSystem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.systemMemoryUsage.Set(float64(ms.Alloc))
	m.systemGoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
