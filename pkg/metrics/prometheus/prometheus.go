package prometheus

import (
	"strconv"
	"time"

	"bank-recon/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
// It is itself a prometheus.Collector, so it can be passed to MustRegister.
type PrometheusCollector struct {
	namespace string

	// Cache layers
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheSets          *prometheus.CounterVec
	cacheDeletes       *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	invalidatedKeys    *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Audit pipeline
	queueDepth    *prometheus.GaugeVec
	syncFallbacks *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec

	// Bank gateway
	bankCalls   *prometheus.CounterVec
	bankLatency *prometheus.HistogramVec

	// Reconciliation
	reconRuns     *prometheus.CounterVec
	reconMatched  prometheus.Counter
	reconPending  prometheus.Counter
	reconDuration prometheus.Histogram

	// Histograms
	getLatency   *prometheus.HistogramVec
	setLatency   *prometheus.HistogramVec
	asyncLatency *prometheus.HistogramVec

	// Chain-level
	chainHits    *prometheus.CounterVec
	chainMisses  prometheus.Counter
	chainLatency *prometheus.HistogramVec
}

var _ metrics.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	cacheBuckets := prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	return &PrometheusCollector{
		namespace:          namespace,
		cacheHits:          counter("cache_hits_total", "Total number of cache hits per layer", "layer"),
		cacheMisses:        counter("cache_misses_total", "Total number of cache misses per layer", "layer"),
		cacheSets:          counter("cache_sets_total", "Total number of cache set operations per layer", "layer"),
		cacheDeletes:       counter("cache_deletes_total", "Total number of cache delete operations per layer", "layer"),
		cacheErrors:        counter("cache_errors_total", "Total number of cache errors per layer and operation", "layer", "operation"),
		cacheInvalidations: counter("cache_invalidations_total", "Total number of prefix invalidations per layer", "layer"),
		invalidatedKeys:    counter("cache_invalidated_keys_total", "Total number of keys removed by prefix invalidation", "layer"),
		circuitOpens:       counter("circuit_opens_total", "Total number of circuit breaker opens", "name"),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "audit_queue_depth",
				Help:      "Current audit pipeline queue depth",
			},
			[]string{"pipeline"},
		),
		syncFallbacks: counter("audit_sync_fallbacks_total", "Audit entries written synchronously because the queue was full", "pipeline"),
		asyncWrites:   counter("audit_writes_total", "Total number of audit writes", "pipeline", "status"),
		bankCalls:     counter("bank_calls_total", "Bank gateway calls by bank, operation and outcome kind", "bank", "operation", "kind"),
		bankLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bank_call_duration_seconds",
				Help:      "Bank gateway call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"bank", "operation"},
		),
		reconRuns: counter("reconciliation_runs_total", "Reconciliation runs by outcome", "outcome"),
		reconMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_matched_total",
			Help:      "System transactions flagged by reconciliation runs",
		}),
		reconPending: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_pending_total",
			Help:      "System transactions left pending by reconciliation runs",
		}),
		reconDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Reconciliation run latency",
			Buckets:   prometheus.DefBuckets,
		}),
		getLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "get_duration_seconds",
				Help:      "Cache get operation latency",
				Buckets:   cacheBuckets,
			},
			[]string{"layer"},
		),
		setLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "set_duration_seconds",
				Help:      "Cache set operation latency",
				Buckets:   cacheBuckets,
			},
			[]string{"layer"},
		),
		asyncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "audit_write_duration_seconds",
				Help:      "Audit write latency",
				Buckets:   cacheBuckets,
			},
			[]string{"pipeline"},
		),
		chainHits: counter("chain_hits_total", "Total number of chain-level cache hits", "layer_index"),
		chainMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_misses_total",
			Help:      "Total number of chain-level cache misses",
		}),
		chainLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_get_duration_seconds",
				Help:      "Chain get operation total latency",
				Buckets:   cacheBuckets,
			},
			[]string{"hit"},
		),
	}
}

func (pc *PrometheusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pc.cacheHits,
		pc.cacheMisses,
		pc.cacheSets,
		pc.cacheDeletes,
		pc.cacheErrors,
		pc.cacheInvalidations,
		pc.invalidatedKeys,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.syncFallbacks,
		pc.asyncWrites,
		pc.bankCalls,
		pc.bankLatency,
		pc.reconRuns,
		pc.reconMatched,
		pc.reconPending,
		pc.reconDuration,
		pc.getLatency,
		pc.setLatency,
		pc.asyncLatency,
		pc.chainHits,
		pc.chainMisses,
		pc.chainLatency,
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	for _, collector := range pc.collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Describe implements prometheus.Collector.
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range pc.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, c := range pc.collectors() {
		c.Collect(ch)
	}
}

// RecordGet records a cache get operation.
func (pc *PrometheusCollector) RecordGet(layer string, hit bool, duration time.Duration) {
	if hit {
		pc.cacheHits.WithLabelValues(layer).Inc()
	} else {
		pc.cacheMisses.WithLabelValues(layer).Inc()
	}
	pc.getLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordSet records a cache set operation.
func (pc *PrometheusCollector) RecordSet(layer string, success bool, duration time.Duration) {
	pc.cacheSets.WithLabelValues(layer).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(layer, "set").Inc()
	}
	pc.setLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordDelete records a cache delete operation.
func (pc *PrometheusCollector) RecordDelete(layer string, success bool, duration time.Duration) {
	pc.cacheDeletes.WithLabelValues(layer).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(layer, "delete").Inc()
	}
}

// RecordInvalidation records a prefix invalidation; removed < 0 means it failed.
func (pc *PrometheusCollector) RecordInvalidation(layer string, removed int, duration time.Duration) {
	pc.cacheInvalidations.WithLabelValues(layer).Inc()
	if removed < 0 {
		pc.cacheErrors.WithLabelValues(layer, "invalidate").Inc()
		return
	}
	pc.invalidatedKeys.WithLabelValues(layer).Add(float64(removed))
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordChainGet records a chain-level get operation.
func (pc *PrometheusCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {
	hitLabel := "false"
	if hit {
		pc.chainHits.WithLabelValues(strconv.Itoa(layerIndex)).Inc()
		hitLabel = "true"
	} else {
		pc.chainMisses.Inc()
	}
	pc.chainLatency.WithLabelValues(hitLabel).Observe(totalDuration.Seconds())
}

// RecordBankCall records one gateway call.
func (pc *PrometheusCollector) RecordBankCall(bank, operation, kind string, duration time.Duration) {
	pc.bankCalls.WithLabelValues(bank, operation, kind).Inc()
	pc.bankLatency.WithLabelValues(bank, operation).Observe(duration.Seconds())
}

// RecordReconciliation records the outcome of a reconciliation run.
func (pc *PrometheusCollector) RecordReconciliation(outcome string, total, matched int, duration time.Duration) {
	pc.reconRuns.WithLabelValues(outcome).Inc()
	if outcome != "completed" {
		return
	}
	pc.reconMatched.Add(float64(matched))
	pc.reconPending.Add(float64(total - matched))
	pc.reconDuration.Observe(duration.Seconds())
}

// RecordQueueDepth records the current audit queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(pipeline string, depth int) {
	pc.queueDepth.WithLabelValues(pipeline).Set(float64(depth))
}

// RecordAsyncWrite records an audit write.
func (pc *PrometheusCollector) RecordAsyncWrite(pipeline string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.asyncWrites.WithLabelValues(pipeline, status).Inc()
	pc.asyncLatency.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// RecordSyncFallback records an audit entry written inline because the queue was full.
func (pc *PrometheusCollector) RecordSyncFallback(pipeline string) {
	pc.syncFallbacks.WithLabelValues(pipeline).Inc()
}
