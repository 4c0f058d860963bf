// Package metrics declares the instrumentation surface shared by the cache
// chain, the bank gateways, the reconciliation engine and the audit pipeline.
//
// Each component depends on the narrow interface it records to. A single
// backend (Prometheus in production, memory in tests) implements all of them
// through MetricsCollector.
package metrics

import (
	"time"
)

// CacheMetrics is recorded by cache layers and the chain.
type CacheMetrics interface {
	RecordGet(layer string, hit bool, duration time.Duration)
	RecordSet(layer string, success bool, duration time.Duration)
	RecordDelete(layer string, success bool, duration time.Duration)
	RecordInvalidation(layer string, removed int, duration time.Duration)
	// RecordChainGet reports the layer that answered, -1 on a full miss.
	RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration)
}

// CircuitMetrics is recorded on breaker transitions. Cache layers and bank
// endpoints share it.
type CircuitMetrics interface {
	RecordCircuitState(name string, state CircuitState)
}

// BankMetrics is recorded by bank gateway transports. kind is "ok" on
// success, otherwise the bank error kind.
type BankMetrics interface {
	CircuitMetrics
	RecordBankCall(bank, operation, kind string, duration time.Duration)
}

// ReconMetrics is recorded once per processed reconciliation run.
type ReconMetrics interface {
	RecordReconciliation(outcome string, total, matched int, duration time.Duration)
}

// PipelineMetrics is recorded by asynchronous writers.
type PipelineMetrics interface {
	RecordQueueDepth(pipeline string, depth int)
	RecordAsyncWrite(pipeline string, success bool, duration time.Duration)
	RecordSyncFallback(pipeline string)
}

// MetricsCollector is a backend for every component.
type MetricsCollector interface {
	CacheMetrics
	BankMetrics
	ReconMetrics
	PipelineMetrics
}

// CircuitState mirrors the breaker state for export.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector discards everything. Components fall back to it when no
// collector is configured.
type NoOpCollector struct{}

var _ MetricsCollector = NoOpCollector{}

func (NoOpCollector) RecordGet(string, bool, time.Duration)                {}
func (NoOpCollector) RecordSet(string, bool, time.Duration)                {}
func (NoOpCollector) RecordDelete(string, bool, time.Duration)             {}
func (NoOpCollector) RecordInvalidation(string, int, time.Duration)        {}
func (NoOpCollector) RecordChainGet(bool, int, time.Duration)              {}
func (NoOpCollector) RecordCircuitState(string, CircuitState)              {}
func (NoOpCollector) RecordBankCall(string, string, string, time.Duration) {}
func (NoOpCollector) RecordReconciliation(string, int, int, time.Duration) {}
func (NoOpCollector) RecordQueueDepth(string, int)                         {}
func (NoOpCollector) RecordAsyncWrite(string, bool, time.Duration)         {}
func (NoOpCollector) RecordSyncFallback(string)                            {}
