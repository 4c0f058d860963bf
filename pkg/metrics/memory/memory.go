package memory

import (
	"sync"
	"time"

	"bank-recon/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	// Per-layer metrics
	layerMetrics map[string]*LayerMetrics

	// Circuit states by breaker name
	circuits map[string]metrics.CircuitState

	// Chain-level metrics
	chainHits        int64
	chainMisses      int64
	chainHitsByLayer map[int]int64

	// Bank calls keyed by "bank/operation/kind"
	bankCalls map[string]int64

	// Reconciliation runs by outcome
	reconRuns    map[string]int64
	reconMatched int64
	reconTotal   int64

	// Audit pipeline
	auditQueueDepth int
	auditWrites     int64
	auditErrors     int64
	syncFallbacks   int64
}

// LayerMetrics holds metrics for a single cache layer.
type LayerMetrics struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Deletes       int64
	Errors        int64
	Invalidations int64
	KeysRemoved   int64

	GetLatencies []time.Duration
	SetLatencies []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

func (mc *MemoryCollector) reset() {
	mc.layerMetrics = make(map[string]*LayerMetrics)
	mc.circuits = make(map[string]metrics.CircuitState)
	mc.chainHits = 0
	mc.chainMisses = 0
	mc.chainHitsByLayer = make(map[int]int64)
	mc.bankCalls = make(map[string]int64)
	mc.reconRuns = make(map[string]int64)
	mc.reconMatched = 0
	mc.reconTotal = 0
	mc.auditQueueDepth = 0
	mc.auditWrites = 0
	mc.auditErrors = 0
	mc.syncFallbacks = 0
}

// layer returns the LayerMetrics for the given layer; mu must be held.
func (mc *MemoryCollector) layer(name string) *LayerMetrics {
	lm, ok := mc.layerMetrics[name]
	if !ok {
		lm = &LayerMetrics{}
		mc.layerMetrics[name] = lm
	}
	return lm
}

// RecordGet records a cache get operation.
func (mc *MemoryCollector) RecordGet(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
	lm.GetLatencies = append(lm.GetLatencies, duration)
}

// RecordSet records a cache set operation.
func (mc *MemoryCollector) RecordSet(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Sets++
	if !success {
		lm.Errors++
	}
	lm.SetLatencies = append(lm.SetLatencies, duration)
}

// RecordDelete records a cache delete operation.
func (mc *MemoryCollector) RecordDelete(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Deletes++
	if !success {
		lm.Errors++
	}
}

// RecordInvalidation records a prefix invalidation.
func (mc *MemoryCollector) RecordInvalidation(layer string, removed int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Invalidations++
	if removed < 0 {
		lm.Errors++
		return
	}
	lm.KeysRemoved += int64(removed)
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.circuits[name] = state
}

// RecordChainGet records a chain-level get operation.
func (mc *MemoryCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if hit {
		mc.chainHits++
		mc.chainHitsByLayer[layerIndex]++
	} else {
		mc.chainMisses++
	}
}

// RecordBankCall records one gateway call.
func (mc *MemoryCollector) RecordBankCall(bank, operation, kind string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.bankCalls[bank+"/"+operation+"/"+kind]++
}

// RecordReconciliation records a reconciliation run outcome.
func (mc *MemoryCollector) RecordReconciliation(outcome string, total, matched int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.reconRuns[outcome]++
	mc.reconTotal += int64(total)
	mc.reconMatched += int64(matched)
}

// RecordQueueDepth records the audit queue depth.
func (mc *MemoryCollector) RecordQueueDepth(pipeline string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.auditQueueDepth = depth
}

// RecordAsyncWrite records an audit write.
func (mc *MemoryCollector) RecordAsyncWrite(pipeline string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.auditWrites++
	if !success {
		mc.auditErrors++
	}
}

// RecordSyncFallback records an inline audit write.
func (mc *MemoryCollector) RecordSyncFallback(pipeline string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.syncFallbacks++
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	LayerMetrics     map[string]LayerMetrics
	Circuits         map[string]metrics.CircuitState
	ChainHits        int64
	ChainMisses      int64
	ChainHitsByLayer map[int]int64
	BankCalls        map[string]int64
	ReconRuns        map[string]int64
	ReconTotal       int64
	ReconMatched     int64
	AuditQueueDepth  int
	AuditWrites      int64
	AuditErrors      int64
	SyncFallbacks    int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		LayerMetrics:     make(map[string]LayerMetrics, len(mc.layerMetrics)),
		Circuits:         make(map[string]metrics.CircuitState, len(mc.circuits)),
		ChainHits:        mc.chainHits,
		ChainMisses:      mc.chainMisses,
		ChainHitsByLayer: make(map[int]int64, len(mc.chainHitsByLayer)),
		BankCalls:        make(map[string]int64, len(mc.bankCalls)),
		ReconRuns:        make(map[string]int64, len(mc.reconRuns)),
		ReconTotal:       mc.reconTotal,
		ReconMatched:     mc.reconMatched,
		AuditQueueDepth:  mc.auditQueueDepth,
		AuditWrites:      mc.auditWrites,
		AuditErrors:      mc.auditErrors,
		SyncFallbacks:    mc.syncFallbacks,
	}
	for k, v := range mc.layerMetrics {
		s.LayerMetrics[k] = *v
	}
	for k, v := range mc.circuits {
		s.Circuits[k] = v
	}
	for k, v := range mc.chainHitsByLayer {
		s.ChainHitsByLayer[k] = v
	}
	for k, v := range mc.bankCalls {
		s.BankCalls[k] = v
	}
	for k, v := range mc.reconRuns {
		s.ReconRuns[k] = v
	}
	return s
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.reset()
}

// GetLayerMetrics returns a copy of the metrics for a specific layer.
func (mc *MemoryCollector) GetLayerMetrics(layer string) *LayerMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if lm, ok := mc.layerMetrics[layer]; ok {
		cp := *lm
		return &cp
	}
	return nil
}
