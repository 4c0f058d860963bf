package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bank-recon/pkg/logging"
	"bank-recon/pkg/metrics"

	"go.uber.org/zap"
)

const pipelineName = "audit"

// Errors returned by the writer.
var (
	// ErrWriterClosed is returned when recording to a closed writer.
	ErrWriterClosed = errors.New("audit: writer is closed")

	// ErrFlushTimeout is returned when Flush times out waiting for the queue to drain.
	ErrFlushTimeout = errors.New("audit: flush timeout exceeded")
)

// WriterConfig configures the async writer behavior.
type WriterConfig struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is how long Record waits for queue space before writing
	// inline (default: 10ms)
	MaxWaitTime time.Duration

	// WriteTimeout bounds each sink write (default: 5s)
	WriteTimeout time.Duration
}

// WriterStats provides statistics about writer operations.
type WriterStats struct {
	QueueDepth int

	// Recorded is the total number of entries accepted.
	Recorded int64

	// SyncFallbacks counts entries written inline because the queue was full.
	SyncFallbacks int64

	// Failed counts sink writes that returned an error.
	Failed int64
}

// Writer is a Recorder that persists entries through a bounded queue and a
// worker pool. It never drops an entry: when the queue stays full for
// MaxWaitTime the entry is written on the caller's goroutine instead.
type Writer struct {
	sink       Sink
	queue      chan Entry
	workers    int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     WriterConfig
	metrics    metrics.PipelineMetrics
	logger     *logging.Logger

	recorded      int64
	syncFallbacks int64
	failed        int64
	inflight      int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}

	// mu guards closed; Record holds it shared while enqueueing so Close
	// cannot stop the workers under an entry in flight.
	mu     sync.RWMutex
	closed bool
}

var _ Recorder = (*Writer)(nil)

// NewWriter creates a writer and starts its workers. It must be closed with Close.
func NewWriter(sink Sink, config WriterConfig, collector metrics.PipelineMetrics, logger *logging.Logger) *Writer {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Writer{
		sink:          sink,
		queue:         make(chan Entry, config.QueueSize),
		workers:       config.Workers,
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       collector,
		logger:        logger.Named("audit"),
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	go w.reportMetrics()

	return w
}

// Record enqueues the entry. If the queue is still full after MaxWaitTime the
// entry is written synchronously and the sink error, if any, is returned.
func (w *Writer) Record(ctx context.Context, e Entry) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	atomic.AddInt64(&w.inflight, 1)
	select {
	case w.queue <- e:
		atomic.AddInt64(&w.recorded, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&w.inflight, -1)
		atomic.AddInt64(&w.recorded, 1)
		atomic.AddInt64(&w.syncFallbacks, 1)
		w.metrics.RecordSyncFallback(pipelineName)
		w.logger.Warn("audit queue full, writing inline", zap.String("action", string(e.Action)))
		return w.write(ctx, e)
	case <-ctx.Done():
		atomic.AddInt64(&w.inflight, -1)
		return ctx.Err()
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.queue:
			w.write(context.Background(), e)
			atomic.AddInt64(&w.inflight, -1)
		case <-w.ctx.Done():
			// Drain remaining entries before exiting
			for {
				select {
				case e := <-w.queue:
					w.write(context.Background(), e)
					atomic.AddInt64(&w.inflight, -1)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, w.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.sink.WriteEntry(ctx, e)
	w.metrics.RecordAsyncWrite(pipelineName, err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&w.failed, 1)
		w.logger.Error("audit write failed",
			zap.String("audit_id", e.ID.String()),
			zap.String("action", string(e.Action)),
			zap.Error(err),
		)
	}
	return err
}

// Flush waits until every accepted entry has been written or timeout elapses.
func (w *Writer) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&w.inflight) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.metricsStop)
	w.metricsTicker.Stop()
	w.cancelFunc()
	w.wg.Wait()

	return nil
}

func (w *Writer) reportMetrics() {
	for {
		select {
		case <-w.metricsTicker.C:
			w.metrics.RecordQueueDepth(pipelineName, len(w.queue))
		case <-w.metricsStop:
			return
		}
	}
}

// Stats returns current statistics about the writer.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		QueueDepth:    len(w.queue),
		Recorded:      atomic.LoadInt64(&w.recorded),
		SyncFallbacks: atomic.LoadInt64(&w.syncFallbacks),
		Failed:        atomic.LoadInt64(&w.failed),
	}
}
