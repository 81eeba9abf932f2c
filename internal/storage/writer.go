package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AsyncEventWriter persists decision events asynchronously. Recording is
// fire-and-forget: a full buffer drops the event rather than blocking the
// request path, and persistence failures never propagate to callers.
type AsyncEventWriter struct {
	backend       Backend
	eventChannel  chan *DecisionEvent
	batchSize     int
	flushInterval time.Duration
	workers       int
	enabled       bool
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex         sync.RWMutex
	totalEvents   int64
	droppedEvents int64
	failedBatches int64
	lastFlush     time.Time
}

// AsyncEventWriterConfig holds configuration for the async event writer.
type AsyncEventWriterConfig struct {
	Backend       Backend
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Workers       int
	Enabled       bool
	Logger        *zap.Logger
}

// NewAsyncEventWriter creates a new async event writer and starts its
// workers when enabled.
func NewAsyncEventWriter(config AsyncEventWriterConfig) *AsyncEventWriter {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if config.Workers <= 0 {
		config.Workers = 3
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	writer := &AsyncEventWriter{
		backend:       config.Backend,
		eventChannel:  make(chan *DecisionEvent, config.BufferSize),
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		workers:       config.Workers,
		enabled:       config.Enabled,
		logger:        config.Logger,
		ctx:           ctx,
		cancel:        cancel,
		lastFlush:     time.Now(),
	}

	if writer.enabled && writer.backend != nil {
		writer.start()
	}

	return writer
}

// Record queues a decision event for persistence. Never blocks.
func (w *AsyncEventWriter) Record(event *DecisionEvent) {
	if !w.enabled || w.backend == nil {
		return
	}

	select {
	case w.eventChannel <- event:
		w.mutex.Lock()
		w.totalEvents++
		w.mutex.Unlock()
	default:
		// Channel is full; drop rather than stall the request path.
		w.mutex.Lock()
		w.droppedEvents++
		w.mutex.Unlock()
		w.logger.Warn("event channel full, dropping decision event",
			zap.String("request_id", event.RequestID.String()))
	}
}

func (w *AsyncEventWriter) start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
}

// worker drains the channel in batches, flushing on size or interval.
func (w *AsyncEventWriter) worker() {
	defer w.wg.Done()

	batch := make([]*DecisionEvent, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			if len(batch) > 0 {
				w.flushBatch(batch)
			}
			return

		case event := <-w.eventChannel:
			batch = append(batch, event)
			if len(batch) >= w.batchSize {
				w.flushBatch(batch)
				batch = batch[:0]
				w.updateLastFlush()
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = batch[:0]
				w.updateLastFlush()
			}
		}
	}
}

func (w *AsyncEventWriter) flushBatch(batch []*DecisionEvent) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.backend.SaveDecisionEventsBatch(ctx, batch); err != nil {
		w.mutex.Lock()
		w.failedBatches++
		w.mutex.Unlock()
		w.logger.Error("failed to save decision event batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
	}
}

func (w *AsyncEventWriter) updateLastFlush() {
	w.mutex.Lock()
	w.lastFlush = time.Now()
	w.mutex.Unlock()
}

// Metrics returns current writer metrics.
func (w *AsyncEventWriter) Metrics() map[string]interface{} {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return map[string]interface{}{
		"enabled":           w.enabled,
		"total_events":      w.totalEvents,
		"dropped_events":    w.droppedEvents,
		"failed_batches":    w.failedBatches,
		"channel_depth":     len(w.eventChannel),
		"channel_capacity":  cap(w.eventChannel),
		"last_flush":        w.lastFlush,
		"workers":           w.workers,
		"batch_size":        w.batchSize,
		"flush_interval_ms": w.flushInterval.Milliseconds(),
	}
}

// DroppedCount returns the number of dropped events.
func (w *AsyncEventWriter) DroppedCount() int64 {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.droppedEvents
}

// Close drains pending events and shuts down the backend.
func (w *AsyncEventWriter) Close() error {
	if !w.enabled || w.backend == nil {
		return nil
	}

	w.logger.Info("shutting down decision event writer")
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		w.logger.Warn("timeout waiting for event writer workers")
	}

	if err := w.backend.Close(); err != nil {
		w.logger.Error("error closing storage backend", zap.Error(err))
		return err
	}

	return nil
}
