package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/api/websocket"
	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

const (
	// Buffer capacity as a multiple of the batch size
	bufferFactor = 10

	// Per-attempt write deadline
	writeTimeout = 30 * time.Second
)

// Batcher buffers readings and flushes them to the sink when the
// batch size is reached or the flush interval elapses. A stalled sink
// never blocks callers of Add; once the buffer hits its cap the
// oldest readings are evicted.
type Batcher struct {
	mu    sync.Mutex
	buf   []types.Reading
	stats types.BatcherStats

	sink          Sink
	batchSize     int
	maxBuffer     int
	flushInterval time.Duration
	sinkRetries   int
	retryBackoff  time.Duration

	hub    *websocket.Hub
	logger *zap.Logger

	flushChan chan struct{}
	stopChan  chan struct{}
	wg        sync.WaitGroup
	running   bool
	runMu     sync.Mutex
}

func NewBatcher(cfg config.BatchingConfig, sink Sink, hub *websocket.Hub, logger *zap.Logger) *Batcher {
	return &Batcher{
		buf:           make([]types.Reading, 0, cfg.BatchSize),
		sink:          sink,
		batchSize:     cfg.BatchSize,
		maxBuffer:     cfg.BatchSize * bufferFactor,
		flushInterval: cfg.FlushInterval,
		sinkRetries:   cfg.SinkRetries,
		retryBackoff:  cfg.RetryBackoff,
		hub:           hub,
		logger:        logger,
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
	}
}

// Add buffers one reading. Never blocks.
func (b *Batcher) Add(reading types.Reading) {
	var evicted int

	b.mu.Lock()
	if len(b.buf) >= b.maxBuffer {
		evicted = len(b.buf) - b.maxBuffer + 1
		b.buf = append(b.buf[:0], b.buf[evicted:]...)
		b.stats.ReadingsEvicted += uint64(evicted)
	}
	b.buf = append(b.buf, reading)
	length := len(b.buf)
	b.stats.BufferLength = length
	b.mu.Unlock()

	if evicted > 0 {
		b.logger.Warn("Write buffer full, oldest readings evicted",
			zap.Int("evicted", evicted),
			zap.Int("buffer_length", length))
		if b.hub != nil {
			b.hub.Broadcast(websocket.NewBackpressureMessage(evicted, length))
		}
	}

	if length >= b.batchSize {
		select {
		case b.flushChan <- struct{}{}:
		default:
			// Flush already signalled
		}
	}
}

// Start launches the flush loop.
func (b *Batcher) Start() {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.running {
		return
	}
	b.running = true
	b.wg.Add(1)

	go b.run()

	b.logger.Info("Batcher started",
		zap.String("sink", b.sink.Name()),
		zap.Int("batch_size", b.batchSize),
		zap.Duration("flush_interval", b.flushInterval))
}

// Stop halts the flush loop and drains the remaining buffer.
func (b *Batcher) Stop(ctx context.Context) {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return
	}
	b.runMu.Unlock()

	close(b.stopChan)
	b.wg.Wait()

	// Letzter Flush, damit beim Shutdown nichts liegen bleibt
	b.flush(ctx)

	b.runMu.Lock()
	b.running = false
	b.runMu.Unlock()

	b.logger.Info("Batcher stopped")
}

func (b *Batcher) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-b.flushChan:
			b.flush(context.Background())
		case <-ticker.C:
			b.flush(context.Background())
		}
	}
}

// flush swaps the buffer out under the lock and writes it without
// holding the lock.
func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buf
	b.buf = make([]types.Reading, 0, b.batchSize)
	b.stats.BufferLength = 0
	b.mu.Unlock()

	batchID := uuid.New()
	err := b.write(ctx, batchID, batch)

	b.mu.Lock()
	if err == nil {
		b.stats.BatchesWritten++
		b.stats.ReadingsWritten += uint64(len(batch))
		b.stats.LastFlush = time.Now()
	} else {
		b.stats.BatchesDropped++
		b.stats.ReadingsDropped += uint64(len(batch))
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Error("Batch dropped after exhausted retries",
			zap.String("batch_id", batchID.String()),
			zap.Int("readings", len(batch)),
			zap.Error(err))
		if b.hub != nil {
			b.hub.Broadcast(websocket.NewBatchDroppedMessage(
				batchID.String(), len(batch), err.Error()))
		}
	}
}

// write attempts the sink write with bounded retries.
func (b *Batcher) write(ctx context.Context, batchID uuid.UUID, batch []types.Reading) error {
	var err error
	for attempt := 1; attempt <= b.sinkRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = b.sink.WriteBatch(attemptCtx, batch)
		cancel()

		if err == nil {
			b.logger.Debug("Batch written",
				zap.String("batch_id", batchID.String()),
				zap.Int("readings", len(batch)))
			return nil
		}

		b.logger.Warn("Batch write failed",
			zap.String("batch_id", batchID.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", b.sinkRetries),
			zap.Error(err))

		if attempt < b.sinkRetries {
			select {
			case <-time.After(b.retryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// Stats returns a copy of the pipeline counters.
func (b *Batcher) Stats() types.BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.stats
	stats.BufferLength = len(b.buf)
	return stats
}
