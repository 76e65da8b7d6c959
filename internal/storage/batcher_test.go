package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

type fakeSink struct {
	mu        sync.Mutex
	batches   [][]types.Reading
	failUntil int
	calls     int
}

func (f *fakeSink) WriteBatch(ctx context.Context, readings []types.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failUntil {
		return errors.New("sink unavailable")
	}

	batch := make([]types.Reading, len(readings))
	copy(batch, readings)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeSink) Close()       {}
func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) setFailUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUntil = n
}

func (f *fakeSink) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSink) batch(i int) []types.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func testReading(device string, channel int, value float64) types.Reading {
	return types.Reading{
		DeviceID:  device,
		Channel:   channel,
		RawValue:  uint64(value),
		Value:     value,
		Quality:   types.QualityGood,
		Timestamp: time.Now(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newTestBatcher(cfg config.BatchingConfig, sink Sink) *Batcher {
	return NewBatcher(cfg, sink, nil, zap.NewNop())
}

func TestSizeTriggeredFlush(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(config.BatchingConfig{
		BatchSize:     3,
		FlushInterval: time.Hour,
		SinkRetries:   1,
		RetryBackoff:  time.Millisecond,
	}, sink)

	b.Start()
	defer b.Stop(context.Background())

	for i := 0; i < 3; i++ {
		b.Add(testReading("adam-01", 0, float64(i)))
	}

	waitFor(t, 2*time.Second, func() bool { return sink.batchCount() == 1 })

	if got := len(sink.batch(0)); got != 3 {
		t.Fatalf("expected batch of 3 readings, got %d", got)
	}

	stats := b.Stats()
	if stats.BatchesWritten != 1 || stats.ReadingsWritten != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestIntervalTriggeredFlush(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(config.BatchingConfig{
		BatchSize:     100,
		FlushInterval: 30 * time.Millisecond,
		SinkRetries:   1,
		RetryBackoff:  time.Millisecond,
	}, sink)

	b.Start()
	defer b.Stop(context.Background())

	b.Add(testReading("adam-01", 0, 1))
	b.Add(testReading("adam-01", 1, 2))

	waitFor(t, 2*time.Second, func() bool { return sink.batchCount() == 1 })

	if got := len(sink.batch(0)); got != 2 {
		t.Fatalf("expected partial batch of 2 readings, got %d", got)
	}
}

func TestStopDrainsBuffer(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(config.BatchingConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		SinkRetries:   1,
		RetryBackoff:  time.Millisecond,
	}, sink)

	b.Start()
	b.Add(testReading("adam-01", 0, 1))
	b.Add(testReading("adam-01", 1, 2))
	b.Stop(context.Background())

	if sink.batchCount() != 1 {
		t.Fatalf("expected shutdown flush, got %d batches", sink.batchCount())
	}
	if got := len(sink.batch(0)); got != 2 {
		t.Fatalf("expected 2 readings in shutdown flush, got %d", got)
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	sink := &fakeSink{failUntil: 1}
	b := newTestBatcher(config.BatchingConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		SinkRetries:   3,
		RetryBackoff:  time.Millisecond,
	}, sink)

	b.Start()
	defer b.Stop(context.Background())

	b.Add(testReading("adam-01", 0, 1))
	b.Add(testReading("adam-01", 1, 2))

	waitFor(t, 2*time.Second, func() bool { return sink.batchCount() == 1 })

	if got := sink.callCount(); got != 2 {
		t.Fatalf("expected 2 write attempts, got %d", got)
	}
	if stats := b.Stats(); stats.BatchesDropped != 0 {
		t.Fatalf("no batch should be dropped, stats: %+v", stats)
	}
}

func TestBatchDroppedAfterExhaustedRetries(t *testing.T) {
	sink := &fakeSink{failUntil: 1000}
	b := newTestBatcher(config.BatchingConfig{
		BatchSize:     3,
		FlushInterval: time.Hour,
		SinkRetries:   2,
		RetryBackoff:  time.Millisecond,
	}, sink)

	b.Start()
	defer b.Stop(context.Background())

	for i := 0; i < 3; i++ {
		b.Add(testReading("adam-01", 0, float64(i)))
	}

	waitFor(t, 2*time.Second, func() bool { return b.Stats().BatchesDropped == 1 })

	if got := sink.callCount(); got != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", got)
	}
	stats := b.Stats()
	if stats.ReadingsDropped != 3 {
		t.Fatalf("expected 3 dropped readings, got %d", stats.ReadingsDropped)
	}

	// Sink recovers, next batch goes through
	sink.setFailUntil(0)
	for i := 0; i < 3; i++ {
		b.Add(testReading("adam-01", 0, float64(10+i)))
	}

	waitFor(t, 2*time.Second, func() bool { return sink.batchCount() == 1 })

	if stats := b.Stats(); stats.BatchesWritten != 1 {
		t.Fatalf("expected recovery write, stats: %+v", stats)
	}
}

func TestBufferEvictsOldestAtCap(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBatcher(config.BatchingConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		SinkRetries:   1,
		RetryBackoff:  time.Millisecond,
	}, sink)

	// Flush loop not started, the buffer fills to its cap of 20
	for i := 0; i <= 20; i++ {
		b.Add(testReading("adam-01", 0, float64(i)))
	}

	stats := b.Stats()
	if stats.ReadingsEvicted != 1 {
		t.Fatalf("expected 1 evicted reading, got %d", stats.ReadingsEvicted)
	}
	if stats.BufferLength != 20 {
		t.Fatalf("expected buffer at cap 20, got %d", stats.BufferLength)
	}

	b.flush(context.Background())

	batch := sink.batch(0)
	if batch[0].Value != 1.0 {
		t.Errorf("oldest reading should have been evicted, buffer starts at %f", batch[0].Value)
	}
	if batch[len(batch)-1].Value != 20.0 {
		t.Errorf("newest reading missing, buffer ends at %f", batch[len(batch)-1].Value)
	}
}
