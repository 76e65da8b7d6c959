package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	dialErr   error
	readErr   error
	registers []uint16
	dials     int
	reads     int
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return f.dialErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeClient) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.registers, nil
}

func (f *fakeClient) set(registers []uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers = registers
}

func (f *fakeClient) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials, f.reads
}

type recorderHealth struct {
	mu        sync.Mutex
	successes map[string]int
	failures  map[string]int
}

func newRecorderHealth() *recorderHealth {
	return &recorderHealth{
		successes: make(map[string]int),
		failures:  make(map[string]int),
	}
}

func (h *recorderHealth) RecordSuccess(deviceID string, latency time.Duration, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes[deviceID]++
}

func (h *recorderHealth) RecordFailure(deviceID string, err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[deviceID]++
}

func (h *recorderHealth) count(deviceID string) (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.successes[deviceID], h.failures[deviceID]
}

func runnerConfig(id string) types.DeviceConfig {
	return types.DeviceConfig{
		DeviceID:     id,
		Address:      "10.0.0.5",
		Port:         502,
		UnitID:       1,
		Timeout:      time.Second,
		MaxRetries:   3,
		PollInterval: 2 * time.Second,
		WordOrder:    types.WordOrderLowFirst,
		Channels: []types.ChannelConfig{
			{Channel: 0, StartRegister: 0, RegisterCount: 2, ScaleFactor: 1, WordOrder: types.WordOrderLowFirst},
		},
	}
}

func newTestRunner(t *testing.T, id string, client *fakeClient, health HealthRecorder, out chan types.Reading) *Runner {
	t.Helper()
	runner, err := NewRunner(runnerConfig(id), client, testTiming(), health, out, zap.NewNop())
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return runner
}

func TestRunnerEmitsReadingsWithRate(t *testing.T) {
	client := &fakeClient{registers: []uint16{100, 0}}
	health := newRecorderHealth()
	out := make(chan types.Reading, 16)
	runner := newTestRunner(t, "dev-a", client, health, out)

	runner.pollCycle()
	time.Sleep(5 * time.Millisecond)
	client.set([]uint16{160, 0})
	runner.pollCycle()

	first := <-out
	if first.RawValue != 100 {
		t.Fatalf("first raw value: want 100, got %d", first.RawValue)
	}
	if first.Rate != nil {
		t.Fatal("first reading must not carry a rate")
	}

	second := <-out
	if second.RawValue != 160 {
		t.Fatalf("second raw value: want 160, got %d", second.RawValue)
	}
	if second.Rate == nil || *second.Rate <= 0 {
		t.Fatalf("second reading must carry a positive rate, got %v", second.Rate)
	}

	if successes, _ := health.count("dev-a"); successes != 2 {
		t.Fatalf("successes: want 2, got %d", successes)
	}

	latest := runner.LatestReadings()
	if len(latest) != 1 || latest[0].RawValue != 160 {
		t.Fatalf("latest readings: %+v", latest)
	}
}

func TestRunnerCooldownLimitsDialAttempts(t *testing.T) {
	client := &fakeClient{dialErr: transientErr()}
	health := newRecorderHealth()
	out := make(chan types.Reading, 16)
	runner := newTestRunner(t, "dev-a", client, health, out)

	// cooldown (5s) spans all immediate cycles: exactly one dial
	runner.pollCycle()
	runner.pollCycle()
	runner.pollCycle()

	dials, _ := client.counts()
	if dials != 1 {
		t.Fatalf("cooldown must suppress dial attempts: want 1, got %d", dials)
	}
	if runner.ConnInfo().State != StateCooldown {
		t.Fatalf("state: want cooldown, got %s", runner.ConnInfo().State)
	}
}

func TestRunnerIsolation(t *testing.T) {
	failing := &fakeClient{dialErr: transientErr()}
	healthy := &fakeClient{registers: []uint16{1, 0}}
	health := newRecorderHealth()
	out := make(chan types.Reading, 64)

	devA := newTestRunner(t, "dev-a", failing, health, out)
	devB := newTestRunner(t, "dev-b", healthy, health, out)

	for i := 0; i < 3; i++ {
		devA.pollCycle()
		devB.pollCycle()
		time.Sleep(2 * time.Millisecond)
	}

	// dev-a keeps failing, dev-b is untouched by it
	if _, failures := health.count("dev-a"); failures == 0 {
		t.Fatal("dev-a failures not recorded")
	}
	if successes, failures := health.count("dev-b"); successes != 3 || failures != 0 {
		t.Fatalf("dev-b: want 3 successes and 0 failures, got %d/%d", successes, failures)
	}
	if devB.ConnInfo().ConsecutiveFailures != 0 {
		t.Fatalf("dev-b consecutive failures: want 0, got %d", devB.ConnInfo().ConsecutiveFailures)
	}
	if devB.ConnInfo().State != StateConnected {
		t.Fatalf("dev-b state: want connected, got %s", devB.ConnInfo().State)
	}
}

func TestRunnerFatalReadParks(t *testing.T) {
	client := &fakeClient{registers: []uint16{1, 0}, readErr: fatalErr()}
	health := newRecorderHealth()
	out := make(chan types.Reading, 16)
	runner := newTestRunner(t, "dev-a", client, health, out)

	runner.pollCycle()
	if !runner.ConnInfo().Parked {
		t.Fatal("fatal read error must park the device")
	}

	dialsBefore, readsBefore := client.counts()
	runner.pollCycle()
	runner.pollCycle()
	dials, reads := client.counts()
	if dials != dialsBefore || reads != readsBefore {
		t.Fatalf("parked device still touched: dials %d->%d reads %d->%d", dialsBefore, dials, readsBefore, reads)
	}
}

func TestRunnerDropsSessionOnReadFailure(t *testing.T) {
	client := &fakeClient{readErr: transientErr()}
	health := newRecorderHealth()
	out := make(chan types.Reading, 16)
	runner := newTestRunner(t, "dev-a", client, health, out)

	runner.pollCycle()

	if client.Connected() {
		t.Fatal("session must be closed after a read failure")
	}
	if runner.ConnInfo().State != StateDisconnected {
		t.Fatalf("state: want disconnected, got %s", runner.ConnInfo().State)
	}
	if _, failures := health.count("dev-a"); failures != 1 {
		t.Fatalf("failures: want 1, got %d", failures)
	}
}
