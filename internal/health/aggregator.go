package health

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/api/websocket"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// StatsProvider supplies the batch writer counters for the system
// snapshot.
type StatsProvider interface {
	Stats() types.BatcherStats
}

type deviceEntry struct {
	health       types.DeviceHealth
	maxRetries   int
	parked       bool
	totalLatency time.Duration
	latencyCount uint64
}

// Aggregator keeps one health entry per device and derives the
// system roll-up. The map is the only cross-device shared state here;
// updates are short critical sections without I/O.
type Aggregator struct {
	mu      sync.Mutex
	devices map[string]*deviceEntry
	order   []string

	startedAt time.Time
	interval  time.Duration
	stats     StatsProvider
	hub       *websocket.Hub
	logger    *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	runMu    sync.Mutex
}

func NewAggregator(interval time.Duration, hub *websocket.Hub, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		devices:   make(map[string]*deviceEntry),
		startedAt: time.Now(),
		interval:  interval,
		hub:       hub,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// SetStatsProvider wires the batch writer in after construction.
func (a *Aggregator) SetStatsProvider(p StatsProvider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = p
}

// RegisterDevice creates the entry before the first poll so the
// snapshot counts every configured device from the start.
func (a *Aggregator) RegisterDevice(cfg types.DeviceConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.devices[cfg.DeviceID]; exists {
		return
	}
	a.devices[cfg.DeviceID] = &deviceEntry{
		health: types.DeviceHealth{
			DeviceID: cfg.DeviceID,
			Status:   types.DeviceStatusOnline,
		},
		maxRetries: cfg.MaxRetries,
	}
	a.order = append(a.order, cfg.DeviceID)
}

// RecordSuccess feeds one successful poll outcome.
func (a *Aggregator) RecordSuccess(deviceID string, latency time.Duration, at time.Time) {
	a.mu.Lock()
	entry, ok := a.devices[deviceID]
	if !ok {
		a.mu.Unlock()
		return
	}

	entry.health.TotalReads++
	entry.health.ConsecutiveFailures = 0
	entry.health.LastSuccess = at
	entry.health.LastError = ""
	entry.totalLatency += latency
	entry.latencyCount++
	entry.health.AvgLatencyMs = float64(entry.totalLatency.Milliseconds()) / float64(entry.latencyCount)

	oldStatus := entry.health.Status
	entry.health.Status = a.derive(entry)
	newStatus := entry.health.Status
	a.mu.Unlock()

	a.announce(deviceID, oldStatus, newStatus, at)
}

// RecordFailure feeds one failed poll outcome. A fatal classification
// takes the device straight to Offline.
func (a *Aggregator) RecordFailure(deviceID string, err error, at time.Time) {
	a.mu.Lock()
	entry, ok := a.devices[deviceID]
	if !ok {
		a.mu.Unlock()
		return
	}

	entry.health.TotalFailures++
	entry.health.ConsecutiveFailures++
	if err != nil {
		entry.health.LastError = err.Error()
	}
	if types.IsFatal(err) {
		entry.parked = true
	}

	oldStatus := entry.health.Status
	entry.health.Status = a.derive(entry)
	newStatus := entry.health.Status
	a.mu.Unlock()

	a.announce(deviceID, oldStatus, newStatus, at)
}

// derive implements the status ladder. Callers hold the lock.
func (a *Aggregator) derive(entry *deviceEntry) types.DeviceStatus {
	switch {
	case entry.parked:
		return types.DeviceStatusOffline
	case entry.health.ConsecutiveFailures == 0:
		return types.DeviceStatusOnline
	case entry.health.ConsecutiveFailures < entry.maxRetries:
		return types.DeviceStatusDegraded
	default:
		return types.DeviceStatusOffline
	}
}

// announce pushes a status transition to live subscribers. Outside
// the lock, fire-and-forget.
func (a *Aggregator) announce(deviceID string, oldStatus, newStatus types.DeviceStatus, at time.Time) {
	if oldStatus == newStatus || a.hub == nil {
		return
	}
	a.logger.Info("Device status changed",
		zap.String("device_id", deviceID),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(newStatus)))
	a.hub.Broadcast(websocket.NewDeviceStatusMessage(deviceID, oldStatus, newStatus, at))
}

// DeviceHealth returns a copy of one device's entry.
func (a *Aggregator) DeviceHealth(deviceID string) (types.DeviceHealth, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.devices[deviceID]
	if !ok {
		return types.DeviceHealth{}, false
	}
	return entry.health, true
}

// Snapshot returns all device entries in registration order.
func (a *Aggregator) Snapshot() []types.DeviceHealth {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() []types.DeviceHealth {
	healths := make([]types.DeviceHealth, 0, len(a.order))
	for _, id := range a.order {
		healths = append(healths, a.devices[id].health)
	}
	return healths
}

// SystemSnapshot recomputes the roll-up on demand. Host metrics are
// gathered outside the lock.
func (a *Aggregator) SystemSnapshot() types.SystemSnapshot {
	a.mu.Lock()
	devices := a.snapshotLocked()
	stats := a.stats
	startedAt := a.startedAt
	a.mu.Unlock()

	snapshot := types.SystemSnapshot{
		Timestamp:     time.Now(),
		TotalDevices:  len(devices),
		UptimeSeconds: time.Since(startedAt).Seconds(),
		Devices:       devices,
	}

	for _, d := range devices {
		switch d.Status {
		case types.DeviceStatusOnline:
			snapshot.Online++
		case types.DeviceStatusDegraded:
			snapshot.Degraded++
		default:
			snapshot.Offline++
		}
		if d.AvgLatencyMs > snapshot.WorstLatencyMs {
			snapshot.WorstLatencyMs = d.AvgLatencyMs
		}
	}
	if snapshot.TotalDevices > 0 {
		snapshot.FractionOnline = float64(snapshot.Online) / float64(snapshot.TotalDevices)
	}

	if stats != nil {
		snapshot.Batcher = stats.Stats()
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snapshot.MemPercent = vm.UsedPercent
	}

	return snapshot
}

// Start launches the periodic snapshot publisher.
func (a *Aggregator) Start() {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if a.running {
		return
	}
	a.running = true
	a.wg.Add(1)

	go a.publishLoop()

	a.logger.Info("Health aggregator started", zap.Duration("interval", a.interval))
}

// Stop halts the publisher loop.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return
	}
	a.runMu.Unlock()

	close(a.stopChan)
	a.wg.Wait()

	a.runMu.Lock()
	a.running = false
	a.runMu.Unlock()
}

func (a *Aggregator) publishLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.publish()
		}
	}
}

// publish pushes the periodic system snapshot, fire-and-forget.
func (a *Aggregator) publish() {
	snapshot := a.SystemSnapshot()
	if a.hub != nil {
		a.hub.Broadcast(websocket.NewSystemSnapshotMessage(snapshot))
	}
	a.logger.Debug("System snapshot published",
		zap.Int("online", snapshot.Online),
		zap.Int("degraded", snapshot.Degraded),
		zap.Int("offline", snapshot.Offline))
}
