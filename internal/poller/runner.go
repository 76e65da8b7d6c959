package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/modbus"
	"github.com/KevinKickass/OpenCounterCore/internal/processing"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// RegisterClient is the register read primitive the runner drives.
// Satisfied by *modbus.Client; tests substitute fakes.
type RegisterClient interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]uint16, error)
}

// HealthRecorder consumes poll outcomes.
type HealthRecorder interface {
	RecordSuccess(deviceID string, latency time.Duration, at time.Time)
	RecordFailure(deviceID string, err error, at time.Time)
}

// Runner polls one device. It owns the connection tracker and the
// previous-reading cache; nothing here is shared with other devices.
type Runner struct {
	cfg     types.DeviceConfig
	client  RegisterClient
	tracker *ConnTracker
	plan    modbus.BlockPlan
	health  HealthRecorder
	out     chan<- types.Reading
	logger  *zap.Logger

	// previous reading per channel, only touched by the poll goroutine
	prev map[int]*types.Reading

	latestMu sync.RWMutex
	latest   map[int]types.Reading

	baseCtx  context.Context
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewRunner(cfg types.DeviceConfig, client RegisterClient, timing Timing, health HealthRecorder, out chan<- types.Reading, logger *zap.Logger) (*Runner, error) {
	plan, err := modbus.PlanBlock(cfg.Channels)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:      cfg,
		client:   client,
		tracker:  NewConnTracker(cfg, timing),
		plan:     plan,
		health:   health,
		out:      out,
		logger:   logger.With(zap.String("device_id", cfg.DeviceID)),
		prev:     make(map[int]*types.Reading),
		latest:   make(map[int]types.Reading),
		baseCtx:  context.Background(),
		stopChan: make(chan struct{}),
	}, nil
}

// Start startet das zyklische Polling
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.running = true
	r.baseCtx = ctx
	r.wg.Add(1)

	go r.pollLoop(ctx)

	r.logger.Info("Poller started",
		zap.String("endpoint", r.cfg.Endpoint()),
		zap.Duration("interval", r.cfg.PollInterval),
		zap.Int("channels", len(r.cfg.Channels)))
}

// Stop stoppt das Polling und wartet auf den laufenden Zyklus
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.logger.Info("Poller stopped")
}

func (r *Runner) pollLoop(ctx context.Context) {
	defer r.wg.Done()
	defer r.client.Close()

	// erste Messung sofort, nicht erst nach einem Intervall
	r.pollCycle()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.pollCycle()
		}
	}
}

// pollCycle runs one tick: attempt gate, connect if needed, block
// read, per-channel processing, fan-out. Failures never leave this
// device's scope.
func (r *Runner) pollCycle() {
	now := time.Now()
	if !r.tracker.ShouldAttempt(now) {
		return
	}

	ctx, cancel := context.WithTimeout(r.baseCtx, r.cfg.Timeout)
	defer cancel()

	if !r.client.Connected() {
		r.tracker.BeginConnect(now)
		if err := r.client.Connect(ctx); err != nil {
			r.tracker.ConnectFailed(now, err)
			r.health.RecordFailure(r.cfg.DeviceID, err, now)
			r.logFailure("Connect failed", err)
			return
		}
		r.tracker.ConnectSucceeded()
		r.logger.Debug("Connected", zap.String("endpoint", r.cfg.Endpoint()))
	}

	start := time.Now()
	registers, err := r.client.ReadHoldingRegisters(ctx, r.cfg.UnitID, r.plan.Start, r.plan.Count)
	latency := time.Since(start)

	if err != nil {
		readAt := time.Now()
		r.client.Close()
		r.tracker.ReadFailed(readAt, err)
		r.health.RecordFailure(r.cfg.DeviceID, err, readAt)
		r.logFailure("Read failed", err)
		return
	}

	readAt := time.Now()
	r.tracker.ReadSucceeded(readAt)
	r.health.RecordSuccess(r.cfg.DeviceID, latency, readAt)

	for _, ch := range r.cfg.Channels {
		slice, err := r.plan.Slice(registers, ch)
		if err != nil {
			// validated at startup, must not happen
			r.logger.Error("Block slice failed", zap.Int("channel", ch.Channel), zap.Error(err))
			continue
		}

		sample := types.RawSample{
			DeviceID:  r.cfg.DeviceID,
			Channel:   ch.Channel,
			Registers: slice,
			Timestamp: readAt,
		}

		reading := processing.Process(r.prev[ch.Channel], sample, ch)
		reading.Location = r.cfg.Location

		kept := reading
		r.prev[ch.Channel] = &kept

		r.latestMu.Lock()
		r.latest[ch.Channel] = reading
		r.latestMu.Unlock()

		select {
		case r.out <- reading:
		default:
			// dispatch queue full: drop rather than stall the cycle
			r.logger.Warn("Reading dropped, dispatch queue full",
				zap.Int("channel", ch.Channel))
		}
	}
}

func (r *Runner) logFailure(msg string, err error) {
	if types.IsFatal(err) {
		r.logger.Error(msg+", device parked until configuration changes",
			zap.String("kind", types.KindOf(err).String()),
			zap.Error(err))
		return
	}
	r.logger.Warn(msg,
		zap.String("kind", types.KindOf(err).String()),
		zap.Int("consecutive_failures", r.tracker.ConsecutiveFailures()),
		zap.Error(err))
}

// Config returns the immutable device configuration.
func (r *Runner) Config() types.DeviceConfig {
	return r.cfg
}

// ConnInfo returns a copy of the connection state for the API.
func (r *Runner) ConnInfo() ConnectionInfo {
	return r.tracker.Info()
}

// LatestReadings returns the newest reading per channel.
func (r *Runner) LatestReadings() []types.Reading {
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()

	readings := make([]types.Reading, 0, len(r.latest))
	for _, ch := range r.cfg.Channels {
		if reading, ok := r.latest[ch.Channel]; ok {
			readings = append(readings, reading)
		}
	}
	return readings
}
