package poller

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/modbus"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// Manager owns one runner per configured device.
type Manager struct {
	runners []*Runner
	byID    map[string]*Runner
	logger  *zap.Logger
}

func NewManager(configs []types.DeviceConfig, timing Timing, health HealthRecorder, out chan<- types.Reading, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		runners: make([]*Runner, 0, len(configs)),
		byID:    make(map[string]*Runner, len(configs)),
		logger:  logger,
	}

	for _, cfg := range configs {
		client := modbus.NewClient(cfg.Endpoint(), cfg.Timeout)
		runner, err := NewRunner(cfg, client, timing, health, out, logger)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", cfg.DeviceID, err)
		}
		m.runners = append(m.runners, runner)
		m.byID[cfg.DeviceID] = runner
	}

	return m, nil
}

// StartAll launches every device loop.
func (m *Manager) StartAll(ctx context.Context) {
	for _, runner := range m.runners {
		runner.Start(ctx)
	}
	m.logger.Info("All device pollers started", zap.Int("devices", len(m.runners)))
}

// StopAll stops the loops in parallel; a hung device costs one I/O
// timeout, not one per device.
func (m *Manager) StopAll() {
	var wg sync.WaitGroup
	for _, runner := range m.runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			r.Stop()
		}(runner)
	}
	wg.Wait()
	m.logger.Info("All device pollers stopped")
}

// Runner looks up one device's runner.
func (m *Manager) Runner(deviceID string) (*Runner, bool) {
	r, ok := m.byID[deviceID]
	return r, ok
}

// Runners returns the runners in fleet order.
func (m *Manager) Runners() []*Runner {
	return m.runners
}
