package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/api/rest"
	"github.com/KevinKickass/OpenCounterCore/internal/api/websocket"
	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/devices"
	"github.com/KevinKickass/OpenCounterCore/internal/forward"
	"github.com/KevinKickass/OpenCounterCore/internal/health"
	"github.com/KevinKickass/OpenCounterCore/internal/interfaces"
	"github.com/KevinKickass/OpenCounterCore/internal/poller"
	"github.com/KevinKickass/OpenCounterCore/internal/storage"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// Buffer between the pollers and the dispatcher
const readingsBuffer = 1024

type LifecycleManager struct {
	config     *config.Config
	logger     *zap.Logger
	loader     *devices.ProfileLoader
	deviceCfgs []types.DeviceConfig

	sink       storage.Sink
	batcher    *storage.Batcher
	aggregator *health.Aggregator
	wsHub      *websocket.Hub
	forwarder  *forward.Forwarder
	pollers    *poller.Manager
	dispatcher *Dispatcher
	restServer *rest.Server

	readings   chan types.Reading
	rootCtx    context.Context
	rootCancel context.CancelFunc
	startedAt  time.Time

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager composes the fleet and prepares all shared
// infrastructure. Invalid fleet or profile definitions fail here,
// before anything touches the network.
func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := devices.NewProfileLoader(cfg.Profiles.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	fleet, err := devices.LoadFleet(cfg.Fleet.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load fleet file: %w", err)
	}

	composer := devices.NewComposer(loader, devices.Defaults{
		PollInterval: cfg.Polling.DefaultPollInterval,
		Timeout:      cfg.Polling.DefaultTimeout,
		MaxRetries:   cfg.Polling.DefaultMaxRetries,
	}, logger)

	deviceCfgs, err := composer.ComposeFleet(fleet)
	if err != nil {
		return nil, fmt.Errorf("fleet composition failed: %w", err)
	}

	wsHub := websocket.NewHub(logger.Named("websocket"), cfg.WebSocket.DefaultUpdateInterval)
	aggregator := health.NewAggregator(cfg.Health.SnapshotInterval, wsHub, logger.Named("health"))

	return &LifecycleManager{
		config:       cfg,
		logger:       logger,
		loader:       loader,
		deviceCfgs:   deviceCfgs,
		aggregator:   aggregator,
		wsHub:        wsHub,
		readings:     make(chan types.Reading, readingsBuffer),
		currentState: StateStarting,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start brings the system up: sink, batch writer, health, hub,
// forwarder, dispatcher, pollers, REST.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenCounterCore",
		zap.Int("devices", len(lm.deviceCfgs)))

	lm.startedAt = time.Now()
	lm.rootCtx, lm.rootCancel = context.WithCancel(context.Background())

	// Storage sink
	sink, err := storage.NewSink(lm.rootCtx, lm.config.Storage, lm.logger.Named("storage"))
	if err != nil {
		lm.setError(err)
		return err
	}
	lm.sink = sink

	// Batch writer
	lm.batcher = storage.NewBatcher(lm.config.Batching, sink, lm.wsHub, lm.logger.Named("batcher"))
	lm.batcher.Start()
	lm.aggregator.SetStatsProvider(lm.batcher)

	// Health aggregator
	for _, cfg := range lm.deviceCfgs {
		lm.aggregator.RegisterDevice(cfg)
	}
	lm.aggregator.Start()

	// WebSocket hub
	lm.wsHub.SetSnapshotProvider(lm.aggregator)
	go lm.wsHub.Run()

	// MQTT forwarder (optional)
	if lm.config.MQTT.Enabled {
		lm.forwarder = forward.NewForwarder(lm.config.MQTT, lm.logger.Named("mqtt"))
		lm.forwarder.Connect()
	}

	// Dispatcher before the pollers, no reading should wait
	lm.dispatcher = NewDispatcher(lm.readings, lm.batcher, lm.forwarder, lm.wsHub, lm.logger.Named("dispatch"))
	lm.dispatcher.Start()

	// Device pollers
	timing := poller.Timing{
		Cooldown:    lm.config.Polling.Cooldown,
		BackoffBase: lm.config.Polling.BackoffBase,
	}
	pollers, err := poller.NewManager(lm.deviceCfgs, timing, lm.aggregator, lm.readings, lm.logger.Named("poller"))
	if err != nil {
		lm.setError(err)
		return err
	}
	lm.pollers = pollers
	lm.pollers.StartAll(lm.rootCtx)

	// REST API server last
	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.String("sink", sink.Name()),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("mqtt_enabled", lm.config.MQTT.Enabled))

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		shutdownErr = lm.gracefulShutdown(ctx)
		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// Cancel in-flight device I/O
	if lm.rootCancel != nil {
		lm.rootCancel()
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. REST drain and poller stop run in parallel
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.pollers != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.pollers.StopAll()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}

	// A REST drain failure is reported, but the pipeline still drains
	var restErr error
	select {
	case restErr = <-errChan:
	default:
	}

	// 2. Drain the pipeline in dependency order
	close(lm.readings)
	if lm.dispatcher != nil {
		lm.dispatcher.Wait()
	}
	if lm.batcher != nil {
		lm.batcher.Stop(ctx)
	}
	if lm.forwarder != nil {
		lm.forwarder.Close()
	}
	lm.aggregator.Stop()
	if lm.sink != nil {
		lm.sink.Close()
	}

	if restErr != nil {
		return restErr
	}

	lm.logger.Info("Graceful shutdown completed")
	return nil
}

// Done closes once a shutdown has completed, regardless of who
// initiated it.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System entered error state", zap.Error(err))

	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	var count, connected int
	if lm.pollers != nil {
		runners := lm.pollers.Runners()
		count = len(runners)
		for _, r := range runners {
			if r.ConnInfo().State == poller.StateConnected {
				connected++
			}
		}
	}

	return interfaces.SystemStatus{
		State:            state.String(),
		DeviceCount:      count,
		ConnectedDevices: connected,
		UptimeSeconds:    time.Since(lm.startedAt).Seconds(),
	}
}

// Pollers returns the device poller manager
func (lm *LifecycleManager) Pollers() *poller.Manager {
	return lm.pollers
}

// Health returns the health aggregator
func (lm *LifecycleManager) Health() *health.Aggregator {
	return lm.aggregator
}

// Profiles returns the profile loader
func (lm *LifecycleManager) Profiles() *devices.ProfileLoader {
	return lm.loader
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
