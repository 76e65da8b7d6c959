package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/devices"
	"github.com/KevinKickass/OpenCounterCore/internal/health"
	"github.com/KevinKickass/OpenCounterCore/internal/poller"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string  `json:"state"`
	DeviceCount      int     `json:"device_count"`
	ConnectedDevices int     `json:"connected_devices"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

type LifecycleManager interface {
	Config() *config.Config
	Pollers() *poller.Manager
	Health() *health.Aggregator
	Profiles() *devices.ProfileLoader
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
