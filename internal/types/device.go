package types

import (
	"fmt"
	"time"
)

// WordOrder describes how a 32-bit counter is split across two
// 16-bit registers.
type WordOrder string

const (
	// ADAM modules transmit the low word first: register N holds the
	// low 16 bits, register N+1 the high 16 bits.
	WordOrderLowFirst  WordOrder = "low_first"
	WordOrderHighFirst WordOrder = "high_first"
)

// CounterProfileDefinition is the on-disk JSON layout for a device
// model: which registers carry which counter channels.
type CounterProfileDefinition struct {
	Profile   ProfileInfo         `json:"profile"`
	WordOrder WordOrder           `json:"word_order,omitempty"`
	Channels  []ChannelDefinition `json:"channels"`
}

type ProfileInfo struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

type ChannelDefinition struct {
	Channel       int      `json:"channel"`
	Name          string   `json:"name"`
	StartRegister uint16   `json:"start_register"`
	RegisterCount uint16   `json:"register_count"`
	ScaleFactor   float64  `json:"scale_factor"`
	Offset        float64  `json:"offset"`
	Unit          string   `json:"unit,omitempty"`
	MinValue      *float64 `json:"min_value,omitempty"`
	MaxValue      *float64 `json:"max_value,omitempty"`
	MaxChangeRate *float64 `json:"max_change_rate,omitempty"`
	Description   string   `json:"description,omitempty"`
}

// FleetDefinition is the YAML fleet file: the concrete devices this
// collector polls, each referencing a profile or carrying inline
// channel definitions.
type FleetDefinition struct {
	Devices []FleetDevice `yaml:"devices"`
}

type FleetDevice struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Location       string         `yaml:"location"`
	Address        string         `yaml:"address"`
	Port           int            `yaml:"port"`
	UnitID         int            `yaml:"unit_id"`
	Profile        string         `yaml:"profile"`
	PollIntervalMs int            `yaml:"poll_interval_ms"`
	TimeoutMs      int            `yaml:"timeout_ms"`
	MaxRetries     int            `yaml:"max_retries"`
	Channels       []FleetChannel `yaml:"channels"`
}

// FleetChannel selects a profile channel and optionally overrides its
// scaling and limits. Without a profile reference it must define the
// full register layout inline.
type FleetChannel struct {
	Channel       int      `yaml:"channel"`
	Name          string   `yaml:"name"`
	StartRegister *uint16  `yaml:"start_register"`
	RegisterCount *uint16  `yaml:"register_count"`
	ScaleFactor   *float64 `yaml:"scale_factor"`
	Offset        *float64 `yaml:"offset"`
	Unit          string   `yaml:"unit"`
	MinValue      *float64 `yaml:"min_value"`
	MaxValue      *float64 `yaml:"max_value"`
	MaxChangeRate *float64 `yaml:"max_change_rate"`
}

// DeviceConfig is the composed runtime configuration for one device.
// Built once at startup, immutable afterwards.
type DeviceConfig struct {
	DeviceID     string
	Name         string
	Location     string
	Address      string
	Port         int
	UnitID       uint8
	Timeout      time.Duration
	MaxRetries   int
	PollInterval time.Duration
	WordOrder    WordOrder
	Channels     []ChannelConfig
}

// ChannelConfig is one logical counter within a device.
type ChannelConfig struct {
	Channel       int
	Name          string
	StartRegister uint16
	RegisterCount uint16
	ScaleFactor   float64
	Offset        float64
	Unit          string
	MinValue      *float64
	MaxValue      *float64
	MaxChangeRate *float64
	WordOrder     WordOrder
}

// MaxCounter returns the largest raw value the channel's register
// width can represent.
func (c ChannelConfig) MaxCounter() uint64 {
	if c.RegisterCount == 2 {
		return 1<<32 - 1
	}
	return 1<<16 - 1
}

// Endpoint returns the TCP dial target for the device.
func (d DeviceConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}
