package types

import (
	"time"
)

// DeviceStatus is the derived health classification of one device.
type DeviceStatus string

const (
	DeviceStatusOnline   DeviceStatus = "online"
	DeviceStatusDegraded DeviceStatus = "degraded"
	DeviceStatusOffline  DeviceStatus = "offline"
)

// DeviceHealth is the per-device health snapshot maintained by the
// aggregator. Exposed as a copy; never mutated outside the aggregator.
type DeviceHealth struct {
	DeviceID            string       `json:"device_id"`
	Status              DeviceStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalReads          uint64       `json:"total_reads"`
	TotalFailures       uint64       `json:"total_failures"`
	LastSuccess         time.Time    `json:"last_success,omitzero"`
	LastError           string       `json:"last_error,omitempty"`
	AvgLatencyMs        float64      `json:"avg_latency_ms"`
}

// BatcherStats counts what the batch writer has done so far. Dropped
// and evicted readings are explicit, observable data loss.
type BatcherStats struct {
	BatchesWritten  uint64    `json:"batches_written"`
	ReadingsWritten uint64    `json:"readings_written"`
	BatchesDropped  uint64    `json:"batches_dropped"`
	ReadingsDropped uint64    `json:"readings_dropped"`
	ReadingsEvicted uint64    `json:"readings_evicted"`
	BufferLength    int       `json:"buffer_length"`
	LastFlush       time.Time `json:"last_flush,omitzero"`
}

// SystemSnapshot is the system-level roll-up published to live
// subscribers and served on demand.
type SystemSnapshot struct {
	Timestamp      time.Time      `json:"timestamp"`
	TotalDevices   int            `json:"total_devices"`
	Online         int            `json:"online"`
	Degraded       int            `json:"degraded"`
	Offline        int            `json:"offline"`
	FractionOnline float64        `json:"fraction_online"`
	WorstLatencyMs float64        `json:"worst_latency_ms"`
	Batcher        BatcherStats   `json:"batcher"`
	CPUPercent     float64        `json:"cpu_percent"`
	MemPercent     float64        `json:"mem_percent"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	Devices        []DeviceHealth `json:"devices"`
}
