package websocket

import (
	"time"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Reading stream messages
	MessageTypeReading MessageType = "reading"

	// Device health messages
	MessageTypeDeviceStatus MessageType = "device_status"

	// Storage pipeline messages
	MessageTypeBatchDropped MessageType = "batch_dropped"
	MessageTypeBackpressure MessageType = "backpressure"

	// System messages
	MessageTypeSystemSnapshot  MessageType = "system_snapshot"
	MessageTypeIntervalChanged MessageType = "interval_changed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// DeviceStatusData represents a device status transition
type DeviceStatusData struct {
	DeviceID  string             `json:"device_id"`
	Status    types.DeviceStatus `json:"status"`
	Previous  types.DeviceStatus `json:"previous_status"`
	ChangedAt time.Time          `json:"changed_at"`
}

// BatchDroppedData reports a batch abandoned after exhausted retries
type BatchDroppedData struct {
	BatchID  string `json:"batch_id"`
	Readings int    `json:"readings"`
	Reason   string `json:"reason"`
}

// BackpressureData reports evictions from a full write buffer
type BackpressureData struct {
	Evicted      int `json:"evicted"`
	BufferLength int `json:"buffer_length"`
}

// IntervalChangedData confirms a client's snapshot interval
type IntervalChangedData struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Helper functions for creating specific message types

func NewReadingMessage(reading types.Reading) Message {
	return NewMessage(MessageTypeReading, reading)
}

func NewDeviceStatusMessage(deviceID string, previous, current types.DeviceStatus, at time.Time) Message {
	return NewMessage(MessageTypeDeviceStatus, DeviceStatusData{
		DeviceID:  deviceID,
		Status:    current,
		Previous:  previous,
		ChangedAt: at,
	})
}

func NewSystemSnapshotMessage(snapshot types.SystemSnapshot) Message {
	return NewMessage(MessageTypeSystemSnapshot, snapshot)
}

func NewBatchDroppedMessage(batchID string, readings int, reason string) Message {
	return NewMessage(MessageTypeBatchDropped, BatchDroppedData{
		BatchID:  batchID,
		Readings: readings,
		Reason:   reason,
	})
}

func NewBackpressureMessage(evicted, bufferLength int) Message {
	return NewMessage(MessageTypeBackpressure, BackpressureData{
		Evicted:      evicted,
		BufferLength: bufferLength,
	})
}
