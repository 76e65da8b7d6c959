package types

import (
	"time"
)

// Quality classifies how much a reading can be trusted.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityDegraded  Quality = "degraded"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
)

// RawSample is the unprocessed result of one register read.
// It only lives between the poll cycle and the processor.
type RawSample struct {
	DeviceID  string
	Channel   int
	Registers []uint16
	Timestamp time.Time
}

// Reading is the unit of output: one scaled, quality-annotated
// counter sample. Immutable once built.
type Reading struct {
	DeviceID  string    `json:"device_id"`
	Location  string    `json:"location,omitempty"`
	Channel   int       `json:"channel"`
	RawValue  uint64    `json:"raw_value"`
	Value     float64   `json:"value"`
	Rate      *float64  `json:"rate,omitempty"`
	Quality   Quality   `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}
