package processing

import (
	"math"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// ReconstructValue combines raw registers into a counter value.
// Two registers form a 32-bit counter; ADAM modules put the low word
// in the first register, other vendors the high word.
func ReconstructValue(registers []uint16, order types.WordOrder) uint64 {
	switch len(registers) {
	case 0:
		return 0
	case 1:
		return uint64(registers[0])
	default:
		low, high := registers[0], registers[1]
		if order == types.WordOrderHighFirst {
			low, high = high, low
		}
		return uint64(high)<<16 | uint64(low)
	}
}

// downgrade applies a quality transition. Quality moves away from
// Good exactly once per reading and is never improved afterwards.
func downgrade(current, to types.Quality) types.Quality {
	if current == types.QualityGood {
		return to
	}
	return current
}

// Process turns one raw sample into a reading, using the previous
// reading of the same channel for rate and wraparound handling.
//
// Deterministic and side-effect-free: no I/O, no clocks, no shared
// state. Identical inputs produce identical output.
func Process(prev *types.Reading, raw types.RawSample, cfg types.ChannelConfig) types.Reading {
	rawValue := ReconstructValue(raw.Registers, cfg.WordOrder)
	value := float64(rawValue)*cfg.ScaleFactor + cfg.Offset

	reading := types.Reading{
		DeviceID:  raw.DeviceID,
		Channel:   raw.Channel,
		RawValue:  rawValue,
		Value:     value,
		Quality:   types.QualityGood,
		Timestamp: raw.Timestamp,
	}

	if prev != nil {
		timeDiff := raw.Timestamp.Sub(prev.Timestamp).Seconds()
		if timeDiff <= 0 {
			// Non-monotonic clock or duplicate sample. The value may
			// still be fine, but progression cannot be checked.
			reading.Quality = downgrade(reading.Quality, types.QualityUncertain)
		} else {
			valueDiff := int64(rawValue) - int64(prev.RawValue)

			// A large negative step is read as counter wraparound.
			// A true device reset looks identical and is accepted as
			// a known false positive of this heuristic.
			maxCounter := cfg.MaxCounter()
			if valueDiff < 0 && uint64(-valueDiff) > maxCounter/2 {
				valueDiff += int64(maxCounter) + 1
			}

			rate := float64(valueDiff) / timeDiff * cfg.ScaleFactor
			reading.Rate = &rate

			if cfg.MaxChangeRate != nil && math.Abs(rate) > *cfg.MaxChangeRate {
				reading.Quality = downgrade(reading.Quality, types.QualityDegraded)
			}
		}
	}

	if outOfRange(value, cfg) {
		reading.Quality = downgrade(reading.Quality, types.QualityBad)
	}

	return reading
}

func outOfRange(value float64, cfg types.ChannelConfig) bool {
	if cfg.MinValue != nil && value < *cfg.MinValue {
		return true
	}
	if cfg.MaxValue != nil && value > *cfg.MaxValue {
		return true
	}
	return false
}
