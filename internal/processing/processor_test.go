package processing

import (
	"reflect"
	"testing"
	"time"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sample(registers []uint16, at time.Time) types.RawSample {
	return types.RawSample{
		DeviceID:  "line1-counter",
		Channel:   0,
		Registers: registers,
		Timestamp: at,
	}
}

func counter32() types.ChannelConfig {
	return types.ChannelConfig{
		Channel:       0,
		StartRegister: 0,
		RegisterCount: 2,
		ScaleFactor:   1.0,
		WordOrder:     types.WordOrderLowFirst,
	}
}

func counter16() types.ChannelConfig {
	cfg := counter32()
	cfg.RegisterCount = 1
	return cfg
}

func f64(v float64) *float64 { return &v }

func TestReconstructValue(t *testing.T) {
	if v := ReconstructValue([]uint16{5, 1}, types.WordOrderLowFirst); v != 65541 {
		t.Fatalf("low first: want 65541, got %d", v)
	}
	if v := ReconstructValue([]uint16{1, 5}, types.WordOrderHighFirst); v != 65541 {
		t.Fatalf("high first: want 65541, got %d", v)
	}
	if v := ReconstructValue([]uint16{7}, types.WordOrderLowFirst); v != 7 {
		t.Fatalf("single register: want 7, got %d", v)
	}
}

func TestScaleAndOffset(t *testing.T) {
	cfg := counter16()
	cfg.ScaleFactor = 0.5
	cfg.Offset = 10

	reading := Process(nil, sample([]uint16{100}, base), cfg)
	if reading.Value != 60 {
		t.Fatalf("value: want 60, got %v", reading.Value)
	}
	if reading.RawValue != 100 {
		t.Fatalf("raw value: want 100, got %d", reading.RawValue)
	}
	if reading.Rate != nil {
		t.Fatal("rate must be absent without a previous reading")
	}
	if reading.Quality != types.QualityGood {
		t.Fatalf("quality: want good, got %s", reading.Quality)
	}
}

func TestRateUnits(t *testing.T) {
	cfg := counter32()
	prev := Process(nil, sample([]uint16{100, 0}, base), cfg)
	curr := Process(&prev, sample([]uint16{160, 0}, base.Add(60*time.Second)), cfg)

	if curr.Rate == nil {
		t.Fatal("rate missing")
	}
	if *curr.Rate != 1.0 {
		t.Fatalf("rate: want 1.0, got %v", *curr.Rate)
	}
}

func TestOverflowCompensation32Bit(t *testing.T) {
	cfg := counter32()
	// 4294967290 = 0xFFFFFFFA -> low word 0xFFFA, high word 0xFFFF
	prev := Process(nil, sample([]uint16{0xFFFA, 0xFFFF}, base), cfg)
	if prev.RawValue != 4294967290 {
		t.Fatalf("prev raw: want 4294967290, got %d", prev.RawValue)
	}

	curr := Process(&prev, sample([]uint16{5, 0}, base.Add(time.Second)), cfg)
	if curr.Rate == nil {
		t.Fatal("rate missing")
	}
	// wrapped difference is 11, not -4294967285
	if *curr.Rate != 11.0 {
		t.Fatalf("rate: want 11.0, got %v", *curr.Rate)
	}
}

func TestOverflowCompensation16Bit(t *testing.T) {
	cfg := counter16()
	prev := Process(nil, sample([]uint16{65530}, base), cfg)
	curr := Process(&prev, sample([]uint16{5}, base.Add(time.Second)), cfg)

	if curr.Rate == nil || *curr.Rate != 11.0 {
		t.Fatalf("rate: want 11.0, got %v", curr.Rate)
	}
}

func TestSmallNegativeStepIsNotWraparound(t *testing.T) {
	cfg := counter16()
	prev := Process(nil, sample([]uint16{100}, base), cfg)
	curr := Process(&prev, sample([]uint16{90}, base.Add(time.Second)), cfg)

	if curr.Rate == nil || *curr.Rate != -10.0 {
		t.Fatalf("rate: want -10.0, got %v", curr.Rate)
	}
}

func TestNonMonotonicTimestampGuard(t *testing.T) {
	cfg := counter32()
	prev := Process(nil, sample([]uint16{100, 0}, base), cfg)

	duplicate := Process(&prev, sample([]uint16{110, 0}, base), cfg)
	if duplicate.Rate != nil {
		t.Fatalf("duplicate timestamp must not produce a rate, got %v", *duplicate.Rate)
	}
	if duplicate.Quality != types.QualityUncertain {
		t.Fatalf("quality: want uncertain, got %s", duplicate.Quality)
	}

	backwards := Process(&prev, sample([]uint16{110, 0}, base.Add(-time.Second)), cfg)
	if backwards.Rate != nil {
		t.Fatalf("backwards timestamp must not produce a rate, got %v", *backwards.Rate)
	}
}

func TestMaxChangeRateDegrades(t *testing.T) {
	cfg := counter32()
	cfg.MaxChangeRate = f64(5.0)

	prev := Process(nil, sample([]uint16{0, 0}, base), cfg)
	curr := Process(&prev, sample([]uint16{1000, 0}, base.Add(time.Second)), cfg)

	if curr.Quality != types.QualityDegraded {
		t.Fatalf("quality: want degraded, got %s", curr.Quality)
	}
	// the rate itself is kept for downstream policy decisions
	if curr.Rate == nil || *curr.Rate != 1000.0 {
		t.Fatalf("rate: want 1000.0, got %v", curr.Rate)
	}
}

func TestRangeViolationIsBad(t *testing.T) {
	cfg := counter16()
	cfg.MaxValue = f64(50)

	reading := Process(nil, sample([]uint16{100}, base), cfg)
	if reading.Quality != types.QualityBad {
		t.Fatalf("quality: want bad, got %s", reading.Quality)
	}
}

func TestQualityNeverReversed(t *testing.T) {
	cfg := counter32()
	cfg.MaxChangeRate = f64(5.0)
	cfg.MaxValue = f64(50)

	// both the rate clamp and the range check fire; the first
	// transition away from Good sticks
	prev := Process(nil, sample([]uint16{0, 0}, base), cfg)
	curr := Process(&prev, sample([]uint16{1000, 0}, base.Add(time.Second)), cfg)

	if curr.Quality != types.QualityDegraded {
		t.Fatalf("quality: want degraded, got %s", curr.Quality)
	}
}

func TestProcessIsDeterministic(t *testing.T) {
	cfg := counter32()
	cfg.MaxChangeRate = f64(100)
	prev := Process(nil, sample([]uint16{100, 2}, base), cfg)

	raw := sample([]uint16{200, 2}, base.Add(2*time.Second))
	a := Process(&prev, raw, cfg)
	b := Process(&prev, raw, cfg)

	if !reflect.DeepEqual(a, b) {
		t.Fatalf("identical inputs produced different readings:\n%+v\n%+v", a, b)
	}
}
