package devices

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

const testProfile = `{
  "profile": {
    "id": "adam-6051",
    "vendor": "Advantech",
    "model": "ADAM-6051",
    "version": "1.0"
  },
  "word_order": "low_first",
  "channels": [
    {"channel": 0, "name": "counter_0", "start_register": 0, "register_count": 2, "scale_factor": 1.0},
    {"channel": 1, "name": "counter_1", "start_register": 2, "register_count": 2, "scale_factor": 1.0, "max_change_rate": 500}
  ]
}`

func testDefaults() Defaults {
	return Defaults{
		PollInterval: 2 * time.Second,
		Timeout:      5 * time.Second,
		MaxRetries:   3,
	}
}

func newTestComposer(t *testing.T) *Composer {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "adam-6051.json"), []byte(testProfile), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	loader, err := NewProfileLoader([]string{dir})
	if err != nil {
		t.Fatalf("loader: %v", err)
	}

	return NewComposer(loader, testDefaults(), zap.NewNop())
}

func fleetDevice() types.FleetDevice {
	return types.FleetDevice{
		ID:      "line1-counter",
		Name:    "Line 1 Counter",
		Address: "10.0.0.5",
		Port:    502,
		UnitID:  1,
		Profile: "adam-6051",
	}
}

func TestComposeFleetFromProfile(t *testing.T) {
	composer := newTestComposer(t)

	configs, err := composer.ComposeFleet(types.FleetDefinition{
		Devices: []types.FleetDevice{fleetDevice()},
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("want 1 device, got %d", len(configs))
	}

	cfg := configs[0]
	if len(cfg.Channels) != 2 {
		t.Fatalf("want 2 channels from profile, got %d", len(cfg.Channels))
	}
	if cfg.WordOrder != types.WordOrderLowFirst {
		t.Fatalf("word order: got %s", cfg.WordOrder)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("poll interval default: got %s", cfg.PollInterval)
	}
	if cfg.Channels[1].MaxChangeRate == nil || *cfg.Channels[1].MaxChangeRate != 500 {
		t.Fatalf("channel 1 max_change_rate not carried from profile")
	}
}

func TestComposeChannelSelectionAndOverride(t *testing.T) {
	composer := newTestComposer(t)

	scale := 0.5
	dev := fleetDevice()
	dev.Channels = []types.FleetChannel{
		{Channel: 0, ScaleFactor: &scale, Name: "bottles"},
	}

	configs, err := composer.ComposeFleet(types.FleetDefinition{Devices: []types.FleetDevice{dev}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	channels := configs[0].Channels
	if len(channels) != 1 {
		t.Fatalf("selection must reduce to 1 channel, got %d", len(channels))
	}
	if channels[0].ScaleFactor != 0.5 {
		t.Fatalf("scale override not applied: got %v", channels[0].ScaleFactor)
	}
	if channels[0].Name != "bottles" {
		t.Fatalf("name override not applied: got %s", channels[0].Name)
	}
	// layout stays from the profile
	if channels[0].StartRegister != 0 || channels[0].RegisterCount != 2 {
		t.Fatalf("profile layout lost: start %d count %d", channels[0].StartRegister, channels[0].RegisterCount)
	}
}

func TestComposeInlineChannels(t *testing.T) {
	composer := newTestComposer(t)

	start := uint16(10)
	count := uint16(1)
	dev := fleetDevice()
	dev.Profile = ""
	dev.Channels = []types.FleetChannel{
		{Channel: 0, StartRegister: &start, RegisterCount: &count},
	}

	configs, err := composer.ComposeFleet(types.FleetDefinition{Devices: []types.FleetDevice{dev}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	ch := configs[0].Channels[0]
	if ch.StartRegister != 10 || ch.RegisterCount != 1 {
		t.Fatalf("inline layout: start %d count %d", ch.StartRegister, ch.RegisterCount)
	}
	if ch.ScaleFactor != 1.0 {
		t.Fatalf("inline scale default: got %v", ch.ScaleFactor)
	}
}

func TestComposeRejectsUnknownChannel(t *testing.T) {
	composer := newTestComposer(t)

	dev := fleetDevice()
	dev.Channels = []types.FleetChannel{{Channel: 7}}

	_, err := composer.ComposeFleet(types.FleetDefinition{Devices: []types.FleetDevice{dev}})
	if err == nil {
		t.Fatal("expected error for channel outside profile without inline layout")
	}
	if types.KindOf(err) != types.ErrKindInvariant {
		t.Fatalf("composition failure kind: got %s", types.KindOf(err))
	}
}

func TestComposeRejectsBadUnitID(t *testing.T) {
	composer := newTestComposer(t)

	dev := fleetDevice()
	dev.UnitID = 0

	if _, err := composer.ComposeFleet(types.FleetDefinition{Devices: []types.FleetDevice{dev}}); err == nil {
		t.Fatal("expected error for unit id 0")
	}
}

func TestComposeRejectsEmptyFleet(t *testing.T) {
	composer := newTestComposer(t)

	if _, err := composer.ComposeFleet(types.FleetDefinition{}); err == nil {
		t.Fatal("expected error for empty fleet")
	}
}

func TestValidateConfigsInvariants(t *testing.T) {
	valid := types.DeviceConfig{
		DeviceID:     "dev-a",
		Address:      "10.0.0.5",
		Port:         502,
		UnitID:       1,
		Timeout:      5 * time.Second,
		MaxRetries:   3,
		PollInterval: 2 * time.Second,
		Channels: []types.ChannelConfig{
			{Channel: 0, StartRegister: 0, RegisterCount: 2, ScaleFactor: 1},
		},
	}

	if err := ValidateConfigs([]types.DeviceConfig{valid}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	dup := valid
	if err := ValidateConfigs([]types.DeviceConfig{valid, dup}); err == nil {
		t.Fatal("duplicate device id not rejected")
	}

	fast := valid
	fast.PollInterval = 100 * time.Millisecond
	if err := ValidateConfigs([]types.DeviceConfig{fast}); err == nil {
		t.Fatal("sub-second poll interval not rejected")
	}

	badCount := valid
	badCount.Channels = []types.ChannelConfig{
		{Channel: 0, StartRegister: 0, RegisterCount: 3, ScaleFactor: 1},
	}
	if err := ValidateConfigs([]types.DeviceConfig{badCount}); err == nil {
		t.Fatal("register_count 3 not rejected")
	}

	zeroScale := valid
	zeroScale.Channels = []types.ChannelConfig{
		{Channel: 0, StartRegister: 0, RegisterCount: 2, ScaleFactor: 0},
	}
	if err := ValidateConfigs([]types.DeviceConfig{zeroScale}); err == nil {
		t.Fatal("zero scale_factor not rejected")
	}
}

func TestLoaderRejectsInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	bad := `{
  "profile": {"id": "broken", "vendor": "x", "model": "y", "version": "1"},
  "channels": [
    {"channel": 0, "name": "c", "start_register": 0, "register_count": 3, "scale_factor": 1}
  ]
}`
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	loader, err := NewProfileLoader([]string{dir})
	if err != nil {
		t.Fatalf("loader: %v", err)
	}

	if _, err := loader.Load("broken"); err == nil {
		t.Fatal("register_count 3 must fail schema validation")
	}
}
