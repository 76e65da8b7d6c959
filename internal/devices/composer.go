package devices

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/modbus"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// Defaults fill fleet entries that leave timing parameters unset.
type Defaults struct {
	PollInterval time.Duration
	Timeout      time.Duration
	MaxRetries   int
}

// Poll intervals outside this window are configuration mistakes.
const (
	minPollInterval = time.Second
	maxPollInterval = time.Hour
)

type Composer struct {
	loader   *ProfileLoader
	defaults Defaults
	logger   *zap.Logger
}

func NewComposer(loader *ProfileLoader, defaults Defaults, logger *zap.Logger) *Composer {
	return &Composer{
		loader:   loader,
		defaults: defaults,
		logger:   logger,
	}
}

// ComposeFleet resolves every fleet entry against its profile and
// builds the immutable runtime device configurations. Violations are
// reported as ErrKindInvariant; nothing invalid reaches the pollers.
func (c *Composer) ComposeFleet(fleet types.FleetDefinition) ([]types.DeviceConfig, error) {
	if len(fleet.Devices) == 0 {
		return nil, types.NewKindError(types.ErrKindInvariant, fmt.Errorf("fleet is empty: no devices configured"))
	}

	configs := make([]types.DeviceConfig, 0, len(fleet.Devices))
	for i := range fleet.Devices {
		cfg, err := c.composeDevice(fleet.Devices[i])
		if err != nil {
			return nil, types.NewKindError(types.ErrKindInvariant, fmt.Errorf("device %q: %w", fleet.Devices[i].ID, err))
		}
		configs = append(configs, cfg)
	}

	if err := ValidateConfigs(configs); err != nil {
		return nil, types.NewKindError(types.ErrKindInvariant, err)
	}

	c.logger.Info("Fleet composed",
		zap.Int("devices", len(configs)))

	return configs, nil
}

func (c *Composer) composeDevice(dev types.FleetDevice) (types.DeviceConfig, error) {
	if dev.ID == "" {
		return types.DeviceConfig{}, fmt.Errorf("missing device id")
	}
	if dev.UnitID < 1 || dev.UnitID > 255 {
		return types.DeviceConfig{}, fmt.Errorf("unit_id %d outside 1-255", dev.UnitID)
	}

	cfg := types.DeviceConfig{
		DeviceID:     dev.ID,
		Name:         dev.Name,
		Location:     dev.Location,
		Address:      dev.Address,
		Port:         dev.Port,
		UnitID:       uint8(dev.UnitID),
		Timeout:      c.defaults.Timeout,
		MaxRetries:   c.defaults.MaxRetries,
		PollInterval: c.defaults.PollInterval,
		WordOrder:    types.WordOrderLowFirst,
	}
	if cfg.Name == "" {
		cfg.Name = dev.ID
	}
	if cfg.Port == 0 {
		cfg.Port = 502
	}
	if dev.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(dev.PollIntervalMs) * time.Millisecond
	}
	if dev.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(dev.TimeoutMs) * time.Millisecond
	}
	if dev.MaxRetries > 0 {
		cfg.MaxRetries = dev.MaxRetries
	}

	var profile *types.CounterProfileDefinition
	if dev.Profile != "" {
		var err error
		profile, err = c.loader.Load(dev.Profile)
		if err != nil {
			return types.DeviceConfig{}, err
		}
		cfg.WordOrder = profile.WordOrder

		c.logger.Debug("Profile resolved",
			zap.String("device_id", dev.ID),
			zap.String("profile", dev.Profile),
			zap.Int("channels", len(profile.Channels)))
	}

	channels, err := composeChannels(profile, dev.Channels, cfg.WordOrder)
	if err != nil {
		return types.DeviceConfig{}, err
	}
	cfg.Channels = channels

	return cfg, nil
}

// composeChannels merges profile channel layouts with fleet
// overrides. A fleet entry that lists channels selects the subset to
// poll; an entry without a profile must define each layout inline.
func composeChannels(profile *types.CounterProfileDefinition, selected []types.FleetChannel, order types.WordOrder) ([]types.ChannelConfig, error) {
	byNumber := make(map[int]types.ChannelDefinition)
	if profile != nil {
		for _, def := range profile.Channels {
			byNumber[def.Channel] = def
		}
	}

	// no selection: poll every profile channel as defined
	if len(selected) == 0 {
		if profile == nil {
			return nil, fmt.Errorf("no channels configured and no profile referenced")
		}
		channels := make([]types.ChannelConfig, 0, len(profile.Channels))
		for _, def := range profile.Channels {
			channels = append(channels, channelFromDefinition(def, order))
		}
		return channels, nil
	}

	channels := make([]types.ChannelConfig, 0, len(selected))
	for _, sel := range selected {
		def, inProfile := byNumber[sel.Channel]
		var ch types.ChannelConfig
		switch {
		case inProfile:
			ch = channelFromDefinition(def, order)
		case sel.StartRegister != nil && sel.RegisterCount != nil:
			// inline layout without profile backing
			ch = types.ChannelConfig{
				Channel:       sel.Channel,
				Name:          fmt.Sprintf("channel_%d", sel.Channel),
				StartRegister: *sel.StartRegister,
				RegisterCount: *sel.RegisterCount,
				ScaleFactor:   1.0,
				WordOrder:     order,
			}
		default:
			return nil, fmt.Errorf("channel %d: not in profile and no inline register layout", sel.Channel)
		}

		applyOverrides(&ch, sel)
		channels = append(channels, ch)
	}

	return channels, nil
}

func channelFromDefinition(def types.ChannelDefinition, order types.WordOrder) types.ChannelConfig {
	return types.ChannelConfig{
		Channel:       def.Channel,
		Name:          def.Name,
		StartRegister: def.StartRegister,
		RegisterCount: def.RegisterCount,
		ScaleFactor:   def.ScaleFactor,
		Offset:        def.Offset,
		Unit:          def.Unit,
		MinValue:      def.MinValue,
		MaxValue:      def.MaxValue,
		MaxChangeRate: def.MaxChangeRate,
		WordOrder:     order,
	}
}

func applyOverrides(ch *types.ChannelConfig, sel types.FleetChannel) {
	if sel.Name != "" {
		ch.Name = sel.Name
	}
	if sel.StartRegister != nil {
		ch.StartRegister = *sel.StartRegister
	}
	if sel.RegisterCount != nil {
		ch.RegisterCount = *sel.RegisterCount
	}
	if sel.ScaleFactor != nil {
		ch.ScaleFactor = *sel.ScaleFactor
	}
	if sel.Offset != nil {
		ch.Offset = *sel.Offset
	}
	if sel.Unit != "" {
		ch.Unit = sel.Unit
	}
	if sel.MinValue != nil {
		ch.MinValue = sel.MinValue
	}
	if sel.MaxValue != nil {
		ch.MaxValue = sel.MaxValue
	}
	if sel.MaxChangeRate != nil {
		ch.MaxChangeRate = sel.MaxChangeRate
	}
}

// ValidateConfigs enforces the startup invariants. Violations are
// fatal: the process refuses to start rather than poll with a config
// that can only fail at runtime.
func ValidateConfigs(configs []types.DeviceConfig) error {
	seen := make(map[string]bool)

	for _, cfg := range configs {
		if seen[cfg.DeviceID] {
			return fmt.Errorf("duplicate device id %q", cfg.DeviceID)
		}
		seen[cfg.DeviceID] = true

		if cfg.Address == "" {
			return fmt.Errorf("device %q: missing address", cfg.DeviceID)
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			return fmt.Errorf("device %q: port %d outside 1-65535", cfg.DeviceID, cfg.Port)
		}
		if cfg.Timeout <= 0 {
			return fmt.Errorf("device %q: timeout must be positive", cfg.DeviceID)
		}
		if cfg.MaxRetries < 1 {
			return fmt.Errorf("device %q: max_retries must be at least 1", cfg.DeviceID)
		}
		if cfg.PollInterval < minPollInterval || cfg.PollInterval > maxPollInterval {
			return fmt.Errorf("device %q: poll interval %s outside [%s, %s]",
				cfg.DeviceID, cfg.PollInterval, minPollInterval, maxPollInterval)
		}
		if len(cfg.Channels) == 0 {
			return fmt.Errorf("device %q: no channels", cfg.DeviceID)
		}

		channelSeen := make(map[int]bool)
		for _, ch := range cfg.Channels {
			if channelSeen[ch.Channel] {
				return fmt.Errorf("device %q: duplicate channel %d", cfg.DeviceID, ch.Channel)
			}
			channelSeen[ch.Channel] = true

			if ch.RegisterCount != 1 && ch.RegisterCount != 2 {
				return fmt.Errorf("device %q channel %d: register_count must be 1 or 2, got %d",
					cfg.DeviceID, ch.Channel, ch.RegisterCount)
			}
			if ch.ScaleFactor == 0 {
				return fmt.Errorf("device %q channel %d: scale_factor must not be zero", cfg.DeviceID, ch.Channel)
			}
			if ch.MinValue != nil && ch.MaxValue != nil && *ch.MinValue >= *ch.MaxValue {
				return fmt.Errorf("device %q channel %d: min_value %v not below max_value %v",
					cfg.DeviceID, ch.Channel, *ch.MinValue, *ch.MaxValue)
			}
			if ch.MaxChangeRate != nil && *ch.MaxChangeRate <= 0 {
				return fmt.Errorf("device %q channel %d: max_change_rate must be positive", cfg.DeviceID, ch.Channel)
			}
		}

		// all channels must fit one protocol-legal block read
		if _, err := modbus.PlanBlock(cfg.Channels); err != nil {
			return fmt.Errorf("device %q: %w", cfg.DeviceID, err)
		}
	}

	return nil
}
