package devices

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// LoadFleet reads the YAML fleet file listing the devices to poll.
// Unknown keys are rejected so a typo fails at startup instead of
// silently configuring nothing.
func LoadFleet(path string) (types.FleetDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.FleetDefinition{}, fmt.Errorf("read fleet file: %w", err)
	}

	var fleet types.FleetDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fleet); err != nil {
		return types.FleetDefinition{}, fmt.Errorf("parse fleet file %s: %w", path, err)
	}

	return fleet, nil
}
