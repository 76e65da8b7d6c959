package modbus

import (
	"fmt"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// MaxReadQuantity ist das Protokolllimit für FC03/FC04: höchstens
// 125 Register pro Request.
const MaxReadQuantity = 125

// BlockPlan beschreibt einen zusammenhängenden Registerbereich, der
// alle Kanäle eines Geräts mit einem einzigen Read abdeckt.
type BlockPlan struct {
	Start uint16
	Count uint16
}

// PlanBlock berechnet den kleinsten Bereich über alle Kanäle.
func PlanBlock(channels []types.ChannelConfig) (BlockPlan, error) {
	if len(channels) == 0 {
		return BlockPlan{}, fmt.Errorf("no channels configured")
	}

	start := channels[0].StartRegister
	end := channels[0].StartRegister + channels[0].RegisterCount
	for _, ch := range channels[1:] {
		if ch.StartRegister < start {
			start = ch.StartRegister
		}
		if chEnd := ch.StartRegister + ch.RegisterCount; chEnd > end {
			end = chEnd
		}
	}

	count := end - start
	if count > MaxReadQuantity {
		return BlockPlan{}, fmt.Errorf("register span %d exceeds protocol limit %d", count, MaxReadQuantity)
	}

	return BlockPlan{Start: start, Count: count}, nil
}

// Slice schneidet die Register eines Kanals aus dem Blockergebnis.
func (p BlockPlan) Slice(registers []uint16, ch types.ChannelConfig) ([]uint16, error) {
	if ch.StartRegister < p.Start {
		return nil, fmt.Errorf("channel %d starts before block", ch.Channel)
	}
	offset := int(ch.StartRegister - p.Start)
	end := offset + int(ch.RegisterCount)
	if end > len(registers) {
		return nil, fmt.Errorf("channel %d: need registers [%d:%d], block has %d", ch.Channel, offset, end, len(registers))
	}
	return registers[offset:end], nil
}
