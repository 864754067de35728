package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Command identifies a fixed frame the peripheral recognises.
type Command int

const (
	SessionInit Command = iota
	BatteryQuery
	PositionQuery
	Stop
	SpeedStandard
	SpeedComfort
	SpeedSlow
)

type commandInfo struct {
	name  string
	frame string
}

var commandTable = map[Command]commandInfo{
	SessionInit:   {"session-init", "ff03030303787878787878"},
	BatteryQuery:  {"battery-query", "ff78ea41f00301"},
	PositionQuery: {"position-query", "ff78ea41f10301"},
	Stop:          {"stop", "ff78ea415f0301"},
	SpeedStandard: {"speed-standard", "ff78ea41d10301"},
	SpeedComfort:  {"speed-comfort", "ff78ea41d10302"},
	SpeedSlow:     {"speed-slow", "ff78ea41d10303"},
}

// Bytes returns a fresh copy of the command frame.
func (c Command) Bytes() []byte {
	info, ok := commandTable[c]
	if !ok {
		return nil
	}
	frame, err := hex.DecodeString(info.frame)
	if err != nil {
		return nil
	}
	return frame
}

func (c Command) String() string {
	if info, ok := commandTable[c]; ok {
		return info.name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// Speed names accepted by SpeedCommand, default first.
const (
	SpeedNameStandard = "Standard"
	SpeedNameComfort  = "Comfort"
	SpeedNameSlow     = "Slow"
)

// Speeds lists the symbolic speed settings.
var Speeds = []string{SpeedNameStandard, SpeedNameComfort, SpeedNameSlow}

// SpeedCommand maps a symbolic speed name (case-insensitive) to its frame.
func SpeedCommand(name string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "standard":
		return SpeedStandard, nil
	case "comfort":
		return SpeedComfort, nil
	case "slow":
		return SpeedSlow, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be one of %s)", ErrUnknownSpeed, name, strings.Join(Speeds, ", "))
	}
}
