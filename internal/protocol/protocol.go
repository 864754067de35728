// Package protocol implements the Tuiss Smartview wire format: position frames,
// fixed command frames and notification decoding.
package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
)

// GATT characteristics used by the blind motor.
const (
	ControlCharacteristic = "00010405-0405-0607-0809-0a0b0c0d1910"
	NotifyCharacteristic  = "00010304-0405-0607-0809-0a0b0c0d1910"
)

// setPositionPrefix precedes the value and group bytes of every set-position frame.
var setPositionPrefix = []byte{0xff, 0x78, 0xea, 0x41, 0xbf, 0x03}

// batterySentinel marks a notification as a battery report.
const batterySentinel = 210

const minPositionFields = 9

var (
	ErrEncoding          = errors.New("encoding error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrUnknownSpeed      = errors.New("unknown speed")
)

// EncodePosition builds the set-position frame for percent, where 100 is fully open.
func EncodePosition(percent float64) ([]byte, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return nil, fmt.Errorf("%w: position %v outside [0,100]", ErrEncoding, percent)
	}

	devicePercent := 100 - percent
	value := int(math.Round(devicePercent*10)) % 256

	frame := make([]byte, 0, len(setPositionPrefix)+2)
	frame = append(frame, setPositionPrefix...)
	return append(frame, byte(value), positionGroup(percent)), nil
}

// positionGroup selects the group byte; thresholds are exclusive on the upper side.
func positionGroup(percent float64) byte {
	switch {
	case percent > 74.4:
		return 0x00
	case percent > 48.8:
		return 0x01
	case percent > 23.2:
		return 0x02
	default:
		return 0x03
	}
}

// DecodeResponse splits a notification payload into its byte values.
func DecodeResponse(data []byte) ([]int, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty notification", ErrMalformedResponse)
	}
	fields := make([]int, len(data))
	for i, b := range data {
		fields[i] = int(b)
	}
	return fields, nil
}

// BatteryStatus is the charge state reported by a battery query.
type BatteryStatus int

const (
	BatteryUnknown BatteryStatus = iota
	BatteryGood
	BatteryNeedsCharge
)

func (s BatteryStatus) String() string {
	switch s {
	case BatteryGood:
		return "good"
	case BatteryNeedsCharge:
		return "needs_charge"
	default:
		return "unknown"
	}
}

// InterpretBattery reads the battery state out of decoded notification fields.
func InterpretBattery(fields []int) BatteryStatus {
	if len(fields) < 5 || fields[4] != batterySentinel {
		return BatteryUnknown
	}
	if len(fields) == 7 {
		return BatteryNeedsCharge
	}
	if len(fields) < 6 {
		return BatteryUnknown
	}
	if fields[5] >= 10 {
		return BatteryNeedsCharge
	}
	return BatteryGood
}

// InterpretPosition extracts the device-space position (one decimal) from decoded fields.
func InterpretPosition(fields []int) (float64, error) {
	if len(fields) < minPositionFields {
		return 0, fmt.Errorf("%w: position report has %d fields, need %d", ErrMalformedResponse, len(fields), minPositionFields)
	}
	return float64(fields[7]+256*fields[8]) / 10, nil
}

// FormatFrame renders a frame as lowercase hex for logs.
func FormatFrame(frame []byte) string {
	return hex.EncodeToString(frame)
}

// ModelNamePrefix starts the advertised name of every Smartview motor.
const ModelNamePrefix = "TS"

// SpeedControlModels lists the motor models that accept speed frames.
var SpeedControlModels = []string{"TS5200", "TS5101", "TS5001"}

// SupportsSpeedControl reports whether model (the advertised name) accepts speed frames.
func SupportsSpeedControl(model string) bool {
	model = strings.ToUpper(strings.TrimSpace(model))
	for _, m := range SpeedControlModels {
		if strings.HasPrefix(model, m) {
			return true
		}
	}
	return false
}
