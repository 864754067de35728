package blind

import (
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrBusy is returned when a move is requested while another is in flight.
	ErrBusy = errors.New("blind is busy, wait for the current command to finish")
	// ErrStopFailed is a soft error: the stop frame could not be delivered.
	ErrStopFailed = errors.New("stop command failed")

	ErrInvalidHost = errors.New("invalid host")
	ErrInvalidName = errors.New("invalid name")
)

var macPattern = regexp.MustCompile(`^([A-F0-9]{2}:){5}[A-F0-9]{2}$`)

// ValidateAddress accepts a MAC address or a CoreBluetooth peripheral identifier.
func ValidateAddress(address string) error {
	address = strings.ToUpper(strings.TrimSpace(address))
	if macPattern.MatchString(address) {
		return nil
	}
	if _, err := uuid.Parse(address); err == nil && len(address) == 36 {
		return nil
	}
	return ErrInvalidHost
}

// ValidateName rejects empty names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}
