package main

import (
	"errors"
	"fmt"

	"github.com/srg/tuiss/internal/device"
	"github.com/srg/tuiss/internal/protocol"
	"github.com/srg/tuiss/pkg/blind"
	"github.com/srg/tuiss/pkg/config"
)

// Command-level errors
var (
	// ErrNoBlindSelected indicates neither --address nor --blind was given and the
	// config does not name exactly one blind.
	ErrNoBlindSelected = errors.New("no blind selected")
	// ErrNoBlindsConfigured is returned by commands that act on every configured blind.
	ErrNoBlindsConfigured = errors.New("no blinds configured")
)

// FormatUserError turns the error taxonomy into a message for the terminal.
func FormatUserError(err error) string {
	var hint string
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "Bluetooth appears to be off; turn it on and retry"
	case errors.Is(err, device.ErrDeviceNotFound):
		hint = "blind not found; check the address and that the motor is in range (try 'tuiss scan')"
	case errors.Is(err, device.ErrConnectionTimeout):
		hint = "the blind did not respond; it may be out of range or connected to another controller"
	case errors.Is(err, device.ErrNotConnected):
		hint = "connection to the blind was lost"
	case errors.Is(err, blind.ErrBusy):
		hint = "the blind is still moving; wait for it or run 'tuiss stop'"
	case errors.Is(err, blind.ErrInvalidHost):
		hint = "invalid address; expected " + exampleDeviceAddress
	case errors.Is(err, protocol.ErrUnknownSpeed):
		hint = "unknown speed"
	case errors.Is(err, ErrNoBlindSelected), errors.Is(err, config.ErrNoBlind):
		hint = "select a blind with --address or with --blind and --config"
	default:
		return err.Error()
	}
	return fmt.Sprintf("%s (%v)", hint, err)
}
