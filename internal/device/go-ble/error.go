package goble

import (
	"fmt"

	"github.com/srg/tuiss/internal/device"
)

// invalidStateOff is the CoreBluetooth message for a powered-off adapter.
const invalidStateOff = "central manager has invalid state: have=4 want=5: is Bluetooth turned on?"

// NormalizeError maps known go-ble error strings to structured ConnectionError types.
// It ensures consistent handling even if the upstream library changes messages slightly.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == invalidStateOff {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	}
	return device.NormalizeError(err)
}
